package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"clipvault/internal/clip"
)

type memorySnapshot struct {
	data    []byte
	version int64
}

// MemoryVault keeps snapshots in memory. Safe for concurrent use.
type MemoryVault struct {
	name      string
	mu        sync.RWMutex
	snapshots map[string]memorySnapshot // "hostID/name"
}

var _ clip.Vault = (*MemoryVault)(nil)

func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{name: name, snapshots: make(map[string]memorySnapshot)}
}

func snapshotKey(hostID, name string) string {
	return hostID + "/" + name
}

func (m *MemoryVault) PutSnapshot(_ context.Context, hostID, name string, r io.Reader, size, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return sizeMismatch(size, int64(len(data)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshotKey(hostID, name)] = memorySnapshot{data: data, version: version}
	return nil
}

func (m *MemoryVault) GetSnapshot(_ context.Context, hostID, name string, w io.Writer) error {
	m.mu.RLock()
	s, ok := m.snapshots[snapshotKey(hostID, name)]
	m.mu.RUnlock()
	if !ok {
		return notFound(hostID, name)
	}
	if _, err := io.Copy(w, bytes.NewReader(s.data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (m *MemoryVault) SnapshotVersion(_ context.Context, hostID, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[snapshotKey(hostID, name)].version, nil
}

func (m *MemoryVault) ValidateSetup(context.Context) error {
	return nil
}
