package vault

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"clipvault/internal/clip"
)

// FileSystemVault stores snapshots under a directory, typically a mounted
// remote share:
//
//	<root>/
//	  <hostID>/
//	    <name>          snapshot bytes
//	    <name>.version  decimal version
type FileSystemVault struct {
	name string
	root string
}

var _ clip.Vault = (*FileSystemVault)(nil)

// NewFileSystemVault creates a vault rooted at root, creating it if needed.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vault root: %w", err)
	}
	return &FileSystemVault{name: name, root: root}, nil
}

func (v *FileSystemVault) PutSnapshot(_ context.Context, hostID, name string, r io.Reader, size, version int64) error {
	dir := filepath.Join(v.root, hostID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create host directory: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, name), r, size); err != nil {
		return err
	}
	versionData := strings.NewReader(strconv.FormatInt(version, 10))
	return writeFileAtomic(filepath.Join(dir, name+".version"), versionData, versionData.Size())
}

func (v *FileSystemVault) GetSnapshot(_ context.Context, hostID, name string, w io.Writer) error {
	f, err := os.Open(filepath.Join(v.root, hostID, name))
	if err != nil {
		if os.IsNotExist(err) {
			return notFound(hostID, name)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

func (v *FileSystemVault) SnapshotVersion(_ context.Context, hostID, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(v.root, hostID, name+".version"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the root is a writable directory.
func (v *FileSystemVault) ValidateSetup(context.Context) error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}
	probe, err := os.CreateTemp(v.root, ".tmp-probe-*")
	if err != nil {
		return fmt.Errorf("vault root not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// writeFileAtomic writes r to destPath through a temp file and rename, and
// fails if the byte count differs from expectedSize.
func writeFileAtomic(destPath string, r io.Reader, expectedSize int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return sizeMismatch(expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
