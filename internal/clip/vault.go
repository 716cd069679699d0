package clip

import (
	"context"
	"io"
)

// Vault is an off-host destination for history database snapshots.
// Snapshots stream through io.Reader/io.Writer so large databases are never
// held in memory.
type Vault interface {
	// PutSnapshot stores a named snapshot for a host. size is the number of
	// bytes that will be read from r. version is kept alongside so a later
	// push can tell whether the vault copy is current.
	PutSnapshot(ctx context.Context, hostID, name string, r io.Reader, size, version int64) error

	// GetSnapshot writes a stored snapshot to w.
	GetSnapshot(ctx context.Context, hostID, name string, w io.Writer) error

	// SnapshotVersion returns the stored version, or 0 if nothing was stored.
	SnapshotVersion(ctx context.Context, hostID, name string) (int64, error)

	// ValidateSetup verifies that the vault is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
