// Package vault stores encrypted history snapshots off-host. Three backends
// exist: memory (tests), a local or mounted directory, and S3.
package vault

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by GetSnapshot when nothing was stored under the name.
var ErrNotFound = errors.New("snapshot not found")

func notFound(hostID, name string) error {
	return fmt.Errorf("%w: %s/%s", ErrNotFound, hostID, name)
}

func sizeMismatch(want, got int64) error {
	return fmt.Errorf("size mismatch: expected %d bytes, got %d", want, got)
}
