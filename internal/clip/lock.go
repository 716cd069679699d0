package clip

import "sync"

// DirLock serialises mutations of the backup directory. The checksum store
// holds it for one whole store operation and the eviction monitor for one
// delete, so the two never interleave at file granularity.
type DirLock struct {
	mu sync.Mutex
}

// NewDirLock returns an unlocked DirLock.
func NewDirLock() *DirLock {
	return &DirLock{}
}

// Do runs fn while holding the lock.
func (l *DirLock) Do(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}
