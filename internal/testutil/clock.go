package testutil

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"clipvault/internal/clip"
)

// Epoch is the instant FixedClock starts at: 2024-01-15 10:30:00 UTC.
var Epoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a manually driven clip.Clock. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ clip.Clock = (*StubClock)(nil)

// NewStubClock creates a StubClock set to t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t.UTC()}
}

// FixedClock returns a StubClock set to Epoch.
func FixedClock() *StubClock {
	return NewStubClock(Epoch)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Artifacts stored after an Advance
// sort after those stored before it.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// StubIDGenerator hands out record UUIDs "id-1", "id-2", ... in call order.
type StubIDGenerator struct {
	n atomic.Int64
}

var _ clip.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	return "id-" + strconv.FormatInt(g.n.Add(1), 10)
}

// Issued reports how many IDs have been handed out.
func (g *StubIDGenerator) Issued() int64 {
	return g.n.Load()
}
