package testutil

import "sync/atomic"

// RecordingNotifier counts Notify calls and signals each one on C without blocking.
type RecordingNotifier struct {
	count atomic.Int64
	C     chan struct{}
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{C: make(chan struct{}, 64)}
}

func (n *RecordingNotifier) Notify() {
	n.count.Add(1)
	select {
	case n.C <- struct{}{}:
	default:
	}
}

// Count returns the number of Notify calls so far.
func (n *RecordingNotifier) Count() int64 {
	return n.count.Load()
}
