package testutil

import "sync"

// RecordingLogger keeps every message as "LEVEL message" so tests can assert
// that something was logged. Safe for concurrent use.
type RecordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *RecordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+msg)
}

func (l *RecordingLogger) Debug(msg string, _ ...any) { l.record("DEBUG", msg) }
func (l *RecordingLogger) Info(msg string, _ ...any)  { l.record("INFO", msg) }
func (l *RecordingLogger) Warn(msg string, _ ...any)  { l.record("WARN", msg) }
func (l *RecordingLogger) Error(msg string, _ ...any) { l.record("ERROR", msg) }

// Logged reports whether msg was logged at level.
func (l *RecordingLogger) Logged(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if line == level+" "+msg {
			return true
		}
	}
	return false
}
