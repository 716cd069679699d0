package clip

// Notifier receives "history changed" signals from ingestion.
// Notify must never block.
type Notifier interface {
	Notify()
}

// NopNotifier drops every signal.
type NopNotifier struct{}

func (NopNotifier) Notify() {}
