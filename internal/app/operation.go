package app

import (
	"strings"
	"time"
)

// Operation identifies one CLI invocation in the log. Every line written
// during the invocation carries its RunID.
type Operation struct {
	Name      string
	StartedAt time.Time
	Status    string // "success" or "error"
}

// NewOperation creates an operation that has not failed yet.
func NewOperation(name string, startedAt time.Time) *Operation {
	return &Operation{
		Name:      name,
		StartedAt: startedAt.UTC(),
		Status:    "success",
	}
}

// RunID is the lowercased name joined to the start time, e.g. "run-20240115T103000Z".
func (op *Operation) RunID() string {
	name := strings.ToLower(strings.TrimSpace(op.Name))
	if name == "" {
		name = "op"
	}
	return name + "-" + op.StartedAt.Format("20060102T150405Z")
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = "error"
}
