package model

import "time"

// RunStatus represents the server-side status of a run.
type RunStatus int

const (
	RunStarted RunStatus = iota + 1
	RunFinished
	RunAborted
	RunTimeout
)

func (s RunStatus) String() string {
	switch s {
	case RunStarted:
		return "started"
	case RunFinished:
		return "finished"
	case RunAborted:
		return "aborted"
	case RunTimeout:
		return "timeout"
	}
	return "unknown"
}

// Run represents a reporting session on the remote service. It is created
// once per test session and updated exactly once at session end.
type Run struct {
	// Server-assigned run ID (0 until created)
	RunID int64 `json:"run_id,omitempty"`
	// Display name of the run
	Name string `json:"name"`
	// Timestamp when the run started
	StartedAt time.Time `json:"started_at,omitzero"`
	// Timestamp when the run ended
	EndedAt time.Time `json:"ended_at,omitzero"`
	// Current run status
	Status RunStatus `json:"status,omitempty"`
	// Free-form run attributes
	Attributes map[string]any `json:"attributes,omitempty"`
}
