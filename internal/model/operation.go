package model

import (
	"time"
)

// OperationRecord is one audit-log entry: a command executed against a
// target and its outcome.
type OperationRecord struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	Success    bool      `json:"success"`
	Stdout     string    `json:"stdout,omitempty"`
	Stderr     string    `json:"stderr,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// OperationFilter holds filter criteria for the audit log
type OperationFilter struct {
	TargetID string // Only operations against this target
	Limit    int    // Most recent N records (0 means all)
}
