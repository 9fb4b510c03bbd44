package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures run-history storage.
//
// Driver values:
//   - "file": dependency-free JSON Lines backend
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retention   time.Duration // how long run records are kept; 0 means forever
}

// RunRecord is one persisted task execution.
// Keep it compact and schema-stable.
type RunRecord struct {
	RunID    string        `json:"run_id"`
	Task     string        `json:"task"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Details  string        `json:"details,omitempty"` // JSON payload from the job body
}
