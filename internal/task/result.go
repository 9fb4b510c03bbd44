package task

import (
	"context"
	"time"
)

// Fields is the free-form result payload a job body reports on success
// (counts, durations of sub-steps, upstream identifiers, ...).
type Fields map[string]any

// Runner is the job body contract. Concrete jobs (feed polling, store
// pruning, ...) implement only this; all scheduling state lives in Task.
type Runner interface {
	Run(ctx context.Context) (Fields, error)
}

// RunnerFunc adapts a plain function to a Runner.
type RunnerFunc func(ctx context.Context) (Fields, error)

func (f RunnerFunc) Run(ctx context.Context) (Fields, error) { return f(ctx) }

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Result is the outcome of one Execute call.
//
// RunID is set only when the body was actually dispatched; skipped results
// carry no run ID.
type Result struct {
	RunID    string        `json:"run_id,omitempty"`
	Task     string        `json:"task"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Details  Fields        `json:"details,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the run ended in an error.
func (r Result) Failed() bool { return r.Status == StatusError }
