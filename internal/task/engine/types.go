package engine

import (
	"time"

	"paperbase/internal/task/scheduler"
)

const DefaultShutdownTimeout = 10 * time.Second

// Config controls process-level behavior. Scheduling knobs live in
// scheduler.Config.
type Config struct {
	ShutdownTimeout time.Duration // bound on the graceful drain; 0 means default
}

func (c Config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeout > 0 {
		return c.ShutdownTimeout
	}
	return DefaultShutdownTimeout
}

// Status is the engine-level diagnostic snapshot.
type Status struct {
	Running   bool             `json:"running"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	Scheduler scheduler.Status `json:"scheduler"`
}
