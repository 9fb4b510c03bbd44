package scheduler

import (
	"time"

	"paperbase/internal/task"
)

const DefaultCheckInterval = 30 * time.Second

// Config controls the polling scheduler.
type Config struct {
	Enabled       bool
	CheckInterval time.Duration // 0 means DefaultCheckInterval
}

func (c Config) checkInterval() time.Duration {
	if c.CheckInterval > 0 {
		return c.CheckInterval
	}
	return DefaultCheckInterval
}

// TickSummary is the outcome of one poll pass over all registered tasks.
//
// Executed counts tasks that were actually dispatched; Results carries every
// per-task outcome including skips.
type TickSummary struct {
	At       time.Time
	Executed int
	Results  []task.Result
}

// Status is a point-in-time diagnostic snapshot.
type Status struct {
	Running       bool          `json:"running"`
	CheckInterval time.Duration `json:"check_interval"`
	TotalTasks    int           `json:"total_tasks"`
	EnabledTasks  int           `json:"enabled_tasks"`
	RunningTasks  int           `json:"running_tasks"`
}
