package task

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is a unit of recurring work with its own scheduling state.
//
// All mutable fields are guarded by mu: the scheduler loop, manual triggers
// from the HTTP surface, and config-driven enable/disable may touch a task
// concurrently.
type Task struct {
	name          string
	interval      time.Duration
	delayFirstRun bool
	body          Runner

	now func() time.Time // swappable in tests

	mu            sync.Mutex
	enabled       bool
	running       bool
	lastRun       time.Time
	nextRun       time.Time
	manualTrigger bool
}

type Option func(*Task)

// WithDelayFirstRun defers the first run by one interval instead of firing
// immediately. It also permanently switches the task into explicit-time mode:
// nextRun is seeded at construction and advanced after every completed run.
func WithDelayFirstRun() Option {
	return func(t *Task) { t.delayFirstRun = true }
}

// New constructs an enabled, idle task. Name must be unique within a
// scheduler; interval must be > 0 (the jobs registry validates config-sourced
// values before calling New).
func New(name string, interval time.Duration, body Runner, opts ...Option) *Task {
	t := &Task{
		name:     strings.TrimSpace(name),
		interval: interval,
		body:     body,
		enabled:  true,
		now:      time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	if t.delayFirstRun {
		t.nextRun = t.now().Add(t.interval)
	}
	return t
}

func (t *Task) Name() string            { return t.name }
func (t *Task) Interval() time.Duration { return t.interval }

// ShouldRun reports whether the task is due right now.
//
// Order matters: disabled/running always wins, then a pending manual trigger,
// then explicit-time mode, then the diff-mode comparison. A task that has
// never run is due unconditionally in diff mode.
func (t *Task) ShouldRun() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shouldRunLocked(t.now())
}

func (t *Task) shouldRunLocked(now time.Time) bool {
	if !t.enabled || t.running {
		return false
	}
	if t.manualTrigger {
		return true
	}
	if !t.nextRun.IsZero() {
		return !now.Before(t.nextRun)
	}
	if t.lastRun.IsZero() {
		return true
	}
	return now.Sub(t.lastRun) >= t.interval
}

// Execute runs the job body if the task is due.
//
// If the task is not due (disabled, already running, or simply not yet time)
// a skipped Result is returned and no state changes. Otherwise the body runs
// to completion and the finalizer always fires: lastRun is stamped, the
// running flag and a consumed manual trigger are cleared, and the next run is
// rescheduled. Errors and panics from the body are folded into the Result and
// never escape.
func (t *Task) Execute(ctx context.Context) Result {
	t.mu.Lock()
	started := t.now()
	if !t.shouldRunLocked(started) {
		t.mu.Unlock()
		return Result{Task: t.name, Status: StatusSkipped, Started: started}
	}
	t.running = true
	t.mu.Unlock()

	res := Result{
		RunID:   uuid.New().String(),
		Task:    t.name,
		Started: started,
	}

	details, err := runBody(ctx, t.body)

	t.mu.Lock()
	finished := t.now()
	res.Duration = finished.Sub(started)
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
	} else {
		res.Status = StatusSuccess
		res.Details = details
	}
	t.lastRun = finished
	t.running = false
	t.manualTrigger = false
	t.scheduleNextRunLocked(finished)
	t.mu.Unlock()

	return res
}

func runBody(ctx context.Context, body Runner) (details Fields, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if body == nil {
		return nil, fmt.Errorf("task has no job body")
	}
	return body.Run(ctx)
}

// scheduleNextRunLocked advances nextRun by one interval after a completed
// run, but only for tasks already in explicit-time mode. Diff-mode tasks
// (constructed without WithDelayFirstRun) keep nextRun unset for their whole
// lifetime; status consumers distinguish the two modes by whether nextRun is
// set, so a diff-mode task never switches modes here.
func (t *Task) scheduleNextRunLocked(now time.Time) {
	if t.delayFirstRun || !t.nextRun.IsZero() {
		t.nextRun = now.Add(t.interval)
	}
}

// TriggerManualRun marks the task due for the next tick regardless of timing.
// It refuses (returns false) while a run is in flight; the no-overlap guard
// is never bypassed.
func (t *Task) TriggerManualRun() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	t.manualTrigger = true
	return true
}

func (t *Task) Enable() {
	t.mu.Lock()
	t.enabled = true
	t.mu.Unlock()
}

func (t *Task) Disable() {
	t.mu.Lock()
	t.enabled = false
	t.mu.Unlock()
}

func (t *Task) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Task) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Info is a read-only snapshot for status surfaces (HTTP API, logs).
type Info struct {
	Name          string        `json:"name"`
	Interval      time.Duration `json:"interval"`
	Enabled       bool          `json:"enabled"`
	Running       bool          `json:"running"`
	LastRun       *time.Time    `json:"last_run,omitempty"`
	NextRun       *time.Time    `json:"next_run,omitempty"`
	NextRunIn     time.Duration `json:"next_run_in"`
	DelayFirstRun bool          `json:"delay_first_run"`
	ManualPending bool          `json:"manual_pending"`
}

// Info returns a point-in-time snapshot. NextRunIn is derived: explicit-time
// tasks report time until nextRun, diff-mode tasks report time until
// lastRun+interval, and a never-run diff-mode task is due now (0).
func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	info := Info{
		Name:          t.name,
		Interval:      t.interval,
		Enabled:       t.enabled,
		Running:       t.running,
		DelayFirstRun: t.delayFirstRun,
		ManualPending: t.manualTrigger,
	}
	if !t.lastRun.IsZero() {
		lr := t.lastRun
		info.LastRun = &lr
	}
	if !t.nextRun.IsZero() {
		nr := t.nextRun
		info.NextRun = &nr
		info.NextRunIn = maxDuration(0, nr.Sub(now))
		return info
	}
	if t.lastRun.IsZero() {
		return info // due now
	}
	info.NextRunIn = maxDuration(0, t.lastRun.Add(t.interval).Sub(now))
	return info
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
