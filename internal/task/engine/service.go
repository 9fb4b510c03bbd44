// Package engine ties the scheduler to the process lifecycle: OS signals,
// systemd readiness, and graceful drain on shutdown.
package engine

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"paperbase/internal/runtime/supervisor"
	"paperbase/internal/task"
	"paperbase/internal/task/scheduler"
	logx "paperbase/pkg/logx"
)

type Service struct {
	cfg   Config
	log   logx.Logger
	sched *scheduler.Service

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
}

func New(cfg Config, sched *scheduler.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, sched: sched}
}

// Run blocks until the engine shuts down: on SIGINT/SIGTERM, on Shutdown(),
// on parent context cancellation, or when the scheduler loop dies. In every
// case the scheduler is drained (bounded by ShutdownTimeout) before Run
// returns. A scheduler loop failure is returned as the error; clean shutdowns
// return nil.
func (e *Service) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	runCtx, cancel := context.WithCancel(sigCtx)
	e.running = true
	e.startedAt = time.Now()
	e.cancel = cancel
	e.mu.Unlock()

	defer func() {
		stopSignals()
		cancel()
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		e.mu.Unlock()
	}()

	sup := supervisor.New(runCtx,
		supervisor.WithLogger(e.log),
		supervisor.WithCancelOnError(true))

	loopExited := make(chan struct{})
	sup.Go("scheduler.loop", func(ctx context.Context) error {
		defer close(loopExited)
		return e.sched.Run(ctx)
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	e.log.Info("engine started")
	defer e.log.Info("engine stopped")

	select {
	case <-sup.Context().Done():
	case <-loopExited:
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	e.log.Info("engine shutting down")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), e.cfg.shutdownTimeout())
	defer drainCancel()
	if err := e.sched.StopAndWait(drainCtx); err != nil {
		e.log.Warn("scheduler drain incomplete", logx.Err(err))
	}

	cancel()
	return sup.Wait(drainCtx)
}

// Handle tracks a background engine run.
type Handle struct {
	done chan struct{}
	err  error
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the engine has exited or ctx expires.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunInBackground starts Run on its own goroutine and returns a handle the
// caller can wait on.
func (e *Service) RunInBackground(ctx context.Context) *Handle {
	h := &Handle{done: make(chan struct{})}
	go func() {
		h.err = e.Run(ctx)
		close(h.done)
	}()
	return h
}

// Shutdown requests a graceful stop of a running engine. Safe to call any
// number of times and before Run has started.
func (e *Service) Shutdown() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Service) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Service) Status() Status {
	e.mu.Lock()
	running := e.running
	startedAt := e.startedAt
	e.mu.Unlock()

	st := Status{Running: running, Scheduler: e.sched.Status()}
	if running {
		t := startedAt
		st.StartedAt = &t
	}
	return st
}

// ---- Task management passthrough ----

func (e *Service) AddTask(t *task.Task) error  { return e.sched.AddTask(t) }
func (e *Service) RemoveTask(name string) bool { return e.sched.RemoveTask(name) }
func (e *Service) ListTasks() []task.Info      { return e.sched.ListTasks() }
func (e *Service) RunOnce(ctx context.Context) scheduler.TickSummary {
	return e.sched.RunOnce(ctx)
}

// TriggerTask flags a task for execution on the next poll pass.
func (e *Service) TriggerTask(name string) error {
	t, ok := e.sched.GetTask(name)
	if !ok {
		return ErrUnknownTask
	}
	if !t.TriggerManualRun() {
		return ErrTriggerRefused
	}
	return nil
}

func (e *Service) EnableTask(name string) error {
	t, ok := e.sched.GetTask(name)
	if !ok {
		return ErrUnknownTask
	}
	t.Enable()
	return nil
}

func (e *Service) DisableTask(name string) error {
	t, ok := e.sched.GetTask(name)
	if !ok {
		return ErrUnknownTask
	}
	t.Disable()
	return nil
}

func (e *Service) TaskInfo(name string) (task.Info, error) {
	t, ok := e.sched.GetTask(name)
	if !ok {
		return task.Info{}, ErrUnknownTask
	}
	return t.Info(), nil
}
