// Package scheduler drives registered tasks with a single polling loop.
//
// Each tick walks the tasks in registration order and asks every one to
// execute; a task that is not due reports a skip and nothing happens. There is
// no worker pool: ticks are sequential, so at most one task body runs at a
// time and a long-running task delays the rest of the tick.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"paperbase/internal/eventbus"
	"paperbase/internal/metrics"
	"paperbase/internal/storage"
	"paperbase/internal/task"
	logx "paperbase/pkg/logx"
)

type Service struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Set

	mu       sync.Mutex
	tasks    map[string]*task.Task
	order    []string
	running  bool
	stopCh   chan struct{}
	loopDone chan struct{}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store, m *metrics.Set) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		store:   store,
		metrics: m,
		tasks:   map[string]*task.Task{},
	}
}

// AddTask registers a task. Registration order is dispatch order within a
// tick.
func (s *Service) AddTask(t *task.Task) error {
	if t == nil {
		return ErrNilTask
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return ErrUnnamedTask
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	s.tasks[name] = t
	s.order = append(s.order, name)
	s.log.Debug("task registered",
		logx.String("task", name),
		logx.Duration("interval", t.Interval()))
	return nil
}

// RemoveTask unregisters a task by name. An in-flight run is unaffected; the
// task just stops being considered on future ticks.
func (s *Service) RemoveTask(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; !ok {
		return false
	}
	delete(s.tasks, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *Service) GetTask(name string) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	return t, ok
}

// ListTasks returns snapshots in registration order.
func (s *Service) ListTasks() []task.Info {
	s.mu.Lock()
	tasks := s.snapshotLocked()
	s.mu.Unlock()

	out := make([]task.Info, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Info())
	}
	return out
}

func (s *Service) snapshotLocked() []*task.Task {
	out := make([]*task.Task, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tasks[name])
	}
	return out
}

// RunOnce performs a single poll pass: every registered task, in registration
// order, gets one Execute call. Due tasks run to completion before the next
// task is considered.
func (s *Service) RunOnce(ctx context.Context) TickSummary {
	s.mu.Lock()
	tasks := s.snapshotLocked()
	s.mu.Unlock()

	sum := TickSummary{At: time.Now()}
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		res := t.Execute(ctx)
		sum.Results = append(sum.Results, res)
		if res.Status == task.StatusSkipped {
			continue
		}
		sum.Executed++
		s.observeResult(ctx, res)
	}

	s.metrics.ObserveTick()
	s.updateGauges()
	if sum.Executed > 0 && s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "scheduler.tick", Data: sum})
	}
	return sum
}

func (s *Service) observeResult(ctx context.Context, res task.Result) {
	s.metrics.ObserveRun(res.Task, string(res.Status), res.Duration)

	if res.Failed() {
		s.log.Error("task run failed",
			logx.String("task", res.Task),
			logx.String("run_id", res.RunID),
			logx.String("err", res.Error),
			logx.Duration("took", res.Duration))
	} else {
		s.log.Info("task run completed",
			logx.String("task", res.Task),
			logx.String("run_id", res.RunID),
			logx.Duration("took", res.Duration))
	}

	if s.bus != nil {
		typ := "task.executed"
		if res.Failed() {
			typ = "task.failed"
		}
		s.bus.Publish(eventbus.Event{Type: typ, Data: res})
	}

	if s.store != nil {
		rec := storage.RunRecord{
			RunID:    res.RunID,
			Task:     res.Task,
			Status:   string(res.Status),
			Error:    res.Error,
			Started:  res.Started,
			Duration: res.Duration,
		}
		if len(res.Details) > 0 {
			if b, err := json.Marshal(res.Details); err == nil {
				rec.Details = string(b)
			}
		}
		if err := s.store.RecordRun(ctx, rec); err != nil {
			s.log.Warn("run history write failed",
				logx.String("task", res.Task), logx.Err(err))
		}
	}
}

func (s *Service) updateGauges() {
	if s.metrics == nil {
		return
	}
	st := s.Status()
	s.metrics.SetTaskCounts(st.TotalTasks, st.EnabledTasks, st.RunningTasks)
}

// Run is the blocking scheduler loop. It polls immediately, then once per
// CheckInterval, until the context is canceled or Stop is called; both are
// clean exits. A panic escaping a tick (task panics are contained inside
// Execute, so this means broken scheduler infrastructure) is fatal: the loop
// returns the error and is NOT restarted.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	stopCh := make(chan struct{})
	done := make(chan struct{})
	s.stopCh = stopCh
	s.loopDone = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.stopCh = nil
		s.mu.Unlock()
		close(done)
	}()

	interval := s.cfg.checkInterval()
	s.log.Info("scheduler started", logx.Duration("check_interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.safeTick(ctx); err != nil {
			s.log.Error("scheduler loop failed", logx.Err(err))
			return err
		}
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped", logx.String("reason", "context canceled"))
			return nil
		case <-stopCh:
			s.log.Info("scheduler stopped", logx.String("reason", "stop requested"))
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Service) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler tick panic: %v", r)
		}
	}()
	s.RunOnce(ctx)
	return nil
}

// Stop signals the loop to exit after the current tick. Safe to call any
// number of times, including when the loop never started.
func (s *Service) Stop() {
	s.mu.Lock()
	ch := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// StopAndWait stops the loop and blocks until it has fully exited, so any
// in-flight task run has completed. The context bounds the wait.
func (s *Service) StopAndWait(ctx context.Context) error {
	s.mu.Lock()
	done := s.loopDone
	s.mu.Unlock()

	s.Stop()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) Status() Status {
	s.mu.Lock()
	tasks := s.snapshotLocked()
	running := s.running
	s.mu.Unlock()

	st := Status{
		Running:       running,
		CheckInterval: s.cfg.checkInterval(),
		TotalTasks:    len(tasks),
	}
	for _, t := range tasks {
		if t.Enabled() {
			st.EnabledTasks++
		}
		if t.IsRunning() {
			st.RunningTasks++
		}
	}
	return st
}
