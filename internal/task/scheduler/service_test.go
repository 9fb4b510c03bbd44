package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paperbase/internal/eventbus"
	"paperbase/internal/storage"
	"paperbase/internal/task"
	logx "paperbase/pkg/logx"
)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	return New(cfg, logx.Nop(), nil, nil, nil)
}

func countingBody(mu *sync.Mutex, n *int) task.Runner {
	return task.RunnerFunc(func(context.Context) (task.Fields, error) {
		mu.Lock()
		*n++
		mu.Unlock()
		return nil, nil
	})
}

func TestAddTaskValidation(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{})

	if err := s.AddTask(nil); !errors.Is(err, ErrNilTask) {
		t.Fatalf("nil task: got %v", err)
	}
	if err := s.AddTask(task.New("  ", time.Minute, nil)); !errors.Is(err, ErrUnnamedTask) {
		t.Fatalf("unnamed task: got %v", err)
	}
	if err := s.AddTask(task.New("sync", time.Minute, nil)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddTask(task.New("sync", time.Hour, nil)); !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("duplicate: got %v", err)
	}
}

func TestRunOnceExecutesInRegistrationOrder(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{})

	var mu sync.Mutex
	var order []string
	body := func(name string) task.Runner {
		return task.RunnerFunc(func(context.Context) (task.Fields, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		})
	}
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if err := s.AddTask(task.New(name, time.Hour, body(name))); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}

	sum := s.RunOnce(context.Background())
	if sum.Executed != 3 {
		t.Fatalf("executed = %d, want 3", sum.Executed)
	}
	want := []string{"charlie", "alpha", "bravo"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

// Steady state: a due task runs once per pass, then skips until its interval
// elapses again.
func TestRunOnceCadence(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{})

	var mu sync.Mutex
	runs := 0
	if err := s.AddTask(task.New("sync", time.Hour, countingBody(&mu, &runs))); err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx := context.Background()
	first := s.RunOnce(ctx)
	if first.Executed != 1 {
		t.Fatalf("first pass executed = %d, want 1", first.Executed)
	}
	second := s.RunOnce(ctx)
	if second.Executed != 0 {
		t.Fatalf("second pass executed = %d, want 0", second.Executed)
	}
	if len(second.Results) != 1 || second.Results[0].Status != task.StatusSkipped {
		t.Fatalf("second pass results = %+v, want one skip", second.Results)
	}
	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
}

// Manual trigger: a not-yet-due task runs on the next pass after the trigger,
// exactly once.
func TestManualTriggerRunsNextPass(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{})

	var mu sync.Mutex
	runs := 0
	tk := task.New("sync", 24*time.Hour, countingBody(&mu, &runs))
	if err := s.AddTask(tk); err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx := context.Background()
	s.RunOnce(ctx)
	if sum := s.RunOnce(ctx); sum.Executed != 0 {
		t.Fatal("task must not be due right after running")
	}

	if !tk.TriggerManualRun() {
		t.Fatal("trigger must succeed on idle task")
	}
	if sum := s.RunOnce(ctx); sum.Executed != 1 {
		t.Fatal("triggered task must run on the next pass")
	}
	if sum := s.RunOnce(ctx); sum.Executed != 0 {
		t.Fatal("trigger must fire exactly once")
	}

	mu.Lock()
	defer mu.Unlock()
	if runs != 2 {
		t.Fatalf("runs = %d, want 2", runs)
	}
}

// A failing task does not disturb the pass: later tasks still run and the
// failure lands in the summary.
func TestFailingTaskDoesNotBreakPass(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{})

	if err := s.AddTask(task.New("broken", time.Hour, task.RunnerFunc(func(context.Context) (task.Fields, error) {
		return nil, errors.New("feed unreachable")
	}))); err != nil {
		t.Fatalf("add: %v", err)
	}
	var mu sync.Mutex
	runs := 0
	if err := s.AddTask(task.New("healthy", time.Hour, countingBody(&mu, &runs))); err != nil {
		t.Fatalf("add: %v", err)
	}

	sum := s.RunOnce(context.Background())
	if sum.Executed != 2 {
		t.Fatalf("executed = %d, want 2", sum.Executed)
	}
	if !sum.Results[0].Failed() {
		t.Fatalf("first result = %+v, want failure", sum.Results[0])
	}
	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Fatal("healthy task must still run after a failure")
	}
}

// Quiescence: disabled tasks produce skips and nothing else.
func TestDisabledTasksAreQuiescent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{}, logx.Nop(), bus, nil, nil)
	var mu sync.Mutex
	runs := 0
	tk := task.New("sync", time.Minute, countingBody(&mu, &runs))
	tk.Disable()
	if err := s.AddTask(tk); err != nil {
		t.Fatalf("add: %v", err)
	}

	for i := 0; i < 3; i++ {
		if sum := s.RunOnce(context.Background()); sum.Executed != 0 {
			t.Fatal("disabled task must not execute")
		}
	}
	mu.Lock()
	if runs != 0 {
		mu.Unlock()
		t.Fatal("disabled task body must never run")
	}
	mu.Unlock()
	select {
	case e := <-events:
		t.Fatalf("unexpected event %q during quiescence", e.Type)
	default:
	}
}

func TestRunOnceRecordsHistory(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir() + "/runs.db"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	s := New(Config{}, logx.Nop(), nil, st, nil)
	if err := s.AddTask(task.New("sync", time.Hour, task.RunnerFunc(func(context.Context) (task.Fields, error) {
		return task.Fields{"items": 7}, nil
	}))); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.RunOnce(context.Background())

	runs, err := st.RecentRuns(context.Background(), "sync", 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d records, want 1", len(runs))
	}
	if runs[0].Status != "success" || runs[0].RunID == "" {
		t.Fatalf("record = %+v", runs[0])
	}
}

func TestRunLoopStopAndWait(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{CheckInterval: 10 * time.Millisecond})

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	if err := s.AddTask(task.New("slow", time.Hour, task.RunnerFunc(func(context.Context) (task.Fields, error) {
		once.Do(func() { close(started) })
		<-release
		return nil, nil
	}))); err != nil {
		t.Fatalf("add: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	<-started
	if !s.IsRunning() {
		t.Fatal("loop must report running")
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run: got %v", err)
	}

	// The in-flight task must complete before StopAndWait returns.
	waitErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		waitErr <- s.StopAndWait(ctx)
	}()

	select {
	case err := <-waitErr:
		t.Fatalf("StopAndWait returned %v while a run was in flight", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-waitErr; err != nil {
		t.Fatalf("StopAndWait: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Run returned %v, want nil on clean stop", err)
	}
	if s.IsRunning() {
		t.Fatal("loop must report stopped")
	}

	// Stop after exit is a no-op.
	s.Stop()
	s.Stop()
}

func TestRunLoopContextCancel(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{CheckInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on context cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after context cancel")
	}
}

func TestStopAndWaitBeforeStart(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{})
	if err := s.StopAndWait(context.Background()); err != nil {
		t.Fatalf("StopAndWait on never-started scheduler: %v", err)
	}
}

func TestRemoveTask(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{})
	if err := s.AddTask(task.New("sync", time.Minute, nil)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !s.RemoveTask("sync") {
		t.Fatal("remove existing task must return true")
	}
	if s.RemoveTask("sync") {
		t.Fatal("remove missing task must return false")
	}
	if got := s.Status().TotalTasks; got != 0 {
		t.Fatalf("TotalTasks = %d, want 0", got)
	}
}

func TestStatusCounts(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{CheckInterval: time.Second})

	enabled := task.New("a", time.Minute, nil)
	disabled := task.New("b", time.Minute, nil)
	disabled.Disable()
	for _, tk := range []*task.Task{enabled, disabled} {
		if err := s.AddTask(tk); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	st := s.Status()
	if st.Running {
		t.Fatal("not started, Running must be false")
	}
	if st.TotalTasks != 2 || st.EnabledTasks != 1 || st.RunningTasks != 0 {
		t.Fatalf("status = %+v", st)
	}
	if st.CheckInterval != time.Second {
		t.Fatalf("CheckInterval = %v", st.CheckInterval)
	}
}
