package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNewRejectsBrokenConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown field", body: "schduler: {}\n"},
		{name: "bad schedule", body: "jobs:\n  x:\n    type: feedpoll\n    schedule: soonish\n"},
		{name: "unknown job type", body: "jobs:\n  x:\n    type: mystery\n    schedule: 5m\n"},
		{name: "prune without storage", body: "jobs:\n  prune:\n    schedule: 5m\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestStartStopCycle(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := `
logging:
  level: error
  console: false
scheduler:
  check_interval: 20ms
engine:
  shutdown_timeout: 2s
storage:
  driver: file
  path: ` + filepath.Join(dir, "paperbase.db") + `
jobs:
  prune:
    schedule: 1h
`
	a, err := New(writeConfig(t, cfg))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Give the loop at least one tick so prune runs.
	deadline := time.After(2 * time.Second)
	for {
		infos := a.Engine().ListTasks()
		if len(infos) == 1 && infos[0].LastRun != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("prune never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer scancel()
	if err := a.Stop(sctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSchedulerDisabledDoesNotRunTasks(t *testing.T) {
	t.Parallel()
	cfg := `
logging:
  console: false
scheduler:
  enabled: false
  check_interval: 10ms
jobs: {}
`
	a, err := New(writeConfig(t, cfg))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.Engine().IsRunning() {
		t.Fatal("engine must not run when the scheduler is disabled")
	}
	sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	if err := a.Stop(sctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
