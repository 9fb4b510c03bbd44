package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"paperbase/internal/config"
	"paperbase/internal/storage"
	logx "paperbase/pkg/logx"
)

func TestBuildFromConfig(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "runs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	decls := map[string]config.Job{
		"feed-poll": {
			Type:          "feedpoll",
			Schedule:      "55m",
			DelayFirstRun: true,
			Options:       json.RawMessage(`{"url":"https://example.org/feed"}`),
		},
		"prune": {
			Enabled:  boolPtr(false),
			Schedule: "@daily",
		},
	}

	tasks, err := Build(decls, Deps{Log: logx.Nop(), Store: st})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}

	// Sorted by name.
	if tasks[0].Name() != "feed-poll" || tasks[1].Name() != "prune" {
		t.Fatalf("order = %s, %s", tasks[0].Name(), tasks[1].Name())
	}
	if tasks[0].Interval() != 55*time.Minute {
		t.Fatalf("feed-poll interval = %v", tasks[0].Interval())
	}
	if tasks[0].ShouldRun() {
		t.Fatal("delay_first_run task must not be due at startup")
	}
	if tasks[1].Enabled() {
		t.Fatal("prune must start disabled")
	}
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		decls map[string]config.Job
	}{
		{name: "unknown type", decls: map[string]config.Job{"x": {Type: "mystery", Schedule: "5m"}}},
		{name: "bad schedule", decls: map[string]config.Job{"x": {Type: "feedpoll", Schedule: "soonish"}}},
		{name: "feedpoll without url", decls: map[string]config.Job{"x": {Type: "feedpoll", Schedule: "5m"}}},
		{name: "prune without storage", decls: map[string]config.Job{"prune": {Schedule: "5m"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(tt.decls, Deps{Log: logx.Nop()}); err == nil {
				t.Fatal("expected build error")
			}
		})
	}
}

func TestFeedPollRun(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing user agent")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries":[{"id":"2602.01234"},{"id":"2602.05678"}]}`))
	}))
	defer srv.Close()

	fp, err := NewFeedPoll("feed", json.RawMessage(`{"url":"`+srv.URL+`","max_rps":100}`), logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	fields, err := fp.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if fields["status"] != 200 {
		t.Fatalf("status = %v", fields["status"])
	}
	if fields["entries"] != 2 {
		t.Fatalf("entries = %v", fields["entries"])
	}
}

func TestFeedPollUpstreamFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	fp, err := NewFeedPoll("feed", json.RawMessage(`{"url":"`+srv.URL+`","max_rps":100}`), logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := fp.Run(context.Background()); err == nil {
		t.Fatal("expected error for 502 upstream")
	}
}

func TestFeedPollBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	fp, err := NewFeedPoll("feed", json.RawMessage(`{"url":"`+srv.URL+`","max_rps":1000}`), logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	for i := 0; i < 7; i++ {
		if _, err := fp.Run(context.Background()); err == nil {
			t.Fatal("expected failure")
		}
	}
	// Breaker trips after 5 consecutive failures; later runs fail fast.
	if calls > 5 {
		t.Fatalf("upstream called %d times, breaker should cap at 5", calls)
	}
}

func TestPruneRun(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "runs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	old := storage.RunRecord{RunID: "old", Task: "feed-poll", Status: "success", Started: time.Now().Add(-60 * 24 * time.Hour)}
	fresh := storage.RunRecord{RunID: "fresh", Task: "feed-poll", Status: "success", Started: time.Now()}
	for _, r := range []storage.RunRecord{old, fresh} {
		if err := st.RecordRun(ctx, r); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	p, err := NewPrune(json.RawMessage(`{"retention":"720h"}`), st, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	fields, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if fields["removed"] != 1 {
		t.Fatalf("removed = %v, want 1", fields["removed"])
	}

	runs, err := st.RecentRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "fresh" {
		t.Fatalf("survivors = %+v", runs)
	}
}

func TestPruneRejectsBadRetention(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "runs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	if _, err := NewPrune(json.RawMessage(`{"retention":"-1h"}`), st, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func boolPtr(b bool) *bool { return &b }
