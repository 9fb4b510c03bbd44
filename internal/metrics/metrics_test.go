package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilSetIsSafe(t *testing.T) {
	t.Parallel()
	var s *Set
	s.ObserveTick()
	s.ObserveRun("feed-poll", "success", time.Second)
	s.SetTaskCounts(1, 1, 0)
	if s.Handler() == nil {
		t.Fatal("nil set must still return a handler")
	}
}

func TestObservationsAppearInScrape(t *testing.T) {
	t.Parallel()
	s := New()
	s.ObserveTick()
	s.ObserveRun("feed-poll", "success", 250*time.Millisecond)
	s.ObserveRun("feed-poll", "error", time.Second)
	s.SetTaskCounts(2, 1, 0)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`paperbase_scheduler_ticks_total 1`,
		`paperbase_scheduler_task_runs_total{status="error",task="feed-poll"} 1`,
		`paperbase_scheduler_task_runs_total{status="success",task="feed-poll"} 1`,
		`paperbase_scheduler_tasks 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape missing %q", want)
		}
	}
}
