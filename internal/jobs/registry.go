// Package jobs turns config job declarations into runnable tasks.
package jobs

import (
	"encoding/json"
	"fmt"
	"sort"

	"paperbase/internal/config"
	"paperbase/internal/storage"
	"paperbase/internal/task"
	logx "paperbase/pkg/logx"
)

// Deps carries everything a job constructor may need.
type Deps struct {
	Log   logx.Logger
	Store storage.Store
}

// Constructor builds the job body for one declared job.
type Constructor func(name string, opts json.RawMessage, deps Deps) (task.Runner, error)

func builtins() map[string]Constructor {
	return map[string]Constructor{
		"feedpoll": func(name string, opts json.RawMessage, deps Deps) (task.Runner, error) {
			return NewFeedPoll(name, opts, deps.Log)
		},
		"prune": func(name string, opts json.RawMessage, deps Deps) (task.Runner, error) {
			return NewPrune(opts, deps.Store, deps.Log)
		},
	}
}

// Build constructs one task per declared job. Jobs are ordered by name so
// tick dispatch order is stable across restarts.
func Build(decls map[string]config.Job, deps Deps) ([]*task.Task, error) {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	kinds := builtins()

	names := make([]string, 0, len(decls))
	for name := range decls {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*task.Task, 0, len(names))
	for _, name := range names {
		decl := decls[name]

		ctor, ok := kinds[decl.Kind(name)]
		if !ok {
			return nil, fmt.Errorf("jobs.%s: unknown job type %q", name, decl.Kind(name))
		}
		interval, err := decl.Interval()
		if err != nil {
			return nil, fmt.Errorf("jobs.%s: %w", name, err)
		}
		body, err := ctor(name, decl.Options, deps)
		if err != nil {
			return nil, fmt.Errorf("jobs.%s: %w", name, err)
		}

		var opts []task.Option
		if decl.DelayFirstRun {
			opts = append(opts, task.WithDelayFirstRun())
		}
		t := task.New(name, interval, body, opts...)
		if !decl.JobEnabled() {
			t.Disable()
		}
		out = append(out, t)
	}
	return out, nil
}
