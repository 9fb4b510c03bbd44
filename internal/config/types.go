package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"paperbase/internal/task"
)

// Config is the full on-disk configuration (JSON or YAML).
//
// Duration-valued fields are strings ("30s", "5m") parsed with
// ParseDurationField; Validate reports every malformed field before the
// config is committed.
type Config struct {
	Logging   Logging        `json:"logging"`
	Scheduler Scheduler      `json:"scheduler"`
	Engine    Engine         `json:"engine"`
	HTTP      HTTP           `json:"http"`
	Storage   Storage        `json:"storage"`
	Jobs      map[string]Job `json:"jobs"`
}

type Logging struct {
	Level   string  `json:"level"`
	Console *bool   `json:"console"`
	File    LogFile `json:"file"`
}

type LogFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ConsoleEnabled defaults to true when the field is omitted.
func (l Logging) ConsoleEnabled() bool { return l.Console == nil || *l.Console }

type Scheduler struct {
	Enabled       *bool  `json:"enabled"`
	CheckInterval string `json:"check_interval"`
}

// SchedulerEnabled defaults to true when the field is omitted.
func (s Scheduler) SchedulerEnabled() bool { return s.Enabled == nil || *s.Enabled }

type Engine struct {
	ShutdownTimeout string `json:"shutdown_timeout"`
}

type HTTP struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Token   string `json:"token"`
}

func (h HTTP) ListenAddr() string {
	if strings.TrimSpace(h.Addr) == "" {
		return "127.0.0.1:8377"
	}
	return h.Addr
}

type Storage struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
	Retention   string `json:"retention"`
}

// Job declares one recurring job. Type selects the job constructor in
// internal/jobs (defaults to the map key); Options is the job-specific
// payload that constructor decodes.
type Job struct {
	Type          string          `json:"type"`
	Enabled       *bool           `json:"enabled"`
	Schedule      string          `json:"schedule"`
	DelayFirstRun bool            `json:"delay_first_run"`
	Options       json.RawMessage `json:"options"`
}

// Kind resolves the job type, falling back to the job's map key.
func (j Job) Kind(name string) string {
	if t := strings.TrimSpace(j.Type); t != "" {
		return strings.ToLower(t)
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// JobEnabled defaults to true when the field is omitted.
func (j Job) JobEnabled() bool { return j.Enabled == nil || *j.Enabled }

// Interval resolves the job's schedule string.
func (j Job) Interval() (time.Duration, error) {
	p, err := task.ParseInterval(j.Schedule)
	if err != nil {
		return 0, err
	}
	return p.Every, nil
}

// Validate checks everything that can be checked without touching the
// filesystem or network. It is also installed as the hot-reload validator so
// a broken edit never reaches running services.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	if _, err := ParseDurationField("scheduler.check_interval", c.Scheduler.CheckInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("engine.shutdown_timeout", c.Engine.ShutdownTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.retention", c.Storage.Retention); err != nil {
		return err
	}

	switch d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", d)
	}

	for name, job := range c.Jobs {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("jobs: empty job name")
		}
		if _, err := job.Interval(); err != nil {
			return fmt.Errorf("jobs.%s.schedule: %w", name, err)
		}
	}
	return nil
}

// ParseDurationField parses an optional duration string; empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for the
// zero/empty case.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
