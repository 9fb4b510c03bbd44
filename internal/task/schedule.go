package task

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParsedInterval represents a parsed schedule string.
//
// Supported forms:
//   - Go duration: "55m", "2h30m"
//   - HH:MM cadence: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - Cron descriptors: "@every 55m", "@hourly", "@daily", "@weekly"
//
// Optional "interval:" / "every:" prefixes force duration/HH:MM parsing.
//
// Field-based cron expressions ("*/5 * * * *") are rejected: this platform
// schedules by fixed interval, not by wall-clock cron positions.
type ParsedInterval struct {
	Every  time.Duration
	Source string // "duration" | "hhmm" | "descriptor"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

var descriptorEvery = map[string]time.Duration{
	"@hourly": time.Hour,
	"@daily":  24 * time.Hour,
	"@weekly": 7 * 24 * time.Hour,
}

// ParseInterval parses a schedule string into a fixed interval.
func ParseInterval(raw string) (ParsedInterval, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedInterval{}, fmt.Errorf("schedule required")
	}

	// Prefixes (explicit)
	low := strings.ToLower(s)
	if strings.HasPrefix(low, "interval:") {
		return parsePlainInterval(strings.TrimSpace(s[len("interval:"):]))
	}
	if strings.HasPrefix(low, "every:") {
		return parsePlainInterval(strings.TrimSpace(s[len("every:"):]))
	}

	// Cron descriptors. "@every <duration>" goes through the cron parser and
	// yields a constant-delay schedule whose delay is our interval.
	if strings.HasPrefix(s, "@") {
		if d, ok := descriptorEvery[low]; ok {
			return ParsedInterval{Every: d, Source: "descriptor"}, nil
		}
		sched, err := cron.ParseStandard(s)
		if err != nil {
			return ParsedInterval{}, fmt.Errorf("invalid schedule %q: %w", raw, err)
		}
		if cd, ok := sched.(cron.ConstantDelaySchedule); ok {
			if cd.Delay <= 0 {
				return ParsedInterval{}, fmt.Errorf("interval must be > 0")
			}
			return ParsedInterval{Every: cd.Delay, Source: "descriptor"}, nil
		}
		return ParsedInterval{}, fmt.Errorf("schedule %q is not interval-based (use '@every <duration>')", raw)
	}

	// Field-based cron expressions contain whitespace; reject with a pointer
	// to the supported forms.
	if strings.ContainsAny(s, " \t\n\r") {
		return ParsedInterval{}, fmt.Errorf(
			"cron expressions are not supported; use a duration like '55m', HH:MM like '02:30', or '@every 55m'")
	}

	return parsePlainInterval(s)
}

func parsePlainInterval(v string) (ParsedInterval, error) {
	if v == "" {
		return ParsedInterval{}, fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		if err != nil {
			return ParsedInterval{}, err
		}
		return ParsedInterval{Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return ParsedInterval{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return ParsedInterval{}, fmt.Errorf("interval must be > 0")
	}
	return ParsedInterval{Every: d, Source: "duration"}, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	// safe parse: hours up to 999, minutes 0..59
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
