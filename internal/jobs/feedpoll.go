package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"paperbase/internal/task"
	logx "paperbase/pkg/logx"
)

const (
	defaultFeedTimeout = 30 * time.Second
	defaultUserAgent   = "paperbase/1.0"
	maxFeedBody        = 4 << 20
)

// FeedPollOptions configures one feed-polling job.
type FeedPollOptions struct {
	URL       string  `json:"url"`
	Timeout   string  `json:"timeout"`
	MaxRPS    float64 `json:"max_rps"`
	UserAgent string  `json:"user_agent"`
}

// FeedPoll fetches a paper feed endpoint and reports what it found.
//
// Outbound requests are rate-limited, and a circuit breaker stops hammering
// an upstream that keeps failing; while the breaker is open the run fails
// fast without a network call.
type FeedPoll struct {
	url     string
	ua      string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     logx.Logger
}

func NewFeedPoll(name string, raw json.RawMessage, log logx.Logger) (*FeedPoll, error) {
	var opts FeedPollOptions
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("feedpoll options: %w", err)
		}
	}
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("feedpoll: url is required")
	}

	timeout := defaultFeedTimeout
	if strings.TrimSpace(opts.Timeout) != "" {
		d, err := time.ParseDuration(opts.Timeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("feedpoll: invalid timeout %q", opts.Timeout)
		}
		timeout = d
	}

	rps := opts.MaxRPS
	if rps <= 0 {
		rps = 1
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}

	if log.IsZero() {
		log = logx.Nop()
	}
	return &FeedPoll{
		url:     opts.URL,
		ua:      ua,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 2 * time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
		log: log,
	}, nil
}

func (f *FeedPoll) Run(ctx context.Context) (task.Fields, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := f.breaker.Execute(func() (any, error) {
		return f.fetch(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("feed upstream circuit open: %w", err)
		}
		return nil, err
	}
	fields, _ := out.(task.Fields)
	return fields, nil
}

func (f *FeedPoll) fetch(ctx context.Context) (task.Fields, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed fetch: unexpected status %d", resp.StatusCode)
	}

	fields := task.Fields{
		"status": resp.StatusCode,
		"bytes":  len(body),
		"took":   time.Since(start).String(),
	}
	if n, ok := countEntries(body); ok {
		fields["entries"] = n
	}
	return fields, nil
}

// countEntries extracts an entry count from common feed payload shapes: a
// top-level JSON array, or an object with an "entries"/"items"/"papers"
// array.
func countEntries(body []byte) (int, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(body, &arr); err == nil {
		return len(arr), true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return 0, false
	}
	for _, key := range []string{"entries", "items", "papers"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &arr); err == nil {
			return len(arr), true
		}
	}
	return 0, false
}
