package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"paperbase/internal/storage"
	"paperbase/internal/task"
	logx "paperbase/pkg/logx"
)

const defaultPruneRetention = 30 * 24 * time.Hour

// PruneOptions configures the run-history pruning job.
type PruneOptions struct {
	Retention string `json:"retention"`
}

// Prune deletes run-history records older than the retention window.
type Prune struct {
	store     storage.Store
	retention time.Duration
	log       logx.Logger
}

func NewPrune(raw json.RawMessage, store storage.Store, log logx.Logger) (*Prune, error) {
	if store == nil {
		return nil, errors.New("prune: storage is disabled")
	}

	var opts PruneOptions
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("prune options: %w", err)
		}
	}

	retention := defaultPruneRetention
	if strings.TrimSpace(opts.Retention) != "" {
		d, err := time.ParseDuration(opts.Retention)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("prune: invalid retention %q", opts.Retention)
		}
		retention = d
	}

	if log.IsZero() {
		log = logx.Nop()
	}
	return &Prune{store: store, retention: retention, log: log}, nil
}

func (p *Prune) Run(ctx context.Context) (task.Fields, error) {
	cutoff := time.Now().Add(-p.retention)
	removed, err := p.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("prune run history: %w", err)
	}
	return task.Fields{
		"removed":   removed,
		"retention": p.retention.String(),
	}, nil
}
