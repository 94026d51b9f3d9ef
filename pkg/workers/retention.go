package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/hmconfig"
)

// RetentionStore is the subset of store.KnowledgeStore the retention
// job hard-deletes through. Unscoped by tenant, like the other
// maintenance jobs in this package.
type RetentionStore interface {
	PurgeExpired(ctx context.Context, olderThan time.Time) (int, error)
}

// Retention permanently removes knowledge items that have sat expired
// or soft-deleted past Cfg.RetentionPurgeAfter. Every other mutation in
// this codebase only ever marks a row (expired_at, deleted_at); this is
// the one irreversible sweep, modeled on the teacher's
// retention-by-interval cleanup loop rather than invented fresh.
type Retention struct {
	Config ConfigStore
	Store  RetentionStore
	Cfg    hmconfig.Config
	Now    func() time.Time
}

// NewRetention wires a Retention job. now defaults to time.Now when nil.
func NewRetention(cfg ConfigStore, st RetentionStore, hc hmconfig.Config, now func() time.Time) *Retention {
	if now == nil {
		now = time.Now
	}
	return &Retention{Config: cfg, Store: st, Cfg: hc, Now: now}
}

func (r *Retention) Name() string { return "retention" }

// Run implements Job. Idempotent at the last_run-advance step, like
// QualityAggregator and Distillation: a tick before
// Cfg.RetentionInterval has elapsed since the recorded last_run is a
// no-op.
func (r *Retention) Run(ctx context.Context) (bool, error) {
	now := r.Now().UTC()

	lastRun, err := r.lastRun(ctx)
	if err != nil {
		return false, err
	}
	if now.Sub(lastRun) < r.Cfg.RetentionInterval {
		return false, nil
	}

	purged, err := r.Store.PurgeExpired(ctx, now.Add(-r.Cfg.RetentionPurgeAfter))
	if err != nil {
		return false, fmt.Errorf("workers: purge expired items: %w", err)
	}

	if err := r.Config.SetConfig(ctx, domain.ConfigKeyRetentionLastRun, now.Format(time.RFC3339Nano)); err != nil {
		return false, fmt.Errorf("workers: advance retention last_run: %w", err)
	}
	return purged > 0, nil
}

func (r *Retention) lastRun(ctx context.Context) (time.Time, error) {
	value, ok, err := r.Config.GetConfig(ctx, domain.ConfigKeyRetentionLastRun)
	if err != nil {
		return time.Time{}, fmt.Errorf("workers: read retention last_run: %w", err)
	}
	if !ok {
		return time.Unix(0, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("workers: parse retention last_run: %w", err)
	}
	return t, nil
}
