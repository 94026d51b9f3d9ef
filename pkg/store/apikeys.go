package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/herrors"
)

// ApiKeyRepo resolves and meters API-key principals (spec.md §4.1).
type ApiKeyRepo interface {
	GetApiKey(ctx context.Context, keyPrefix string) (*domain.ApiKey, error)
	// MeterRequest atomically resets the billing period if it elapsed,
	// increments request_count, and stamps last_used_at — a single
	// transaction per spec §4.1's claim-then-commit metering shape.
	MeterRequest(ctx context.Context, keyPrefix string, now time.Time) (requestCount int, err error)
}

var _ ApiKeyRepo = (*PostgresStore)(nil)

func (s *PostgresStore) GetApiKey(ctx context.Context, keyPrefix string) (*domain.ApiKey, error) {
	var (
		k          domain.ApiKey
		lastUsedAt sql.NullTime
	)
	err := s.client.DB().QueryRowxContext(ctx, `
		SELECT key_prefix, key_hash, org_id, agent_id, tier, request_count,
			billing_period_start, billing_period_reset_days, is_active, last_used_at
		FROM api_keys WHERE key_prefix = $1`, keyPrefix,
	).Scan(&k.KeyPrefix, &k.KeyHash, &k.OrgID, &k.AgentID, &k.Tier, &k.RequestCount,
		&k.BillingPeriodStart, &k.BillingPeriodResetDays, &k.IsActive, &lastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, herrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get api key: %w", err)
	}
	if lastUsedAt.Valid {
		k.LastUsedAt = &lastUsedAt.Time
	}
	return &k, nil
}

func (s *PostgresStore) MeterRequest(ctx context.Context, keyPrefix string, now time.Time) (int, error) {
	tx, err := s.client.DB().BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: meter request begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		periodStart time.Time
		resetDays   int
	)
	err = tx.QueryRowxContext(ctx,
		`SELECT billing_period_start, billing_period_reset_days FROM api_keys WHERE key_prefix = $1 FOR UPDATE`,
		keyPrefix,
	).Scan(&periodStart, &resetDays)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, herrors.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("store: meter request lock row: %w", err)
	}

	if now.Sub(periodStart) >= time.Duration(resetDays)*24*time.Hour {
		_, err = tx.ExecContext(ctx,
			`UPDATE api_keys SET request_count = 1, billing_period_start = $1, last_used_at = $1 WHERE key_prefix = $2`,
			now, keyPrefix)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE api_keys SET request_count = request_count + 1, last_used_at = $1 WHERE key_prefix = $2`,
			now, keyPrefix)
	}
	if err != nil {
		return 0, fmt.Errorf("store: meter request update: %w", err)
	}

	var count int
	if err := tx.QueryRowxContext(ctx, `SELECT request_count FROM api_keys WHERE key_prefix = $1`, keyPrefix).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: meter request read back: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: meter request commit: %w", err)
	}
	return count, nil
}
