package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ConfigRepo persists the small set of key/value rows that must
// survive restart — scheduler last-run markers (spec.md §3/§4.7).
type ConfigRepo interface {
	GetConfig(ctx context.Context, key string) (value string, ok bool, err error)
	SetConfig(ctx context.Context, key, value string) error
}

var _ ConfigRepo = (*PostgresStore)(nil)

func (s *PostgresStore) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.client.DB().QueryRowxContext(ctx, `SELECT value FROM deployment_config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get deployment config: %w", err)
	}
	return value, true, nil
}

func (s *PostgresStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO deployment_config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: set deployment config: %w", err)
	}
	return nil
}
