package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hivemind/core/pkg/domain"
)

// SignalRepo persists QualitySignal rows and the aggregates the
// quality-aggregation worker reads back (spec.md §4.6).
type SignalRepo interface {
	InsertSignal(ctx context.Context, sig *domain.QualitySignal) error
	AggregateSince(ctx context.Context, itemID string, since time.Time) (SignalCounts, error)

	// ListAffectedSince returns the distinct knowledge_item_id values
	// with at least one signal recorded after since — the quality
	// aggregation job's candidate set (spec.md §4.6 step 2).
	ListAffectedSince(ctx context.Context, since time.Time) ([]string, error)

	// LastRetrievalAt returns the most recent retrieval signal's
	// timestamp for itemID, or ok=false if the item has never been
	// retrieved (the freshness term's "days since last retrieval"
	// input, spec.md §4.6).
	LastRetrievalAt(ctx context.Context, itemID string) (t time.Time, ok bool, err error)

	// RecordOutcome inserts an outcome signal and bumps the matching
	// denormalized counter (helpful_count or not_helpful) on
	// knowledge_items in one transaction, returning recorded=false
	// without incrementing anything when (itemID, runID) already
	// produced this signal_type (spec.md §8: "ReportOutcome(item,
	// solved, run_id=R) twice -> exactly one QualitySignal, one counter
	// increment").
	RecordOutcome(ctx context.Context, itemID, agentID, runID string, signalType domain.SignalType) (recorded bool, err error)
}

var _ SignalRepo = (*PostgresStore)(nil)

// SignalCounts summarizes behavioral evidence for one item since the
// scheduler's last run, the raw material for the quality formula.
type SignalCounts struct {
	Retrievals     int
	OutcomeSolved  int
	OutcomeNotHelp int
	Contradictions int
}

func (s *PostgresStore) InsertSignal(ctx context.Context, sig *domain.QualitySignal) error {
	metadata, err := json.Marshal(sig.Metadata)
	if err != nil {
		return fmt.Errorf("store: encode signal metadata: %w", err)
	}
	_, err = s.client.DB().ExecContext(ctx, `
		INSERT INTO quality_signals (knowledge_item_id, signal_type, agent_id, run_id, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT DO NOTHING`,
		sig.KnowledgeItemID, string(sig.SignalType), sig.AgentID, sig.RunID, metadata, sig.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert quality signal: %w", err)
	}
	return nil
}

func (s *PostgresStore) AggregateSince(ctx context.Context, itemID string, since time.Time) (SignalCounts, error) {
	var counts SignalCounts
	err := s.client.DB().QueryRowxContext(ctx, `
		SELECT
			count(*) FILTER (WHERE signal_type = 'retrieval'),
			count(*) FILTER (WHERE signal_type = 'outcome_solved'),
			count(*) FILTER (WHERE signal_type = 'outcome_not_helpful'),
			count(*) FILTER (WHERE signal_type = 'contradiction')
		FROM quality_signals
		WHERE knowledge_item_id = $1 AND created_at >= $2`,
		itemID, since,
	).Scan(&counts.Retrievals, &counts.OutcomeSolved, &counts.OutcomeNotHelp, &counts.Contradictions)
	if err != nil {
		return SignalCounts{}, fmt.Errorf("store: aggregate quality signals: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) ListAffectedSince(ctx context.Context, since time.Time) ([]string, error) {
	var ids []string
	err := s.client.DB().SelectContext(ctx, &ids, `
		SELECT DISTINCT knowledge_item_id
		FROM quality_signals
		WHERE created_at > $1`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list affected items: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) RecordOutcome(ctx context.Context, itemID, agentID, runID string, signalType domain.SignalType) (bool, error) {
	tx, err := s.client.DB().BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: record outcome begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO quality_signals (knowledge_item_id, signal_type, agent_id, run_id)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT DO NOTHING`,
		itemID, string(signalType), agentID, runID,
	)
	if err != nil {
		return false, fmt.Errorf("store: record outcome insert signal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: record outcome rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	column := "not_helpful_count"
	if signalType == domain.SignalOutcomeSolved {
		column = "helpful_count"
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE knowledge_items SET %s = %s + 1 WHERE id = $1`, column, column),
		itemID,
	); err != nil {
		return false, fmt.Errorf("store: record outcome increment counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: record outcome commit: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) LastRetrievalAt(ctx context.Context, itemID string) (time.Time, bool, error) {
	var t sql.NullTime
	err := s.client.DB().QueryRowxContext(ctx, `
		SELECT max(created_at)
		FROM quality_signals
		WHERE knowledge_item_id = $1 AND signal_type = 'retrieval'`,
		itemID,
	).Scan(&t)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: last retrieval at: %w", err)
	}
	if !t.Valid {
		return time.Time{}, false, nil
	}
	return t.Time, true, nil
}
