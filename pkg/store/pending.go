package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/herrors"
)

// PendingRepo persists PendingContribution rows (spec.md §4.1 approval
// gate / §4.2 review queue).
type PendingRepo interface {
	InsertPending(ctx context.Context, p *domain.PendingContribution) (string, error)
	GetPending(ctx context.Context, orgID, id string) (*domain.PendingContribution, error)
	ListPendingByOrg(ctx context.Context, orgID string) ([]domain.PendingContribution, error)
	UpdatePendingStatus(ctx context.Context, orgID, id string, status domain.PendingStatus) error
	AutoApproveAllowed(ctx context.Context, orgID string, category domain.Category) (bool, error)
	// FindPendingByContentHash finds a still-pending contribution with
	// the same (content_hash, org_id), so a second identical submission
	// is caught as a duplicate before the first has even been reviewed
	// (spec.md §8 scenario 1: two agents submitting identical content
	// collapse to one pending row, not one per submitter).
	FindPendingByContentHash(ctx context.Context, orgID, contentHash string) (*domain.PendingContribution, error)

	// CountAllPending counts pending-status rows across every tenant —
	// one half of the distillation job's conditional gate (spec.md
	// §4.6 step 1).
	CountAllPending(ctx context.Context) (int, error)

	// ListAllPending lists pending-status rows across every tenant —
	// the distillation job's quality pre-screening candidate set
	// (spec.md §4.6 step 5).
	ListAllPending(ctx context.Context) ([]domain.PendingContribution, error)

	// SetPendingFlagged sets flagged_for_review without otherwise
	// touching status (spec.md §4.6 step 5: flagged, not rejected).
	SetPendingFlagged(ctx context.Context, orgID, id string, flagged bool) error
}

var _ PendingRepo = (*PostgresStore)(nil)

type pendingRow struct {
	ID               string `db:"id"`
	OrgID            string `db:"org_id"`
	Content          string `db:"content"`
	Title            string `db:"title"`
	Category         string `db:"category"`
	Tags             []byte `db:"tags"`
	ContentHash      string `db:"content_hash"`
	Embedding        sql.NullString `db:"embedding"`
	SourceAgentID    string `db:"source_agent_id"`
	ContributedAt    sql.NullTime `db:"contributed_at"`
	Confidence       float64 `db:"confidence"`
	Status           string `db:"status"`
	IntegrityWarning string `db:"integrity_warning"`
	FlaggedForReview bool   `db:"flagged_for_review"`
}

func (r *pendingRow) toDomain() (domain.PendingContribution, error) {
	var tags domain.Tags
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &tags); err != nil {
			return domain.PendingContribution{}, fmt.Errorf("store: decode pending tags: %w", err)
		}
	}
	embedding, err := decodeVector(r.Embedding.String)
	if err != nil {
		return domain.PendingContribution{}, err
	}
	return domain.PendingContribution{
		ID:               r.ID,
		OrgID:            r.OrgID,
		Content:          r.Content,
		Title:            r.Title,
		Category:         domain.Category(r.Category),
		Tags:             tags,
		ContentHash:      r.ContentHash,
		Embedding:        embedding,
		SourceAgentID:    r.SourceAgentID,
		ContributedAt:    r.ContributedAt.Time,
		Confidence:       r.Confidence,
		Status:           domain.PendingStatus(r.Status),
		IntegrityWarning: r.IntegrityWarning,
		FlaggedForReview: r.FlaggedForReview,
	}, nil
}

const pendingColumns = `id, org_id, content, title, category, tags, content_hash, embedding::text AS embedding,
	source_agent_id, contributed_at, confidence, status, integrity_warning, flagged_for_review`

func (s *PostgresStore) InsertPending(ctx context.Context, p *domain.PendingContribution) (string, error) {
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return "", fmt.Errorf("store: encode pending tags: %w", err)
	}
	var id string
	err = s.client.DB().QueryRowxContext(ctx, `
		INSERT INTO pending_contributions (
			org_id, content, title, category, tags, content_hash, embedding,
			source_agent_id, contributed_at, confidence, status, integrity_warning, flagged_for_review
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`,
		p.OrgID, p.Content, p.Title, string(p.Category), tags, p.ContentHash, encodeVector(p.Embedding),
		p.SourceAgentID, p.ContributedAt, p.Confidence, string(p.Status), p.IntegrityWarning, p.FlaggedForReview,
	).Scan(&id)
	if isUniqueViolation(err) {
		return "", herrors.ErrDuplicate
	}
	if err != nil {
		return "", fmt.Errorf("store: insert pending contribution: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetPending(ctx context.Context, orgID, id string) (*domain.PendingContribution, error) {
	var row pendingRow
	err := s.client.DB().QueryRowxContext(ctx, fmt.Sprintf(
		`SELECT %s FROM pending_contributions WHERE id = $1 AND org_id = $2`, pendingColumns),
		id, orgID,
	).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, herrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get pending contribution: %w", err)
	}
	p, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListPendingByOrg(ctx context.Context, orgID string) ([]domain.PendingContribution, error) {
	rows, err := s.client.DB().QueryxContext(ctx, fmt.Sprintf(
		`SELECT %s FROM pending_contributions WHERE org_id = $1 AND status = 'pending' ORDER BY contributed_at ASC`, pendingColumns),
		orgID)
	if err != nil {
		return nil, fmt.Errorf("store: list pending contributions: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingContribution
	for rows.Next() {
		var row pendingRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("store: scan pending row: %w", err)
		}
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdatePendingStatus(ctx context.Context, orgID, id string, status domain.PendingStatus) error {
	_, err := s.client.DB().ExecContext(ctx,
		`UPDATE pending_contributions SET status = $1 WHERE id = $2 AND org_id = $3`,
		string(status), id, orgID)
	if err != nil {
		return fmt.Errorf("store: update pending status: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindPendingByContentHash(ctx context.Context, orgID, contentHash string) (*domain.PendingContribution, error) {
	var row pendingRow
	err := s.client.DB().QueryRowxContext(ctx, fmt.Sprintf(`
		SELECT %s FROM pending_contributions
		WHERE org_id = $1 AND content_hash = $2 AND status = 'pending'
		ORDER BY contributed_at ASC LIMIT 1`, pendingColumns),
		orgID, contentHash,
	).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find pending by content hash: %w", err)
	}
	p, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) CountAllPending(ctx context.Context) (int, error) {
	var count int
	err := s.client.DB().QueryRowxContext(ctx,
		`SELECT count(*) FROM pending_contributions WHERE status = 'pending'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count all pending: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListAllPending(ctx context.Context) ([]domain.PendingContribution, error) {
	rows, err := s.client.DB().QueryxContext(ctx, fmt.Sprintf(
		`SELECT %s FROM pending_contributions WHERE status = 'pending' ORDER BY contributed_at ASC`, pendingColumns))
	if err != nil {
		return nil, fmt.Errorf("store: list all pending contributions: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingContribution
	for rows.Next() {
		var row pendingRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("store: scan pending row: %w", err)
		}
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetPendingFlagged(ctx context.Context, orgID, id string, flagged bool) error {
	_, err := s.client.DB().ExecContext(ctx,
		`UPDATE pending_contributions SET flagged_for_review = $1 WHERE id = $2 AND org_id = $3`,
		flagged, id, orgID)
	if err != nil {
		return fmt.Errorf("store: set pending flagged: %w", err)
	}
	return nil
}

func (s *PostgresStore) AutoApproveAllowed(ctx context.Context, orgID string, category domain.Category) (bool, error) {
	var exists bool
	err := s.client.DB().QueryRowxContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM auto_approve_rules WHERE org_id = $1 AND category = $2)`,
		orgID, string(category),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: check auto-approve rule: %w", err)
	}
	return exists, nil
}
