package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/herrors"
)

// PostgresStore implements KnowledgeStore against the pgvector-enabled
// schema in migrations/0001_init.up.sql.
type PostgresStore struct {
	client *Client
}

var _ KnowledgeStore = (*PostgresStore)(nil)

// NewPostgresStore wraps an already-migrated Client.
func NewPostgresStore(client *Client) *PostgresStore {
	return &PostgresStore{client: client}
}

// knowledgeItemRow mirrors the knowledge_items table for sqlx scanning;
// Tags is jsonb and Embedding is pgvector's text representation, both
// handled outside the struct tag mapping that driver.Value supports.
type knowledgeItemRow struct {
	ID              string         `db:"id"`
	OrgID           string         `db:"org_id"`
	Content         string         `db:"content"`
	Title           string         `db:"title"`
	Category        string         `db:"category"`
	Tags            []byte         `db:"tags"`
	ContentHash     string         `db:"content_hash"`
	Embedding       sql.NullString `db:"embedding"`
	SourceAgentID   string         `db:"source_agent_id"`
	ContributedAt   time.Time      `db:"contributed_at"`
	Confidence      float64        `db:"confidence"`
	IsPublic        bool           `db:"is_public"`
	QualityScore    float64        `db:"quality_score"`
	RetrievalCount  int            `db:"retrieval_count"`
	HelpfulCount    int            `db:"helpful_count"`
	NotHelpfulCount int            `db:"not_helpful_count"`
	ValidAt         sql.NullTime   `db:"valid_at"`
	InvalidAt       sql.NullTime   `db:"invalid_at"`
	ExpiredAt       sql.NullTime   `db:"expired_at"`
	DeletedAt       sql.NullTime   `db:"deleted_at"`
}

func (r *knowledgeItemRow) toDomain() (domain.KnowledgeItem, error) {
	var tags domain.Tags
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &tags); err != nil {
			return domain.KnowledgeItem{}, fmt.Errorf("store: decode tags: %w", err)
		}
	}
	embedding, err := decodeVector(r.Embedding.String)
	if err != nil {
		return domain.KnowledgeItem{}, err
	}

	item := domain.KnowledgeItem{
		ID:              r.ID,
		OrgID:           r.OrgID,
		Content:         r.Content,
		Title:           r.Title,
		Category:        domain.Category(r.Category),
		Tags:            tags,
		ContentHash:     r.ContentHash,
		Embedding:       embedding,
		SourceAgentID:   r.SourceAgentID,
		ContributedAt:   r.ContributedAt,
		Confidence:      r.Confidence,
		IsPublic:        r.IsPublic,
		QualityScore:    r.QualityScore,
		RetrievalCount:  r.RetrievalCount,
		HelpfulCount:    r.HelpfulCount,
		NotHelpful:      r.NotHelpfulCount,
	}
	if r.ValidAt.Valid {
		item.ValidAt = &r.ValidAt.Time
	}
	if r.InvalidAt.Valid {
		item.InvalidAt = &r.InvalidAt.Time
	}
	if r.ExpiredAt.Valid {
		item.ExpiredAt = &r.ExpiredAt.Time
	}
	if r.DeletedAt.Valid {
		item.DeletedAt = &r.DeletedAt.Time
	}
	return item, nil
}

const knowledgeItemColumns = `
	id, org_id, content, title, category, tags, content_hash, embedding::text AS embedding,
	source_agent_id, contributed_at, confidence, is_public, quality_score,
	retrieval_count, helpful_count, not_helpful_count,
	valid_at, invalid_at, expired_at, deleted_at`

func (s *PostgresStore) InsertKnowledgeItem(ctx context.Context, item *domain.KnowledgeItem) (string, error) {
	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return "", fmt.Errorf("store: encode tags: %w", err)
	}

	var id string
	err = s.client.DB().QueryRowxContext(ctx, `
		INSERT INTO knowledge_items (
			org_id, content, title, category, tags, content_hash, embedding,
			source_agent_id, contributed_at, confidence, is_public, quality_score,
			retrieval_count, helpful_count, not_helpful_count, valid_at, invalid_at, expired_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18
		) RETURNING id`,
		item.OrgID, item.Content, item.Title, string(item.Category), tags, item.ContentHash, encodeVector(item.Embedding),
		item.SourceAgentID, item.ContributedAt, item.Confidence, item.IsPublic, item.QualityScore,
		item.RetrievalCount, item.HelpfulCount, item.NotHelpful, item.ValidAt, item.InvalidAt, item.ExpiredAt,
	).Scan(&id)
	if isUniqueViolation(err) {
		return "", herrors.ErrDuplicate
	}
	if err != nil {
		return "", fmt.Errorf("store: insert knowledge item: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetKnowledgeItem(ctx context.Context, orgID, id string) (*domain.KnowledgeItem, error) {
	var row knowledgeItemRow
	err := s.client.DB().QueryRowxContext(ctx, fmt.Sprintf(`
		SELECT %s FROM knowledge_items
		WHERE id = $1 AND deleted_at IS NULL AND (org_id = $2 OR is_public)`, knowledgeItemColumns),
		id, orgID,
	).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, herrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get knowledge item: %w", err)
	}
	item, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *PostgresStore) FindByContentHash(ctx context.Context, orgID, contentHash string) (*domain.KnowledgeItem, error) {
	var row knowledgeItemRow
	err := s.client.DB().QueryRowxContext(ctx, fmt.Sprintf(`
		SELECT %s FROM knowledge_items
		WHERE org_id = $1 AND content_hash = $2 AND deleted_at IS NULL AND expired_at IS NULL`, knowledgeItemColumns),
		orgID, contentHash,
	).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find by content hash: %w", err)
	}
	item, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *PostgresStore) FindSimilar(ctx context.Context, orgID string, embedding []float32, limit int, includeCrossTenantPublic bool) ([]ScoredItem, error) {
	tenantPredicate := "org_id = $2"
	if includeCrossTenantPublic {
		tenantPredicate = "(org_id = $2 OR is_public)"
	}

	query := fmt.Sprintf(`
		SELECT %s, (embedding <=> $1) AS distance
		FROM knowledge_items
		WHERE deleted_at IS NULL AND expired_at IS NULL AND embedding IS NOT NULL AND %s
		ORDER BY embedding <=> $1
		LIMIT $3`, knowledgeItemColumns, tenantPredicate)

	rows, err := s.client.DB().QueryxContext(ctx, query, encodeVector(embedding), orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: find similar: %w", err)
	}
	defer rows.Close()

	var out []ScoredItem
	for rows.Next() {
		var row knowledgeItemRow
		var distance float64
		if err := rows.Scan(
			&row.ID, &row.OrgID, &row.Content, &row.Title, &row.Category, &row.Tags, &row.ContentHash, &row.Embedding,
			&row.SourceAgentID, &row.ContributedAt, &row.Confidence, &row.IsPublic, &row.QualityScore,
			&row.RetrievalCount, &row.HelpfulCount, &row.NotHelpfulCount,
			&row.ValidAt, &row.InvalidAt, &row.ExpiredAt, &row.DeletedAt, &distance,
		); err != nil {
			return nil, fmt.Errorf("store: scan similar row: %w", err)
		}
		item, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredItem{Item: item, Distance: distance})
	}
	return out, rows.Err()
}

func (s *PostgresStore) LexicalSearch(ctx context.Context, orgID, query string, limit int, includeCrossTenantPublic bool) ([]ScoredItem, error) {
	tenantPredicate := "org_id = $2"
	if includeCrossTenantPublic {
		tenantPredicate = "(org_id = $2 OR is_public)"
	}

	sqlQuery := fmt.Sprintf(`
		SELECT %s,
			ts_rank(to_tsvector('english', coalesce(title, '') || ' ' || content), plainto_tsquery('english', $1)) AS rank
		FROM knowledge_items
		WHERE deleted_at IS NULL AND expired_at IS NULL AND %s
			AND to_tsvector('english', coalesce(title, '') || ' ' || content) @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT $3`, knowledgeItemColumns, tenantPredicate)

	rows, err := s.client.DB().QueryxContext(ctx, sqlQuery, query, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: lexical search: %w", err)
	}
	defer rows.Close()

	var out []ScoredItem
	for rows.Next() {
		var row knowledgeItemRow
		var rank float64
		if err := rows.Scan(
			&row.ID, &row.OrgID, &row.Content, &row.Title, &row.Category, &row.Tags, &row.ContentHash, &row.Embedding,
			&row.SourceAgentID, &row.ContributedAt, &row.Confidence, &row.IsPublic, &row.QualityScore,
			&row.RetrievalCount, &row.HelpfulCount, &row.NotHelpfulCount,
			&row.ValidAt, &row.InvalidAt, &row.ExpiredAt, &row.DeletedAt, &rank,
		); err != nil {
			return nil, fmt.Errorf("store: scan lexical row: %w", err)
		}
		item, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		// Distance is reported on the same "lower is better" scale as
		// FindSimilar so the RRF fusion stage (pkg/retrieval) can rank
		// both lists uniformly.
		out = append(out, ScoredItem{Item: item, Distance: 1 - rank})
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateKnowledgeItem(ctx context.Context, item *domain.KnowledgeItem) error {
	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("store: encode tags: %w", err)
	}

	_, err = s.client.DB().ExecContext(ctx, `
		UPDATE knowledge_items SET
			content = $1, title = $2, category = $3, tags = $4, embedding = $5,
			confidence = $6, is_public = $7, quality_score = $8,
			retrieval_count = $9, helpful_count = $10, not_helpful_count = $11,
			valid_at = $12, invalid_at = $13, expired_at = $14
		WHERE id = $15 AND org_id = $16`,
		item.Content, item.Title, string(item.Category), tags, encodeVector(item.Embedding),
		item.Confidence, item.IsPublic, item.QualityScore,
		item.RetrievalCount, item.HelpfulCount, item.NotHelpful,
		item.ValidAt, item.InvalidAt, item.ExpiredAt,
		item.ID, item.OrgID,
	)
	if err != nil {
		return fmt.Errorf("store: update knowledge item: %w", err)
	}
	return nil
}

func (s *PostgresStore) ExpireKnowledgeItem(ctx context.Context, orgID, id string, expiredAt time.Time) error {
	_, err := s.client.DB().ExecContext(ctx,
		`UPDATE knowledge_items SET expired_at = $1 WHERE id = $2 AND org_id = $3`,
		expiredAt, id, orgID)
	if err != nil {
		return fmt.Errorf("store: expire knowledge item: %w", err)
	}
	return nil
}

func (s *PostgresStore) ForkKnowledgeItem(ctx context.Context, orgID, id string, invalidAt time.Time) error {
	_, err := s.client.DB().ExecContext(ctx,
		`UPDATE knowledge_items SET invalid_at = $1 WHERE id = $2 AND org_id = $3`,
		invalidAt, id, orgID)
	if err != nil {
		return fmt.Errorf("store: fork knowledge item: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteKnowledgeItem(ctx context.Context, orgID, id, agentID string, deletedAt time.Time) error {
	res, err := s.client.DB().ExecContext(ctx,
		`UPDATE knowledge_items SET deleted_at = $1
		 WHERE id = $2 AND org_id = $3 AND source_agent_id = $4 AND deleted_at IS NULL`,
		deletedAt, id, orgID, agentID)
	if err != nil {
		return fmt.Errorf("store: soft delete knowledge item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: soft delete rows affected: %w", err)
	}
	if n == 0 {
		return herrors.ErrNotFound
	}
	return nil
}

// PurgeExpired hard-deletes knowledge items that have been system-time
// expired or soft-deleted for longer than the caller's retention
// window. This is irreversible, unlike ExpireKnowledgeItem/
// SoftDeleteKnowledgeItem, which only ever mark a row; it exists for
// the retention worker's batch sweep, not for any tenant-facing
// operation.
func (s *PostgresStore) PurgeExpired(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.client.DB().ExecContext(ctx,
		`DELETE FROM knowledge_items
		 WHERE (expired_at IS NOT NULL AND expired_at < $1)
		    OR (deleted_at IS NOT NULL AND deleted_at < $1)`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("store: purge expired knowledge items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: purge expired rows affected: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) ListByAgent(ctx context.Context, orgID, agentID string) ([]domain.KnowledgeItem, error) {
	rows, err := s.client.DB().QueryxContext(ctx, fmt.Sprintf(`
		SELECT %s FROM knowledge_items
		WHERE org_id = $1 AND source_agent_id = $2 AND deleted_at IS NULL
		ORDER BY contributed_at DESC`, knowledgeItemColumns),
		orgID, agentID)
	if err != nil {
		return nil, fmt.Errorf("store: list by agent: %w", err)
	}
	defer rows.Close()
	return scanKnowledgeItems(rows)
}

func (s *PostgresStore) ListAllCurrent(ctx context.Context, limit int) ([]domain.KnowledgeItem, error) {
	rows, err := s.client.DB().QueryxContext(ctx, fmt.Sprintf(`
		SELECT %s FROM knowledge_items
		WHERE deleted_at IS NULL AND expired_at IS NULL
		ORDER BY contributed_at ASC
		LIMIT $1`, knowledgeItemColumns), limit)
	if err != nil {
		return nil, fmt.Errorf("store: list all current: %w", err)
	}
	defer rows.Close()
	return scanKnowledgeItems(rows)
}

func (s *PostgresStore) CountConflictFlagged(ctx context.Context) (int, error) {
	var count int
	err := s.client.DB().QueryRowxContext(ctx, `
		SELECT count(*) FROM knowledge_items
		WHERE deleted_at IS NULL AND expired_at IS NULL AND tags @> '{"conflict_flagged": true}'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count conflict flagged: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetKnowledgeItemByID(ctx context.Context, id string) (*domain.KnowledgeItem, error) {
	var row knowledgeItemRow
	err := s.client.DB().QueryRowxContext(ctx, fmt.Sprintf(`
		SELECT %s FROM knowledge_items
		WHERE id = $1 AND deleted_at IS NULL`, knowledgeItemColumns),
		id,
	).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, herrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get knowledge item by id: %w", err)
	}
	item, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *PostgresStore) IncrementRetrievalCount(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.client.DB().ExecContext(ctx,
		`UPDATE knowledge_items SET retrieval_count = retrieval_count + 1 WHERE id = ANY($1)`,
		pqStringArray(ids))
	if err != nil {
		return fmt.Errorf("store: increment retrieval count: %w", err)
	}
	return nil
}

func (s *PostgresStore) Health(ctx context.Context) (*HealthStatus, error) {
	return s.client.Health(ctx)
}

func scanKnowledgeItems(rows *sqlx.Rows) ([]domain.KnowledgeItem, error) {
	var out []domain.KnowledgeItem
	for rows.Next() {
		var row knowledgeItemRow
		if err := rows.Scan(
			&row.ID, &row.OrgID, &row.Content, &row.Title, &row.Category, &row.Tags, &row.ContentHash, &row.Embedding,
			&row.SourceAgentID, &row.ContributedAt, &row.Confidence, &row.IsPublic, &row.QualityScore,
			&row.RetrievalCount, &row.HelpfulCount, &row.NotHelpfulCount,
			&row.ValidAt, &row.InvalidAt, &row.ExpiredAt, &row.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan knowledge item row: %w", err)
		}
		item, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// pqStringArray formats a Go string slice as a Postgres text[] array
// literal for use with = ANY($1).
func pqStringArray(ids []string) string {
	out := "{"
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += `"` + id + `"`
	}
	return out + "}"
}
