package store

import (
	"context"
	"time"

	"github.com/hivemind/core/pkg/domain"
)

// ScoredItem pairs a KnowledgeItem with the distance or rank score a
// similarity or lexical query produced it with.
type ScoredItem struct {
	Item     domain.KnowledgeItem
	Distance float64 // cosine distance for vector search; 1-ts_rank for lexical
}

// KnowledgeStore is the durable home for approved knowledge (spec.md
// §3/§4.4): the operations the ingestion, dedup, retrieval, and worker
// packages run against it. The Postgres/pgvector implementation lives
// in postgres.go; a non-relational backend need only implement this
// interface plus Health to be swapped in.
type KnowledgeStore interface {
	// InsertKnowledgeItem stores a new approved item and returns its
	// assigned ID.
	InsertKnowledgeItem(ctx context.Context, item *domain.KnowledgeItem) (string, error)

	// GetKnowledgeItem fetches one item by ID, scoped to orgID unless
	// the item is public (spec §4.4 fetch-by-id semantics). Returns
	// domain.ErrNotFound (via herrors) when absent or cross-tenant.
	GetKnowledgeItem(ctx context.Context, orgID, id string) (*domain.KnowledgeItem, error)

	// FindByContentHash looks up the current, non-deleted item sharing
	// contentHash within orgID (exact-duplicate fast path ahead of
	// cosine/LSH dedup).
	FindByContentHash(ctx context.Context, orgID, contentHash string) (*domain.KnowledgeItem, error)

	// FindSimilar runs the pgvector cosine query, returning current,
	// non-deleted items within orgID (or public items from other
	// tenants when includeCrossTenantPublic is set) ordered by
	// ascending cosine distance, capped at limit.
	FindSimilar(ctx context.Context, orgID string, embedding []float32, limit int, includeCrossTenantPublic bool) ([]ScoredItem, error)

	// LexicalSearch runs a tsvector/ts_rank query over title+content.
	LexicalSearch(ctx context.Context, orgID, query string, limit int, includeCrossTenantPublic bool) ([]ScoredItem, error)

	// UpdateKnowledgeItem persists a full row update (e.g. the dedup
	// UPDATE outcome, or quality aggregation writing a new score).
	UpdateKnowledgeItem(ctx context.Context, item *domain.KnowledgeItem) error

	// ExpireKnowledgeItem sets expired_at (system-time end) on a
	// superseded version (spec §4.5 UPDATE outcome).
	ExpireKnowledgeItem(ctx context.Context, orgID, id string, expiredAt time.Time) error

	// ForkKnowledgeItem sets invalid_at (world-time end) on a version
	// whose facts stopped holding at forkValidAt, without ending its
	// system-time currency (spec §4.5 VERSION_FORK outcome: the prior
	// row and its fork both keep expired_at IS NULL, distinguished only
	// by their valid_at/invalid_at windows).
	ForkKnowledgeItem(ctx context.Context, orgID, id string, invalidAt time.Time) error

	// SoftDeleteKnowledgeItem sets deleted_at, scoped to the owning
	// agent (spec §4.4 DeleteMine: only the contributing agent may
	// delete its own item).
	SoftDeleteKnowledgeItem(ctx context.Context, orgID, id, agentID string, deletedAt time.Time) error

	// ListByAgent lists current, non-deleted items an agent
	// contributed within orgID (spec §4.4 ListMine).
	ListByAgent(ctx context.Context, orgID, agentID string) ([]domain.KnowledgeItem, error)

	// IncrementRetrievalCount bumps retrieval_count for each listed ID
	// (fire-and-forget signal recording, spec §4.5).
	IncrementRetrievalCount(ctx context.Context, ids []string) error

	// ListAllCurrent lists every current, non-deleted item across all
	// tenants — used by the distillation worker's clustering pass.
	ListAllCurrent(ctx context.Context, limit int) ([]domain.KnowledgeItem, error)

	// CountConflictFlagged counts current, non-deleted items across
	// every tenant tagged conflict_flagged — the other half of the
	// distillation job's conditional gate (spec.md §4.6 step 1).
	CountConflictFlagged(ctx context.Context) (int, error)

	// GetKnowledgeItemByID fetches one item by ID, unscoped by tenant.
	// Internal to the maintenance workers (quality aggregation,
	// distillation), which act across all tenants; never exposed to a
	// Principal-scoped boundary operation.
	GetKnowledgeItemByID(ctx context.Context, id string) (*domain.KnowledgeItem, error)

	Health(ctx context.Context) (*HealthStatus, error)
}
