// Package retrieval implements hybrid vector+lexical search with
// Reciprocal Rank Fusion, quality boosting, temporal filtering, and
// cross-tenant deduplication (spec.md §4.4).
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/hmconfig"
	"github.com/hivemind/core/pkg/store"
)

// SearchStore is the subset of store.KnowledgeStore the search engine
// reads and updates.
type SearchStore interface {
	FindSimilar(ctx context.Context, orgID string, embedding []float32, limit int, includeCrossTenantPublic bool) ([]store.ScoredItem, error)
	LexicalSearch(ctx context.Context, orgID, query string, limit int, includeCrossTenantPublic bool) ([]store.ScoredItem, error)
	GetKnowledgeItem(ctx context.Context, orgID, id string) (*domain.KnowledgeItem, error)
	IncrementRetrievalCount(ctx context.Context, ids []string) error
}

// SignalRecorder records fire-and-forget behavioral evidence.
type SignalRecorder interface {
	InsertSignal(ctx context.Context, sig *domain.QualitySignal) error
}

// Request is one SearchKnowledge call (spec.md §6).
type Request struct {
	Principal      domain.Principal
	QueryText      string
	QueryEmbedding []float32
	Category       *domain.Category
	// AtTime requests a point-in-time view: only rows whose
	// valid_at/invalid_at window covers AtTime are returned, and
	// Version (if set) is honored only in combination with AtTime.
	AtTime  *time.Time
	Version string
	Limit   int
}

// Result is one ranked hit.
type Result struct {
	Item       domain.KnowledgeItem
	FinalScore float64
}

// Engine composes the store's two candidate sets into one ranked list.
type Engine struct {
	Store   SearchStore
	Signals SignalRecorder
	Cfg     hmconfig.Config
	Now     func() time.Time
}

// NewEngine wires an Engine. now defaults to time.Now when nil.
func NewEngine(st SearchStore, signals SignalRecorder, cfg hmconfig.Config, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{Store: st, Signals: signals, Cfg: cfg, Now: now}
}

// Search runs the hybrid vector+lexical query, fuses by RRF, applies
// the quality boost, filters, and cross-tenant dedup, then
// fire-and-forgets retrieval signals for the returned ids.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	limit := req.Limit
	if limit <= 0 || limit > e.Cfg.MaxSearchLimit {
		limit = e.Cfg.MaxSearchLimit
	}
	includeCrossTenantPublic := true

	vector, err := e.Store.FindSimilar(ctx, req.Principal.OrgID, req.QueryEmbedding, e.Cfg.VectorTopK, includeCrossTenantPublic)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector search: %w", err)
	}
	lexical, err := e.Store.LexicalSearch(ctx, req.Principal.OrgID, req.QueryText, e.Cfg.LexicalTopK, includeCrossTenantPublic)
	if err != nil {
		return nil, fmt.Errorf("retrieval: lexical search: %w", err)
	}

	fused := fuse(vector, lexical, e.Cfg.RRFK)
	scored := boostQuality(fused, e.Cfg.QualityBoostBase, e.Cfg.QualityBoostWeight)

	filtered := filterResults(scored, req)
	deduped := dedupByContentHash(filtered)

	sort.SliceStable(deduped, func(i, j int) bool { return deduped[i].FinalScore > deduped[j].FinalScore })
	if len(deduped) > limit {
		deduped = deduped[:limit]
	}

	e.recordSignals(ctx, req.Principal.AgentID, deduped)
	return deduped, nil
}

type fusedItem struct {
	item domain.KnowledgeItem
	rrf  float64
}

// fuse merges two rank-ordered candidate sets (best result first in
// each) via Reciprocal Rank Fusion: rrf(id) = Σ 1/(k+rank_i).
func fuse(vector, lexical []store.ScoredItem, k int) []fusedItem {
	byID := make(map[string]*fusedItem)
	var order []string

	add := func(items []store.ScoredItem) {
		for i, si := range items {
			rank := i + 1
			contrib := 1.0 / float64(k+rank)
			if f, ok := byID[si.Item.ID]; ok {
				f.rrf += contrib
				continue
			}
			f := &fusedItem{item: si.Item, rrf: contrib}
			byID[si.Item.ID] = f
			order = append(order, si.Item.ID)
		}
	}
	add(vector)
	add(lexical)

	out := make([]fusedItem, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// boostQuality applies final_score(id) = rrf(id) * (base + weight * quality_score(id)).
func boostQuality(items []fusedItem, base, weight float64) []Result {
	out := make([]Result, 0, len(items))
	for _, f := range items {
		out = append(out, Result{
			Item:       f.item,
			FinalScore: f.rrf * (base + weight*f.item.QualityScore),
		})
	}
	return out
}

// filterResults applies the conjunction of filtering predicates spec.md
// §4.4 names beyond what the store query already enforces (tenant
// visibility, soft-delete, and non-null embedding are enforced in the
// store query itself): embedding presence (defensive, in case the
// lexical set surfaced a row with no vector yet) and the optional
// point-in-time temporal filter.
func filterResults(items []Result, req Request) []Result {
	out := items[:0]
	for _, r := range items {
		if len(r.Item.Embedding) == 0 {
			continue
		}
		if req.Category != nil && r.Item.Category != *req.Category {
			continue
		}
		if req.AtTime != nil && !coversTime(r.Item, *req.AtTime) {
			continue
		}
		if req.AtTime != nil && req.Version != "" && r.Item.ID != req.Version {
			continue
		}
		out = append(out, r)
	}
	return out
}

// coversTime reports whether item's world-time validity window covers
// t: (valid_at IS NULL OR valid_at <= t) AND (invalid_at IS NULL OR
// invalid_at > t) AND expired_at IS NULL (spec.md §4.4).
func coversTime(item domain.KnowledgeItem, t time.Time) bool {
	if item.ExpiredAt != nil {
		return false
	}
	if item.ValidAt != nil && item.ValidAt.After(t) {
		return false
	}
	if item.InvalidAt != nil && !item.InvalidAt.After(t) {
		return false
	}
	return true
}

// dedupByContentHash keeps the first occurrence of each content_hash
// in ranked order (best-ranked first), dropping later duplicates
// across tenants (spec.md §4.4's cross-tenant dedup).
func dedupByContentHash(items []Result) []Result {
	seen := make(map[string]bool, len(items))
	out := make([]Result, 0, len(items))
	for _, r := range items {
		if seen[r.Item.ContentHash] {
			continue
		}
		seen[r.Item.ContentHash] = true
		out = append(out, r)
	}
	return out
}

// recordSignals fire-and-forgets a retrieval QualitySignal per
// returned item plus a single batched retrieval_count increment, per
// spec.md §4.4 ("this must not add to response latency").
func (e *Engine) recordSignals(parent context.Context, agentID string, results []Result) {
	if len(results) == 0 {
		return
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Item.ID
	}

	go func() {
		ctx := context.WithoutCancel(parent)
		now := e.Now().UTC()

		if err := e.Store.IncrementRetrievalCount(ctx, ids); err != nil {
			slog.ErrorContext(ctx, "retrieval: increment retrieval count failed", "error", err)
		}
		for _, id := range ids {
			sig := &domain.QualitySignal{
				KnowledgeItemID: id,
				SignalType:      domain.SignalRetrieval,
				AgentID:         agentID,
				CreatedAt:       now,
			}
			if err := e.Signals.InsertSignal(ctx, sig); err != nil {
				slog.ErrorContext(ctx, "retrieval: insert retrieval signal failed", "error", err, "item_id", id)
			}
		}
	}()
}
