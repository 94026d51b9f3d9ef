package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hivemind/core/pkg/capability"
	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/hmconfig"
	"github.com/hivemind/core/pkg/masking"
	"github.com/hivemind/core/pkg/store"
)

// cosineTopK mirrors pkg/dedup's fixed candidate width for clustering
// queries (spec.md §4.5's "top-K 10" is not one of the named runtime
// knobs in §6, so distillation reuses the same constant rather than
// inventing a second one).
const cosineTopK = 10

// summaryClusterMin is the smallest merge cluster distillation will
// summarize (spec.md §4.6 step 4: "for large clusters").
const summaryClusterMin = 3

// DistillationStore is the subset of store.KnowledgeStore the
// distillation job reads and writes, unscoped by tenant (the job
// sweeps every organization in one pass).
type DistillationStore interface {
	ListAllCurrent(ctx context.Context, limit int) ([]domain.KnowledgeItem, error)
	FindSimilar(ctx context.Context, orgID string, embedding []float32, limit int, includeCrossTenantPublic bool) ([]store.ScoredItem, error)
	UpdateKnowledgeItem(ctx context.Context, item *domain.KnowledgeItem) error
	ExpireKnowledgeItem(ctx context.Context, orgID, id string, expiredAt time.Time) error
	InsertKnowledgeItem(ctx context.Context, item *domain.KnowledgeItem) (string, error)
	CountConflictFlagged(ctx context.Context) (int, error)
}

// DistillationPendingStore is the subset of store.PendingRepo the
// conditional gate and pre-screening step read and write.
type DistillationPendingStore interface {
	CountAllPending(ctx context.Context) (int, error)
	ListAllPending(ctx context.Context) ([]domain.PendingContribution, error)
	SetPendingFlagged(ctx context.Context, orgID, id string, flagged bool) error
}

// Distillation runs the sleep-time consolidation pass: duplicate
// merge, contradiction flagging, cluster summarization, and pending
// quality pre-screening (spec.md §4.6 "Sleep-time distillation").
type Distillation struct {
	Config   ConfigStore
	Store    DistillationStore
	Pending  DistillationPendingStore
	LLM      capability.LLMClient
	Masking  *masking.Pipeline
	Embed    capability.EmbeddingProvider
	Cfg      hmconfig.Config
	Now      func() time.Time
	ScanSize int // ListAllCurrent page size; defaults to 10000 when 0
}

// NewDistillation wires a Distillation job. now defaults to time.Now
// when nil.
func NewDistillation(cfg ConfigStore, st DistillationStore, pending DistillationPendingStore, llm capability.LLMClient, maskPipeline *masking.Pipeline, embed capability.EmbeddingProvider, hc hmconfig.Config, now func() time.Time) *Distillation {
	if now == nil {
		now = time.Now
	}
	return &Distillation{Config: cfg, Store: st, Pending: pending, LLM: llm, Masking: maskPipeline, Embed: embed, Cfg: hc, Now: now, ScanSize: 10000}
}

func (d *Distillation) Name() string { return "distillation" }

// Run implements Job: the elapsed-time gate (DistillationInterval)
// first, then spec.md §4.6 step 1's threshold gate, both of which must
// pass before any consolidation work runs this tick.
func (d *Distillation) Run(ctx context.Context) (bool, error) {
	now := d.Now().UTC()

	lastRun, err := d.lastRun(ctx)
	if err != nil {
		return false, err
	}
	if now.Sub(lastRun) < d.Cfg.DistillationInterval {
		return false, nil
	}

	pendingCount, err := d.Pending.CountAllPending(ctx)
	if err != nil {
		return false, fmt.Errorf("workers: count all pending: %w", err)
	}
	conflictCount, err := d.Store.CountConflictFlagged(ctx)
	if err != nil {
		return false, fmt.Errorf("workers: count conflict flagged: %w", err)
	}
	if pendingCount < d.Cfg.DistillationPendingThreshold && conflictCount < d.Cfg.DistillationConflictThreshold {
		return false, nil
	}

	items, err := d.Store.ListAllCurrent(ctx, d.ScanSize)
	if err != nil {
		return false, fmt.Errorf("workers: list all current: %w", err)
	}

	clusters := d.clusterByCosine(ctx, items)

	mergedCount, err := d.mergeDuplicates(ctx, items, clusters, now)
	if err != nil {
		return false, fmt.Errorf("workers: merge duplicates: %w", err)
	}
	if mergedCount > 0 {
		slog.InfoContext(ctx, "workers: merged duplicate clusters", "merged_count", mergedCount)
	}

	if err := d.flagContradictions(ctx, items, clusters); err != nil {
		return false, fmt.Errorf("workers: flag contradictions: %w", err)
	}

	if err := d.generateSummaries(ctx, items, clusters, now); err != nil {
		return false, fmt.Errorf("workers: generate summaries: %w", err)
	}

	if err := d.preScreenPending(ctx); err != nil {
		return false, fmt.Errorf("workers: pre-screen pending: %w", err)
	}

	if err := d.Config.SetConfig(ctx, domain.ConfigKeyDistillationLastRun, now.Format(time.RFC3339Nano)); err != nil {
		return false, fmt.Errorf("workers: advance distillation last_run: %w", err)
	}
	return true, nil
}

func (d *Distillation) lastRun(ctx context.Context) (time.Time, error) {
	value, ok, err := d.Config.GetConfig(ctx, domain.ConfigKeyDistillationLastRun)
	if err != nil {
		return time.Time{}, fmt.Errorf("workers: read distillation last_run: %w", err)
	}
	if !ok {
		return time.Unix(0, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("workers: parse distillation last_run: %w", err)
	}
	return t, nil
}

// cluster is a connected component of near-duplicate candidates,
// holding indexes into the items slice passed to clusterByCosine.
type cluster []int

// clusterByCosine builds connected components over items whose cosine
// distance is within Cfg.CosineDedupThreshold of each other (spec.md
// §4.6 step 2: "cluster near-duplicates by pgvector cosine pairs ->
// connected components"), using each item's own FindSimilar query as
// the pairwise-distance source rather than an O(n^2) in-process scan.
func (d *Distillation) clusterByCosine(ctx context.Context, items []domain.KnowledgeItem) []cluster {
	idx := make(map[string]int, len(items))
	for i, it := range items {
		idx[it.ID] = i
	}

	uf := newUnionFind(len(items))
	for i, it := range items {
		if len(it.Embedding) == 0 {
			continue
		}
		neighbors, err := d.Store.FindSimilar(ctx, it.OrgID, it.Embedding, cosineTopK, true)
		if err != nil {
			slog.WarnContext(ctx, "workers: clustering find-similar failed, skipping item", "error", err, "item_id", it.ID)
			continue
		}
		for _, n := range neighbors {
			if n.Item.ID == it.ID || n.Distance > d.Cfg.CosineDedupThreshold {
				continue
			}
			if j, ok := idx[n.Item.ID]; ok {
				uf.union(i, j)
			}
		}
	}
	return uf.clusters()
}

// mergeDuplicates applies spec.md §4.6 step 2: for each cluster with
// more than one member, keep the canonical (highest quality, then
// newest, then highest confidence) and expire the rest, recording the
// losers as provenance on the canonical. Duplicates are never
// physically deleted.
func (d *Distillation) mergeDuplicates(ctx context.Context, items []domain.KnowledgeItem, clusters []cluster, now time.Time) (int, error) {
	merged := 0
	for _, c := range clusters {
		if len(c) < 2 {
			continue
		}
		canonical := c[0]
		for _, m := range c[1:] {
			if betterCanonical(items[m], items[canonical]) {
				canonical = m
			}
		}

		var losers []string
		for _, m := range c {
			if m == canonical {
				continue
			}
			losers = append(losers, items[m].ID)
		}
		if len(losers) == 0 {
			continue
		}

		canonicalItem := items[canonical]
		canonicalItem.Tags.ProvenanceLinks = append(canonicalItem.Tags.ProvenanceLinks, losers...)
		if err := d.Store.UpdateKnowledgeItem(ctx, &canonicalItem); err != nil {
			return merged, fmt.Errorf("update canonical %s: %w", canonicalItem.ID, err)
		}
		for _, loserID := range losers {
			loser := items[idx(items, loserID)]
			if err := d.Store.ExpireKnowledgeItem(ctx, loser.OrgID, loser.ID, now); err != nil {
				return merged, fmt.Errorf("expire loser %s: %w", loserID, err)
			}
		}
		merged += len(losers)
	}
	return merged, nil
}

func betterCanonical(a, b domain.KnowledgeItem) bool {
	if a.QualityScore != b.QualityScore {
		return a.QualityScore > b.QualityScore
	}
	if !a.ContributedAt.Equal(b.ContributedAt) {
		return a.ContributedAt.After(b.ContributedAt)
	}
	return a.Confidence > b.Confidence
}

const contradictionPrompt = `Two pieces of operational knowledge describe the same situation. Decide whether they are CONTRADICTORY (they give conflicting guidance or facts about the same thing) or COMPATIBLE (they agree, or address different aspects).

Entry A:
%s

Entry B:
%s

Reply with exactly one word: CONTRADICTORY or COMPATIBLE.`

// flagContradictions applies spec.md §4.6 step 3: within each
// near-duplicate cluster (the same candidate set mergeDuplicates
// considered), ask the LLM capability whether members are
// semantically opposite rather than merely near-duplicate text, and
// tag both with contradiction_flagged rather than resolving
// automatically. Any LLM failure is treated as COMPATIBLE (no flag) —
// distillation is best-effort background consolidation, not a gate
// that must block on a flaky capability.
func (d *Distillation) flagContradictions(ctx context.Context, items []domain.KnowledgeItem, clusters []cluster) error {
	for _, c := range clusters {
		if len(c) < 2 {
			continue
		}
		contradictory := false
		for i := 0; i < len(c) && !contradictory; i++ {
			for j := i + 1; j < len(c); j++ {
				if d.isContradictory(ctx, items[c[i]], items[c[j]]) {
					contradictory = true
					break
				}
			}
		}
		if !contradictory {
			continue
		}
		for _, m := range c {
			item := items[m]
			if item.Tags.ContradictionFlag {
				continue
			}
			item.Tags.ContradictionFlag = true
			if err := d.Store.UpdateKnowledgeItem(ctx, &item); err != nil {
				return fmt.Errorf("flag contradiction on %s: %w", item.ID, err)
			}
		}
	}
	return nil
}

func (d *Distillation) isContradictory(ctx context.Context, a, b domain.KnowledgeItem) bool {
	prompt := fmt.Sprintf(contradictionPrompt, a.Content, b.Content)
	resp, err := d.LLM.Complete(ctx, prompt, d.Cfg.LLMTimeout)
	if err != nil {
		slog.WarnContext(ctx, "workers: contradiction classifier unavailable", "error", err, "item_a", a.ID, "item_b", b.ID)
		return false
	}
	return strings.Contains(strings.ToUpper(resp), "CONTRADICTORY")
}

// clusterHeartbeatStale is how long a recorded cluster-summarization
// start may go without completing before the next run treats it as
// orphaned (crashed worker) rather than still in flight, and retries
// it instead of skipping it forever.
const clusterHeartbeatStale = 15 * time.Minute

// generateSummaries applies spec.md §4.6 step 4: clusters at or above
// summaryClusterMin get an LLM-written consolidated summary, which
// MUST pass through the PII pipeline again before storage (the
// narrative came from the LLM, not a vetted prior pass) — the
// masking.Pipeline dependency is injected rather than constructed
// here, so the worker never loads NLP artifacts until a qualifying
// cluster actually exists (spec.md §4.6: "imported lazily to avoid
// loading large NLP artifacts at worker startup").
//
// Large-cluster summarization can run past a single scheduler tick, so
// each cluster's start is recorded as a heartbeat in ConfigStore before
// the LLM call (mirroring the teacher's last_interaction_at orphan
// heartbeat) and cleared on completion; a heartbeat still younger than
// clusterHeartbeatStale means another in-flight run owns this cluster,
// so this pass skips it rather than double-summarizing.
func (d *Distillation) generateSummaries(ctx context.Context, items []domain.KnowledgeItem, clusters []cluster, now time.Time) error {
	for _, c := range clusters {
		if len(c) < summaryClusterMin {
			continue
		}
		members := make([]domain.KnowledgeItem, len(c))
		sourceIDs := make([]string, len(c))
		for i, m := range c {
			members[i] = items[m]
			sourceIDs[i] = items[m].ID
		}

		heartbeatKey := clusterHeartbeatKey(sourceIDs)
		inFlight, err := d.clusterInFlight(ctx, heartbeatKey, now)
		if err != nil {
			return err
		}
		if inFlight {
			slog.InfoContext(ctx, "workers: cluster summarization already in flight, skipping", "heartbeat_key", heartbeatKey)
			continue
		}
		if err := d.Config.SetConfig(ctx, heartbeatKey, now.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("record cluster heartbeat: %w", err)
		}

		summary, err := d.summarizeCluster(ctx, members)
		if err != nil {
			slog.WarnContext(ctx, "workers: cluster summarization failed, skipping", "error", err)
			d.clearHeartbeat(ctx, heartbeatKey)
			continue
		}

		redacted, err := d.Masking.Redact(ctx, summary)
		if err != nil {
			return fmt.Errorf("redact summary: %w", err)
		}
		if redacted.Rejected {
			slog.WarnContext(ctx, "workers: generated summary rejected for excess PII, skipping")
			d.clearHeartbeat(ctx, heartbeatKey)
			continue
		}

		embedding, err := d.Embed.Embed(ctx, redacted.Redacted)
		if err != nil {
			return fmt.Errorf("embed summary: %w", err)
		}

		canonical := members[0]
		item := &domain.KnowledgeItem{
			OrgID:         canonical.OrgID,
			Content:       redacted.Redacted,
			Title:         "Consolidated summary",
			Category:      canonical.Category,
			ContentHash:   domain.ContentHash(redacted.Redacted),
			Embedding:     embedding,
			SourceAgentID: "distillation",
			ContributedAt: now,
			Confidence:    canonical.Confidence,
			QualityScore:  0.6,
			Tags:          domain.Tags{SourceItemIDs: sourceIDs},
		}
		if _, err := d.Store.InsertKnowledgeItem(ctx, item); err != nil {
			return fmt.Errorf("insert summary: %w", err)
		}
		d.clearHeartbeat(ctx, heartbeatKey)
	}
	return nil
}

// clusterHeartbeatKey derives a stable ConfigStore key for a cluster
// from its member IDs, independent of clustering order.
func clusterHeartbeatKey(sourceIDs []string) string {
	sorted := append([]string(nil), sourceIDs...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return "distillation_cluster_started:" + hex.EncodeToString(sum[:8])
}

// clusterInFlight reports whether heartbeatKey was recorded recently
// enough that another run must still own this cluster. A heartbeat
// older than clusterHeartbeatStale is treated as orphaned by a crashed
// worker and this run retries the cluster instead of skipping it.
func (d *Distillation) clusterInFlight(ctx context.Context, heartbeatKey string, now time.Time) (bool, error) {
	value, ok, err := d.Config.GetConfig(ctx, heartbeatKey)
	if err != nil {
		return false, fmt.Errorf("read cluster heartbeat: %w", err)
	}
	if !ok {
		return false, nil
	}
	started, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return false, nil
	}
	return now.Sub(started) < clusterHeartbeatStale, nil
}

func (d *Distillation) clearHeartbeat(ctx context.Context, heartbeatKey string) {
	if err := d.Config.SetConfig(ctx, heartbeatKey, ""); err != nil {
		slog.WarnContext(ctx, "workers: clear cluster heartbeat failed", "error", err, "heartbeat_key", heartbeatKey)
	}
}

const summaryPrompt = `Write one consolidated knowledge-base entry that captures what these related entries all say, in neutral third-person prose. Do not include markers like "Entry 1" — write a single coherent passage.

%s`

func (d *Distillation) summarizeCluster(ctx context.Context, members []domain.KnowledgeItem) (string, error) {
	var b strings.Builder
	for i, m := range members {
		fmt.Fprintf(&b, "--- Entry %d ---\n%s\n\n", i+1, m.Content)
	}
	return d.LLM.Complete(ctx, fmt.Sprintf(summaryPrompt, b.String()), d.Cfg.LLMTimeout)
}

// preScreenPending applies spec.md §4.6 step 5: pending contributions
// have no behavioral history yet, so a preliminary quality signal is
// approximated from (1 - confidence) as a contradiction-rate proxy —
// items below DistillationPreScreenThreshold are flagged for human
// review but never auto-rejected.
func (d *Distillation) preScreenPending(ctx context.Context) error {
	pending, err := d.Pending.ListAllPending(ctx)
	if err != nil {
		return fmt.Errorf("list all pending: %w", err)
	}
	for _, p := range pending {
		score := ComputePreScreenScore(p.Confidence, d.Cfg.QualityWeights)
		if score >= d.Cfg.DistillationPreScreenThreshold {
			continue
		}
		if err := d.Pending.SetPendingFlagged(ctx, p.OrgID, p.ID, true); err != nil {
			return fmt.Errorf("flag pending %s: %w", p.ID, err)
		}
	}
	return nil
}

// ComputePreScreenScore is the pure pre-screening function from
// spec.md §4.6 step 5. A pending contribution has no usefulness,
// popularity, or version-currency signal yet, and is "just
// contributed" so freshness is at its maximum (1); only the
// contradiction-rate proxy (1 - confidence) varies.
func ComputePreScreenScore(confidence float64, weights hmconfig.QualityWeights) float64 {
	contradictionRate := 1 - confidence
	raw := weights.Freshness*1.0 - weights.Contradiction*contradictionRate
	return domain.ClampQuality(raw)
}

func idx(items []domain.KnowledgeItem, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// unionFind is a minimal disjoint-set structure for connected-
// components clustering. Not safe for concurrent use — each
// Distillation.Run call builds and discards its own instance.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

func (u *unionFind) clusters() []cluster {
	groups := make(map[int]cluster)
	for i := range u.parent {
		root := u.find(i)
		groups[root] = append(groups[root], i)
	}
	out := make([]cluster, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	return out
}
