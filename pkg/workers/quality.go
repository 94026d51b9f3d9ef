package workers

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/hmconfig"
	"github.com/hivemind/core/pkg/store"
)

// ConfigStore is the DeploymentConfig subset a Job's elapsed-time gate
// reads and advances (spec.md §3 "survives restart").
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (value string, ok bool, err error)
	SetConfig(ctx context.Context, key, value string) error
}

// QualityStore is the subset of store.KnowledgeStore the aggregation
// job reads and writes. Unscoped by tenant: the job runs across every
// organization in one pass (spec.md §4.6).
type QualityStore interface {
	GetKnowledgeItemByID(ctx context.Context, id string) (*domain.KnowledgeItem, error)
	UpdateKnowledgeItem(ctx context.Context, item *domain.KnowledgeItem) error
}

// QualityAggregator recomputes quality_score for every item touched by
// a behavioral signal since its last run (spec.md §4.6 "Quality
// aggregation").
type QualityAggregator struct {
	Config  ConfigStore
	Signals store.SignalRepo
	Items   QualityStore
	Cfg     hmconfig.Config
	Now     func() time.Time
}

// NewQualityAggregator wires a QualityAggregator. now defaults to
// time.Now when nil.
func NewQualityAggregator(cfg ConfigStore, signals store.SignalRepo, items QualityStore, hc hmconfig.Config, now func() time.Time) *QualityAggregator {
	if now == nil {
		now = time.Now
	}
	return &QualityAggregator{Config: cfg, Signals: signals, Items: items, Cfg: hc, Now: now}
}

func (q *QualityAggregator) Name() string { return "quality_aggregation" }

// Run implements Job. It is idempotent at the last_run-advance step:
// a tick that fires before Cfg.QualityAggregationInterval has elapsed
// since the recorded last_run does nothing.
func (q *QualityAggregator) Run(ctx context.Context) (bool, error) {
	now := q.Now().UTC()

	lastRun, err := q.lastRun(ctx)
	if err != nil {
		return false, err
	}
	if now.Sub(lastRun) < q.Cfg.QualityAggregationInterval {
		return false, nil
	}

	affected, err := q.Signals.ListAffectedSince(ctx, lastRun)
	if err != nil {
		return false, fmt.Errorf("workers: list affected items: %w", err)
	}

	for _, id := range affected {
		if err := q.scoreOne(ctx, id, now); err != nil {
			return false, fmt.Errorf("workers: score item %s: %w", id, err)
		}
	}

	if err := q.Config.SetConfig(ctx, domain.ConfigKeyQualityAggregationLastRun, now.Format(time.RFC3339Nano)); err != nil {
		return false, fmt.Errorf("workers: advance quality aggregation last_run: %w", err)
	}
	return len(affected) > 0, nil
}

func (q *QualityAggregator) scoreOne(ctx context.Context, id string, now time.Time) error {
	item, err := q.Items.GetKnowledgeItemByID(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch item: %w", err)
	}

	counts, err := q.Signals.AggregateSince(ctx, id, time.Time{})
	if err != nil {
		return fmt.Errorf("aggregate signals: %w", err)
	}

	lastRetrieval, hasRetrieval, err := q.Signals.LastRetrievalAt(ctx, id)
	if err != nil {
		return fmt.Errorf("last retrieval: %w", err)
	}
	freshnessAnchor := item.ContributedAt
	if hasRetrieval {
		freshnessAnchor = lastRetrieval
	}

	item.QualityScore = ComputeQualityScore(item.HelpfulCount, item.NotHelpful, counts, item.RetrievalCount, item.IsCurrent(), freshnessAnchor, now, q.Cfg.QualityWeights, q.Cfg.QualityHalfLifeDays)

	if err := q.Items.UpdateKnowledgeItem(ctx, item); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func (q *QualityAggregator) lastRun(ctx context.Context) (time.Time, error) {
	value, ok, err := q.Config.GetConfig(ctx, domain.ConfigKeyQualityAggregationLastRun)
	if err != nil {
		return time.Time{}, fmt.Errorf("workers: read quality aggregation last_run: %w", err)
	}
	if !ok {
		return time.Unix(0, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("workers: parse quality aggregation last_run: %w", err)
	}
	return t, nil
}

// ComputeQualityScore is the pure scoring function from spec.md §4.6
// step 3: no DB calls, so it is unit-testable in isolation from the
// store. usefulness is computed from the item's denormalized
// helpful/not-helpful counters (the literal spec.md formula);
// contradictionRate is computed from the quality_signals table's
// all-time contradiction vs. outcome-signal counts, since there is no
// denormalized contradiction counter on KnowledgeItem. freshnessAnchor
// is the most recent retrieval time, falling back to the item's
// contribution time when it has never been retrieved (an Open
// Question spec.md §9 left to the implementer — documented in
// DESIGN.md).
func ComputeQualityScore(helpfulCount, notHelpfulCount int, counts store.SignalCounts, retrievalCount int, isVersionCurrent bool, freshnessAnchor, now time.Time, weights hmconfig.QualityWeights, halfLifeDays float64) float64 {
	usefulness := 0.0
	if denom := helpfulCount + notHelpfulCount; denom > 0 {
		usefulness = float64(helpfulCount) / float64(denom)
	}

	popularity := math.Tanh(float64(retrievalCount) / 50)

	daysSinceRetrieval := now.Sub(freshnessAnchor).Hours() / 24
	if daysSinceRetrieval < 0 {
		daysSinceRetrieval = 0
	}
	freshness := math.Exp(-math.Ln2 * daysSinceRetrieval / halfLifeDays)

	contradictionRate := 0.0
	if outcomeTotal := counts.OutcomeSolved + counts.OutcomeNotHelp + counts.Contradictions; outcomeTotal > 0 {
		contradictionRate = float64(counts.Contradictions) / float64(outcomeTotal)
	}

	raw := weights.Usefulness*usefulness +
		weights.Popularity*popularity +
		weights.Freshness*freshness -
		weights.Contradiction*contradictionRate
	if isVersionCurrent {
		raw += weights.VersionCurrent
	}

	return domain.ClampQuality(raw)
}
