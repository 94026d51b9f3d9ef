package retrieval_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/hmconfig"
	"github.com/hivemind/core/pkg/retrieval"
	"github.com/hivemind/core/test/dbtest"
)

func vectorNear(seed float32) []float32 {
	v := make([]float32, 256)
	v[0] = seed
	v[1] = 1
	return v
}

// TestEngine_HybridSearchFusesRealCosineAndLexicalRanks runs the
// vector (pgvector HNSW cosine) and lexical (tsvector/ts_rank) queries
// against a live Postgres instance and checks the Reciprocal Rank
// Fusion and quality boost the sqlmock-fed unit tests can only assert
// against pre-canned rows, not a real ranking.
func TestEngine_HybridSearchFusesRealCosineAndLexicalRanks(t *testing.T) {
	st := dbtest.NewStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	insert := func(content string, quality float64, seed float32) string {
		id, err := st.InsertKnowledgeItem(ctx, &domain.KnowledgeItem{
			OrgID: "acme", Content: content, Category: domain.CategoryTooling,
			ContentHash: "hash-" + content, Embedding: vectorNear(seed), SourceAgentID: "agent-1",
			ContributedAt: now, Confidence: 0.9, QualityScore: quality,
		})
		require.NoError(t, err)
		return id
	}

	// Close to the query vector and lexically matching: should win on
	// both candidate lists and therefore rank first after fusion.
	both := insert("kubernetes pod eviction caused by memory pressure", 0.8, 1.0)
	// Close vector match only, mediocre quality.
	vectorOnly := insert("totally unrelated narrative with no shared terms", 0.5, 1.01)
	// Lexical match only, far from the query vector, high quality
	// (tests that the quality boost multiplies rather than overrides rank).
	lexicalOnly := insert("kubernetes pod eviction notes filed separately", 0.95, -5.0)

	engine := retrieval.NewEngine(st, st, hmconfig.Default(), func() time.Time { return now })

	results, err := engine.Search(ctx, retrieval.Request{
		Principal:      domain.Principal{OrgID: "acme", AgentID: "agent-2"},
		QueryText:      "kubernetes pod eviction",
		QueryEmbedding: vectorNear(1.0),
		Limit:          10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Item.ID
	}
	assert.Contains(t, ids, both)
	assert.Contains(t, ids, vectorOnly)
	assert.Contains(t, ids, lexicalOnly)
	assert.Equal(t, both, ids[0], "the item present in both candidate lists should rank first after RRF")
}

// TestEngine_TemporalFilterHonorsRealBitemporalWindow checks
// coversTime against rows whose valid_at/invalid_at window was
// actually written to and read back from Postgres, not synthesized in
// the test process.
func TestEngine_TemporalFilterHonorsRealBitemporalWindow(t *testing.T) {
	st := dbtest.NewStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	cutover := now.Add(-24 * time.Hour)
	before := now.Add(-48 * time.Hour)
	after := now.Add(-1 * time.Hour)

	// Original fact, valid only up to the fork's cutover.
	_, err := st.InsertKnowledgeItem(ctx, &domain.KnowledgeItem{
		OrgID: "acme", Content: "pre-cutover fact about the retry policy", Category: domain.CategoryConfiguration,
		ContentHash: "hash-prior", Embedding: vectorNear(2.0), SourceAgentID: "agent-1",
		ContributedAt: before, Confidence: 0.9, InvalidAt: &cutover,
	})
	require.NoError(t, err)

	// Forked fact, valid from the cutover onward.
	forkedID, err := st.InsertKnowledgeItem(ctx, &domain.KnowledgeItem{
		OrgID: "acme", Content: "post-cutover fact about the retry policy", Category: domain.CategoryConfiguration,
		ContentHash: "hash-forked", Embedding: vectorNear(2.01), SourceAgentID: "agent-1",
		ContributedAt: cutover, Confidence: 0.9, ValidAt: &cutover,
	})
	require.NoError(t, err)

	engine := retrieval.NewEngine(st, st, hmconfig.Default(), func() time.Time { return now })

	atBefore := before.Add(time.Hour)
	beforeResults, err := engine.Search(ctx, retrieval.Request{
		Principal: domain.Principal{OrgID: "acme", AgentID: "agent-2"}, QueryText: "retry policy",
		QueryEmbedding: vectorNear(2.0), AtTime: &atBefore, Limit: 10,
	})
	require.NoError(t, err)
	var beforeIDs []string
	for _, r := range beforeResults {
		beforeIDs = append(beforeIDs, r.Item.ID)
	}
	assert.NotContains(t, beforeIDs, forkedID, "the fork isn't valid yet at a point-in-time before its cutover")

	afterResults, err := engine.Search(ctx, retrieval.Request{
		Principal: domain.Principal{OrgID: "acme", AgentID: "agent-2"}, QueryText: "retry policy",
		QueryEmbedding: vectorNear(2.0), AtTime: &after, Limit: 10,
	})
	require.NoError(t, err)
	var afterIDs []string
	for _, r := range afterResults {
		afterIDs = append(afterIDs, r.Item.ID)
	}
	assert.Contains(t, afterIDs, forkedID, "the fork must be visible at a point-in-time after its cutover")
}
