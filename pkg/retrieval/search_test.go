package retrieval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/hmconfig"
	"github.com/hivemind/core/pkg/store"
)

type fakeSearchStore struct {
	mu          sync.Mutex
	vector      []store.ScoredItem
	lexical     []store.ScoredItem
	items       map[string]*domain.KnowledgeItem
	incremented []string
}

func newFakeSearchStore() *fakeSearchStore {
	return &fakeSearchStore{items: make(map[string]*domain.KnowledgeItem)}
}

func (f *fakeSearchStore) FindSimilar(ctx context.Context, orgID string, embedding []float32, limit int, includeCrossTenantPublic bool) ([]store.ScoredItem, error) {
	return f.vector, nil
}

func (f *fakeSearchStore) LexicalSearch(ctx context.Context, orgID, query string, limit int, includeCrossTenantPublic bool) ([]store.ScoredItem, error) {
	return f.lexical, nil
}

func (f *fakeSearchStore) GetKnowledgeItem(ctx context.Context, orgID, id string) (*domain.KnowledgeItem, error) {
	item := f.items[id]
	cp := *item
	return &cp, nil
}

func (f *fakeSearchStore) IncrementRetrievalCount(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incremented = append(f.incremented, ids...)
	return nil
}

type fakeSignalRecorder struct {
	mu   sync.Mutex
	sigs []*domain.QualitySignal
}

func (f *fakeSignalRecorder) InsertSignal(ctx context.Context, sig *domain.QualitySignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sigs = append(f.sigs, sig)
	return nil
}

func (f *fakeSignalRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sigs)
}

func withEmbedding(item domain.KnowledgeItem) domain.KnowledgeItem {
	if item.Embedding == nil {
		item.Embedding = []float32{0.1, 0.2}
	}
	return item
}

func TestEngine_FusesVectorAndLexicalRanking(t *testing.T) {
	st := newFakeSearchStore()
	a := withEmbedding(domain.KnowledgeItem{ID: "a", ContentHash: "ha", QualityScore: 0.5})
	b := withEmbedding(domain.KnowledgeItem{ID: "b", ContentHash: "hb", QualityScore: 0.5})
	st.vector = []store.ScoredItem{{Item: a, Distance: 0.1}, {Item: b, Distance: 0.2}}
	st.lexical = []store.ScoredItem{{Item: b, Distance: 0}, {Item: a, Distance: 0}}

	cfg := hmconfig.Default()
	e := NewEngine(st, &fakeSignalRecorder{}, cfg, nil)

	results, err := e.Search(context.Background(), Request{Principal: domain.Principal{OrgID: "acme"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Both items appear rank 1 in one set and rank 2 in the other, so
	// their RRF scores (and quality boosts) tie; fusion must still
	// surface exactly the union with no item dropped or duplicated.
	ids := map[string]bool{results[0].Item.ID: true, results[1].Item.ID: true}
	assert.True(t, ids["a"])
	assert.True(t, ids["b"])
}

func TestEngine_QualityBoostRanksHigherQualityAboveTie(t *testing.T) {
	st := newFakeSearchStore()
	low := withEmbedding(domain.KnowledgeItem{ID: "low", ContentHash: "h1", QualityScore: 0.1})
	high := withEmbedding(domain.KnowledgeItem{ID: "high", ContentHash: "h2", QualityScore: 0.9})
	st.vector = []store.ScoredItem{{Item: low, Distance: 0.1}, {Item: high, Distance: 0.1}}
	st.lexical = nil

	cfg := hmconfig.Default()
	e := NewEngine(st, &fakeSignalRecorder{}, cfg, nil)

	results, err := e.Search(context.Background(), Request{Principal: domain.Principal{OrgID: "acme"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	// "low" ranks 1 and "high" ranks 2 in the raw vector set, but the
	// quality gap (0.1 vs 0.9) is large enough to overturn that small
	// rank difference once the quality boost is applied.
	assert.Equal(t, "high", results[0].Item.ID)
	assert.Equal(t, "low", results[1].Item.ID)
}

func TestEngine_CrossTenantDedupKeepsFirstOccurrence(t *testing.T) {
	st := newFakeSearchStore()
	private := withEmbedding(domain.KnowledgeItem{ID: "priv", OrgID: "acme", ContentHash: "dup", QualityScore: 0.5})
	public := withEmbedding(domain.KnowledgeItem{ID: "pub", OrgID: "globex", ContentHash: "dup", IsPublic: true, QualityScore: 0.5})
	st.vector = []store.ScoredItem{{Item: private, Distance: 0.1}, {Item: public, Distance: 0.1}}

	cfg := hmconfig.Default()
	e := NewEngine(st, &fakeSignalRecorder{}, cfg, nil)

	results, err := e.Search(context.Background(), Request{Principal: domain.Principal{OrgID: "acme"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "priv", results[0].Item.ID)
}

func TestEngine_TemporalFilterHonorsValidityWindow(t *testing.T) {
	validFrom := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	forkAt := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	prior := withEmbedding(domain.KnowledgeItem{ID: "prior", ContentHash: "h1", ValidAt: &validFrom, InvalidAt: &forkAt, QualityScore: 0.5})
	fork := withEmbedding(domain.KnowledgeItem{ID: "fork", ContentHash: "h2", ValidAt: &forkAt, QualityScore: 0.5})

	st := newFakeSearchStore()
	st.vector = []store.ScoredItem{{Item: prior, Distance: 0.1}, {Item: fork, Distance: 0.1}}

	cfg := hmconfig.Default()
	e := NewEngine(st, &fakeSignalRecorder{}, cfg, nil)

	before := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	results, err := e.Search(context.Background(), Request{Principal: domain.Principal{OrgID: "acme"}, AtTime: &before, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "prior", results[0].Item.ID)

	after := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	results, err = e.Search(context.Background(), Request{Principal: domain.Principal{OrgID: "acme"}, AtTime: &after, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fork", results[0].Item.ID)
}

func TestEngine_VersionFilterIgnoredWithoutAtTime(t *testing.T) {
	a := withEmbedding(domain.KnowledgeItem{ID: "a", ContentHash: "h1", QualityScore: 0.5})
	b := withEmbedding(domain.KnowledgeItem{ID: "b", ContentHash: "h2", QualityScore: 0.5})
	st := newFakeSearchStore()
	st.vector = []store.ScoredItem{{Item: a, Distance: 0.1}, {Item: b, Distance: 0.2}}

	cfg := hmconfig.Default()
	e := NewEngine(st, &fakeSignalRecorder{}, cfg, nil)

	// Version is set but AtTime is not, so spec says it must be ignored.
	results, err := e.Search(context.Background(), Request{Principal: domain.Principal{OrgID: "acme"}, Version: "b", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestEngine_RecordsRetrievalSignalsAsynchronously(t *testing.T) {
	a := withEmbedding(domain.KnowledgeItem{ID: "a", ContentHash: "h1", QualityScore: 0.5})
	st := newFakeSearchStore()
	st.vector = []store.ScoredItem{{Item: a, Distance: 0.1}}

	signals := &fakeSignalRecorder{}
	cfg := hmconfig.Default()
	e := NewEngine(st, signals, cfg, nil)

	results, err := e.Search(context.Background(), Request{Principal: domain.Principal{OrgID: "acme", AgentID: "agent-1"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Eventually(t, func() bool { return signals.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return len(st.incremented) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_FetchByIDReportsIntegrityWarningOnTamper(t *testing.T) {
	item := &domain.KnowledgeItem{ID: "a", OrgID: "acme", Content: "tampered", ContentHash: domain.ContentHash("original")}
	st := newFakeSearchStore()
	st.items["a"] = item

	e := NewEngine(st, &fakeSignalRecorder{}, hmconfig.Default(), nil)

	result, err := e.FetchByID(context.Background(), domain.Principal{OrgID: "acme"}, "a")
	require.NoError(t, err)
	assert.NotEmpty(t, result.IntegrityWarning)
}

func TestEngine_FetchByIDNoWarningWhenIntact(t *testing.T) {
	item := &domain.KnowledgeItem{ID: "a", OrgID: "acme", Content: "original", ContentHash: domain.ContentHash("original")}
	st := newFakeSearchStore()
	st.items["a"] = item

	e := NewEngine(st, &fakeSignalRecorder{}, hmconfig.Default(), nil)

	result, err := e.FetchByID(context.Background(), domain.Principal{OrgID: "acme"}, "a")
	require.NoError(t, err)
	assert.Empty(t, result.IntegrityWarning)
}
