package ingest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/herrors"
	"github.com/hivemind/core/pkg/store"
)

// memStore is an in-memory fake satisfying both store.KnowledgeStore
// and store.PendingRepo, sized to exercise the ingestion pipeline
// end-to-end without a live database.
type memStore struct {
	mu      sync.Mutex
	items   map[string]*domain.KnowledgeItem
	pending map[string]*domain.PendingContribution
	auto    map[string]bool // "orgID/category"
	seq     int
}

func newMemStore() *memStore {
	return &memStore{
		items:   make(map[string]*domain.KnowledgeItem),
		pending: make(map[string]*domain.PendingContribution),
		auto:    make(map[string]bool),
	}
}

func (m *memStore) nextID() string {
	m.seq++
	return "id-" + strconv.Itoa(m.seq)
}

func (m *memStore) InsertKnowledgeItem(ctx context.Context, item *domain.KnowledgeItem) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.OrgID == item.OrgID && existing.ContentHash == item.ContentHash && existing.ExpiredAt == nil && existing.DeletedAt == nil {
			return "", herrors.ErrDuplicate
		}
	}
	id := m.nextID()
	cp := *item
	cp.ID = id
	m.items[id] = &cp
	return id, nil
}

func (m *memStore) GetKnowledgeItem(ctx context.Context, orgID, id string) (*domain.KnowledgeItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || (item.OrgID != orgID && !item.IsPublic) {
		return nil, herrors.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *memStore) FindByContentHash(ctx context.Context, orgID, contentHash string) (*domain.KnowledgeItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.OrgID == orgID && item.ContentHash == contentHash && item.ExpiredAt == nil && item.DeletedAt == nil {
			cp := *item
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindSimilar(ctx context.Context, orgID string, embedding []float32, limit int, includeCrossTenantPublic bool) ([]store.ScoredItem, error) {
	return nil, nil
}

func (m *memStore) LexicalSearch(ctx context.Context, orgID, query string, limit int, includeCrossTenantPublic bool) ([]store.ScoredItem, error) {
	return nil, nil
}

func (m *memStore) UpdateKnowledgeItem(ctx context.Context, item *domain.KnowledgeItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *memStore) ExpireKnowledgeItem(ctx context.Context, orgID, id string, expiredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		item.ExpiredAt = &expiredAt
	}
	return nil
}

func (m *memStore) ForkKnowledgeItem(ctx context.Context, orgID, id string, invalidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		item.InvalidAt = &invalidAt
	}
	return nil
}

func (m *memStore) SoftDeleteKnowledgeItem(ctx context.Context, orgID, id, agentID string, deletedAt time.Time) error {
	return nil
}

func (m *memStore) ListByAgent(ctx context.Context, orgID, agentID string) ([]domain.KnowledgeItem, error) {
	return nil, nil
}

func (m *memStore) IncrementRetrievalCount(ctx context.Context, ids []string) error { return nil }

func (m *memStore) ListAllCurrent(ctx context.Context, limit int) ([]domain.KnowledgeItem, error) {
	return nil, nil
}

func (m *memStore) Health(ctx context.Context) (*store.HealthStatus, error) {
	return &store.HealthStatus{Status: "ok"}, nil
}

func (m *memStore) InsertPending(ctx context.Context, p *domain.PendingContribution) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID()
	cp := *p
	cp.ID = id
	m.pending[id] = &cp
	return id, nil
}

func (m *memStore) GetPending(ctx context.Context, orgID, id string) (*domain.PendingContribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	if !ok {
		return nil, herrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListPendingByOrg(ctx context.Context, orgID string) ([]domain.PendingContribution, error) {
	return nil, nil
}

func (m *memStore) UpdatePendingStatus(ctx context.Context, orgID, id string, status domain.PendingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pending[id]; ok {
		p.Status = status
	}
	return nil
}

func (m *memStore) AutoApproveAllowed(ctx context.Context, orgID string, category domain.Category) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auto[orgID+"/"+string(category)], nil
}

func (m *memStore) FindPendingByContentHash(ctx context.Context, orgID, contentHash string) (*domain.PendingContribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		if p.OrgID == orgID && p.ContentHash == contentHash && p.Status == domain.PendingStatusPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}
