package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/hmconfig"
)

type fakeEndpoints struct {
	endpoints []domain.WebhookEndpoint
}

func (f *fakeEndpoints) ListActiveWebhooks(ctx context.Context, orgID, eventType string) ([]domain.WebhookEndpoint, error) {
	return f.endpoints, nil
}

func fastConfig() hmconfig.Config {
	cfg := hmconfig.Default()
	cfg.WebhookRetryDelay = time.Millisecond
	cfg.WebhookTimeout = time.Second
	return cfg
}

func TestDispatcher_DeliversEnvelopeToEachActiveEndpoint(t *testing.T) {
	var mu sync.Mutex
	var received []envelope

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		mu.Lock()
		received = append(received, env)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoints := &fakeEndpoints{endpoints: []domain.WebhookEndpoint{
		{ID: "ep-1", OrgID: "acme", URL: server.URL, IsActive: true},
	}}
	d := NewDispatcher(endpoints, fastConfig(), func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) })

	d.Dispatch(context.Background(), EventKnowledgeApproved, "acme", "item-1", "runbook")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "knowledge.approved", received[0].Event)
	assert.Equal(t, "item-1", received[0].KnowledgeItemID)
	assert.Equal(t, "acme", received[0].OrgID)
	assert.Equal(t, "runbook", received[0].Category)
	assert.Equal(t, "2026-01-01T00:00:00Z", received[0].Timestamp)
}

func TestDispatcher_RetriesOn5xxThenGivesUp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	endpoints := &fakeEndpoints{endpoints: []domain.WebhookEndpoint{
		{ID: "ep-1", OrgID: "acme", URL: server.URL, IsActive: true},
	}}
	cfg := fastConfig()
	cfg.WebhookMaxRetries = 2
	d := NewDispatcher(endpoints, cfg, nil)

	d.Dispatch(context.Background(), EventKnowledgeApproved, "acme", "item-1", "runbook")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == int32(cfg.WebhookMaxRetries)+1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_DoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	endpoints := &fakeEndpoints{endpoints: []domain.WebhookEndpoint{
		{ID: "ep-1", OrgID: "acme", URL: server.URL, IsActive: true},
	}}
	d := NewDispatcher(endpoints, fastConfig(), nil)

	d.Dispatch(context.Background(), EventKnowledgeApproved, "acme", "item-1", "runbook")

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, time.Second, 5*time.Millisecond)
	// Give any accidental retry loop a chance to fire before asserting
	// it never did.
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestDispatcher_NoEndpointsIsANoOp(t *testing.T) {
	d := NewDispatcher(&fakeEndpoints{}, fastConfig(), nil)
	d.Dispatch(context.Background(), EventKnowledgeApproved, "acme", "item-1", "runbook")
}
