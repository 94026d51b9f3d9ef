// Package webhook fans approval events out to per-tenant HTTP
// subscribers. Delivery is best-effort and must never block or fail
// the approval that triggered it (spec.md §4.7): Dispatch spawns one
// goroutine per active endpoint and returns immediately.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/hmconfig"
	"github.com/hivemind/core/pkg/version"
)

// EventKnowledgeApproved is the only event type the core currently
// emits (spec.md §4.7).
const EventKnowledgeApproved = "knowledge.approved"

// Endpoints is the store.WebhookRepo subset Dispatcher needs.
type Endpoints interface {
	ListActiveWebhooks(ctx context.Context, orgID, eventType string) ([]domain.WebhookEndpoint, error)
}

// envelope is the wire payload POSTed to a subscriber (spec.md §6's
// "Event envelope"). Field names are fixed by the contract; this is
// the one place in the module any of them get marshaled.
type envelope struct {
	Event           string `json:"event"`
	KnowledgeItemID string `json:"knowledge_item_id"`
	OrgID           string `json:"org_id"`
	Category        string `json:"category"`
	Timestamp       string `json:"timestamp_iso8601"`
}

// Dispatcher fans approval events out to every active, subscribed
// WebhookEndpoint. Nil-safe and never-returns-an-error, in the same
// idiom as the teacher's pkg/slack.Service: a Dispatcher built with no
// HTTP client configured still satisfies the interface, it just drops
// every delivery after logging why.
type Dispatcher struct {
	Endpoints Endpoints
	Client    *http.Client
	Cfg       hmconfig.Config
	Now       func() time.Time
}

// NewDispatcher wires a Dispatcher. now defaults to time.Now when nil.
func NewDispatcher(endpoints Endpoints, cfg hmconfig.Config, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		Endpoints: endpoints,
		Client:    &http.Client{Timeout: cfg.WebhookTimeout},
		Cfg:       cfg,
		Now:       now,
	}
}

// Dispatch looks up every active subscriber to event for orgID and
// spawns one delivery goroutine per endpoint. It returns as soon as
// the lookup completes — callers must not wait on delivery, matching
// spec.md §5's "approval commit happens-before webhook fan-out
// enqueue" ordering, not "happens-before delivery".
func (d *Dispatcher) Dispatch(ctx context.Context, event, orgID, itemID, category string) {
	endpoints, err := d.Endpoints.ListActiveWebhooks(ctx, orgID, event)
	if err != nil {
		slog.ErrorContext(ctx, "webhook: list active endpoints failed", "error", err, "org_id", orgID, "event", event)
		return
	}
	if len(endpoints) == 0 {
		return
	}

	body, err := json.Marshal(envelope{
		Event:           event,
		KnowledgeItemID: itemID,
		OrgID:           orgID,
		Category:        category,
		Timestamp:       d.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.ErrorContext(ctx, "webhook: encode envelope failed", "error", err)
		return
	}

	// Detached from the request context that triggered approval: the
	// HTTP caller has already received their response by the time any
	// of these goroutines run, and a client disconnect must not cancel
	// a delivery still in flight (spec.md §5: webhook dispatch must not
	// block the request path).
	deliveryCtx := context.WithoutCancel(ctx)
	for _, ep := range endpoints {
		go d.deliver(deliveryCtx, ep, body)
	}
}

// deliver POSTs body to ep.URL, retrying up to Cfg.WebhookMaxRetries
// times with a fixed Cfg.WebhookRetryDelay between attempts
// (spec.md §4.7: "up to 3 with 5s delay, exponential is optional").
// Exhausted retries are logged and dropped — delivery is at-least-once
// from the receiver's point of view, never guaranteed.
func (d *Dispatcher) deliver(ctx context.Context, ep domain.WebhookEndpoint, body []byte) {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(d.Cfg.WebhookRetryDelay), uint64(d.Cfg.WebhookMaxRetries))

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		return d.post(ctx, ep.URL, body)
	}, backoff.WithContext(policy, ctx))

	if err != nil {
		slog.ErrorContext(ctx, "webhook: delivery exhausted retries, dropping", "error", err, "endpoint_id", ep.ID, "url", ep.URL, "attempts", attempt)
	}
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("webhook: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook: subscriber returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Client errors (4xx) are the subscriber's own misconfiguration
		// (bad URL, auth failure) — retrying an identical payload won't
		// change the outcome.
		return backoff.Permanent(fmt.Errorf("webhook: subscriber returned %d", resp.StatusCode))
	}
	return nil
}
