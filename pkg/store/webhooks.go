package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/hivemind/core/pkg/domain"
)

// WebhookRepo lists active subscribers for fan-out (spec.md §4.8).
type WebhookRepo interface {
	ListActiveWebhooks(ctx context.Context, orgID, eventType string) ([]domain.WebhookEndpoint, error)
}

var _ WebhookRepo = (*PostgresStore)(nil)

func (s *PostgresStore) ListActiveWebhooks(ctx context.Context, orgID, eventType string) ([]domain.WebhookEndpoint, error) {
	rows, err := s.client.DB().QueryxContext(ctx, `
		SELECT id, org_id, url, is_active, event_types
		FROM webhook_endpoints
		WHERE org_id = $1 AND is_active`, orgID)
	if err != nil {
		return nil, fmt.Errorf("store: list webhook endpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookEndpoint
	for rows.Next() {
		var (
			w          domain.WebhookEndpoint
			eventTypes string
		)
		if err := rows.Scan(&w.ID, &w.OrgID, &w.URL, &w.IsActive, &eventTypes); err != nil {
			return nil, fmt.Errorf("store: scan webhook endpoint: %w", err)
		}
		w.EventTypes = parsePgTextArray(eventTypes)
		if subscribesTo(w.EventTypes, eventType) {
			out = append(out, w)
		}
	}
	return out, rows.Err()
}

func subscribesTo(eventTypes []string, eventType string) bool {
	if len(eventTypes) == 0 {
		return true // no filter configured: subscribe to everything
	}
	for _, et := range eventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

// parsePgTextArray parses Postgres's text[] wire format ("{a,b,c}")
// into a string slice. Hand-rolled like pqStringArray in postgres.go:
// no pq/pgtype array helper is imported elsewhere in the module, and
// the format here never contains escaped commas (event type names are
// a closed enum).
func parsePgTextArray(s string) []string {
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.Trim(p, `"`)
	}
	return out
}
