package store

import (
	"context"
	"errors"
)

// GraphStore is a scaffold for a future graph-backed KnowledgeStore
// (e.g. surfacing provenance_links as traversable edges instead of an
// opaque Tags field). Spec.md names no graph requirement; this exists
// only so a later backend swap has a concrete seam to implement
// against, per design notes on KnowledgeStore being an interface the
// Postgres implementation is one instance of.
type GraphStore struct{}

// Health always reports unimplemented until a real backend is wired.
func (g *GraphStore) Health(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Status: "unimplemented"}, errors.New("store: graph backend not implemented")
}
