package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/herrors"
)

// FetchResult is a single item plus its tamper-detection outcome.
type FetchResult struct {
	Item             domain.KnowledgeItem
	IntegrityWarning string
}

// FetchByID returns the item, verifying its stored content hash still
// matches its content (spec.md §4.4: "tamper detection is observable,
// not a block" — a mismatch is reported but never withheld). Cross-
// tenant access to a private item returns herrors.ErrNotFound, not
// herrors.ErrForbidden, to avoid an existence oracle.
func (e *Engine) FetchByID(ctx context.Context, principal domain.Principal, id string) (FetchResult, error) {
	item, err := e.Store.GetKnowledgeItem(ctx, principal.OrgID, id)
	if errors.Is(err, herrors.ErrNotFound) {
		return FetchResult{}, herrors.ErrNotFound
	}
	if err != nil {
		return FetchResult{}, fmt.Errorf("retrieval: fetch by id: %w", err)
	}

	result := FetchResult{Item: *item}
	if !domain.VerifyIntegrity(item) {
		result.IntegrityWarning = "content hash mismatch: stored content may have been tampered with"
		slog.WarnContext(ctx, "retrieval: integrity check failed", "item_id", item.ID, "org_id", item.OrgID)
	}
	return result, nil
}
