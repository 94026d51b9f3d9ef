package ingest

import (
	"context"
	"time"

	"github.com/hivemind/core/pkg/dedup"
)

// stageDedup is stage 7 (spec §4.2/§4.5). Two fast paths precede the
// three-stage pipeline: an exact (content_hash, org_id) match against
// either already-approved knowledge or an unreviewed pending
// contribution is a NOOP without running cosine/LSH/LLM at all (spec
// §8 scenario 1: two identical submissions collapse to one pending
// row, not one per submitter).
//
// When the three-stage pipeline surfaces a near-match that it did not
// itself confirm as a duplicate, the conflict resolver decides how
// the new content relates to it. UPDATE and VERSION_FORK are resolved
// directly against the knowledge store here, bypassing the approval
// queue entirely — the system's own confidence in the relationship
// to an already-canonical item is what licenses that. A plain or
// multi-hop ADD instead falls through to the approval gate like any
// other new contribution, tagged conflict_flagged when multi-hop.
func (p *Pipeline) stageDedup(ctx context.Context, st *state) (Result, bool, error) {
	orgID := st.contribution.Principal.OrgID

	if existing, err := p.Store.FindByContentHash(ctx, orgID, st.contentHash); err != nil {
		return Result{}, true, wrapStage("dedup", err)
	} else if existing != nil {
		return Result{Status: StatusDuplicate, DuplicateOf: existing.ID, Reason: "content_hash"}, true, nil
	}

	if existingPending, err := p.Pending.FindPendingByContentHash(ctx, orgID, st.contentHash); err != nil {
		return Result{}, true, wrapStage("dedup", err)
	} else if existingPending != nil {
		return Result{Status: StatusDuplicate, DuplicateOf: existingPending.ID, Reason: "content_hash"}, true, nil
	}

	res, err := p.Detector.Detect(ctx, orgID, st.content, st.embedding)
	if err != nil {
		return Result{}, true, wrapStage("dedup", err)
	}
	st.dedupResult = res

	if res.Duplicate {
		return Result{Status: StatusDuplicate, DuplicateOf: res.CanonicalID, Reason: res.Reason}, true, nil
	}
	if res.CanonicalID == "" {
		return Result{}, false, nil
	}

	prior, err := p.Store.GetKnowledgeItem(ctx, orgID, res.CanonicalID)
	if err != nil {
		return Result{}, true, wrapStage("dedup", err)
	}

	decision := p.Resolver.Resolve(ctx, prior.ID, prior.Content, st.content)
	now := time.Now().UTC()

	switch decision.Kind {
	case dedup.ConflictNoop:
		return Result{Status: StatusDuplicate, DuplicateOf: prior.ID, Reason: "conflict_noop"}, true, nil

	case dedup.ConflictUpdate:
		if err := p.Store.ExpireKnowledgeItem(ctx, orgID, prior.ID, now); err != nil {
			return Result{}, true, wrapStage("dedup", err)
		}
		result, err := p.insertAsCurrent(ctx, st, prior.IsPublic, nil)
		return result, true, err

	case dedup.ConflictVersionFork:
		if err := p.Store.ForkKnowledgeItem(ctx, orgID, prior.ID, decision.ForkValidAt); err != nil {
			return Result{}, true, wrapStage("dedup", err)
		}
		result, err := p.insertAsCurrent(ctx, st, prior.IsPublic, &decision.ForkValidAt)
		return result, true, err

	default: // ConflictAdd, direct or multi-hop
		st.conflictFlagged = !decision.IsDirectConflict
		return Result{}, false, nil
	}
}
