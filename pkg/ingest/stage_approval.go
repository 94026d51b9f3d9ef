package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/herrors"
)

// stageApprovalGate is stage 8 (spec §4.2): an AutoApproveRule match
// for (org_id, category) inserts directly into the knowledge store as
// auto_approved, skipping the human queue — but never publishes
// (is_public stays false). A burst-flagged contribution is always
// queued regardless of any matching rule.
func (p *Pipeline) stageApprovalGate(ctx context.Context, st *state) (Result, error) {
	orgID := st.contribution.Principal.OrgID

	autoApprove, err := p.Pending.AutoApproveAllowed(ctx, orgID, st.contribution.Category)
	if err != nil {
		return Result{}, wrapStage("approval", err)
	}

	if autoApprove && !st.flagged {
		return p.insertAsCurrent(ctx, st, false, nil)
	}

	pending := &domain.PendingContribution{
		OrgID:            orgID,
		Content:          st.content,
		Title:            st.contribution.Title,
		Category:         st.contribution.Category,
		Tags:             domain.Tags{Labels: st.contribution.Labels, ConflictFlagged: st.conflictFlagged},
		ContentHash:      st.contentHash,
		Embedding:        st.embedding,
		SourceAgentID:    st.contribution.Principal.AgentID,
		ContributedAt:    contributedAt(st.contribution),
		Confidence:       st.contribution.Confidence,
		Status:           domain.PendingStatusPending,
		FlaggedForReview: st.flagged,
	}

	id, err := p.Pending.InsertPending(ctx, pending)
	if errors.Is(err, herrors.ErrDuplicate) {
		return p.raceLostToPending(ctx, orgID, st.contentHash)
	}
	if err != nil {
		return Result{}, wrapStage("approval", err)
	}
	return Result{Status: StatusPending, ItemID: id}, nil
}

// insertAsCurrent stores the contribution directly as a current
// KnowledgeItem, used both by the auto-approve path and by the dedup
// UPDATE/VERSION_FORK conflict outcomes. forkValidAt, when set, seeds
// the new row's world-time start (spec §4.5 VERSION_FORK: "insert new
// row with valid_at = fork_valid_at").
func (p *Pipeline) insertAsCurrent(ctx context.Context, st *state, isPublic bool, forkValidAt *time.Time) (Result, error) {
	item := &domain.KnowledgeItem{
		OrgID:         st.contribution.Principal.OrgID,
		Content:       st.content,
		Title:         st.contribution.Title,
		Category:      st.contribution.Category,
		Tags:          domain.Tags{Labels: st.contribution.Labels, ConflictFlagged: st.conflictFlagged},
		ContentHash:   st.contentHash,
		Embedding:     st.embedding,
		SourceAgentID: st.contribution.Principal.AgentID,
		ContributedAt: contributedAt(st.contribution),
		Confidence:    st.contribution.Confidence,
		IsPublic:      isPublic,
		QualityScore:  0.5,
		ValidAt:       forkValidAt,
	}

	id, err := p.Store.InsertKnowledgeItem(ctx, item)
	if errors.Is(err, herrors.ErrDuplicate) {
		return p.raceLostToKnowledgeItem(ctx, item.OrgID, item.ContentHash)
	}
	if err != nil {
		return Result{}, wrapStage("approval", err)
	}
	return Result{Status: StatusAutoApproved, ItemID: id}, nil
}

// raceLostToKnowledgeItem handles the concurrent-insert race spec §4.3
// describes: the loser reads the winner's id and reports it as a
// duplicate instead of failing.
func (p *Pipeline) raceLostToKnowledgeItem(ctx context.Context, orgID, contentHash string) (Result, error) {
	winner, err := p.Store.FindByContentHash(ctx, orgID, contentHash)
	if err != nil {
		return Result{}, wrapStage("approval", err)
	}
	if winner == nil {
		return Result{}, wrapStage("approval", herrors.ErrDuplicate)
	}
	return Result{Status: StatusDuplicate, DuplicateOf: winner.ID, Reason: "race_lost"}, nil
}

func (p *Pipeline) raceLostToPending(ctx context.Context, orgID, contentHash string) (Result, error) {
	winner, err := p.Pending.FindPendingByContentHash(ctx, orgID, contentHash)
	if err != nil {
		return Result{}, wrapStage("approval", err)
	}
	if winner == nil {
		return Result{}, wrapStage("approval", herrors.ErrDuplicate)
	}
	return Result{Status: StatusDuplicate, DuplicateOf: winner.ID, Reason: "race_lost"}, nil
}

func contributedAt(c Contribution) time.Time {
	if c.Contributed.IsZero() {
		return time.Now().UTC()
	}
	return c.Contributed
}
