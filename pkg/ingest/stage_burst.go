package ingest

import "context"

// stageBurst is stage 4 (spec §4.2): anti-sybil burst detection. It
// only flags for later human review — it never rejects.
func (p *Pipeline) stageBurst(ctx context.Context, st *state) error {
	flagged, err := p.Burst.CheckBurst(ctx, st.contribution.Principal.OrgID)
	if err != nil {
		return wrapStage("burst", err)
	}
	st.flagged = flagged
	return nil
}
