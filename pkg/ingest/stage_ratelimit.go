package ingest

import "context"

// stageRateLimit is stage 2 (spec §4.2): request-rate quota only;
// burst/anti-sybil detection is a later, non-blocking stage.
func (p *Pipeline) stageRateLimit(ctx context.Context, st *state) error {
	return wrapStage("rate_limit", p.RateLimit.CheckRate(ctx, st.contribution.Principal, "contribute"))
}
