package ingest

import "context"

// stageAuthz is stage 1 (spec §4.2): the principal must be authorized
// to contribute to its own org in the given category.
func (p *Pipeline) stageAuthz(ctx context.Context, st *state) error {
	return wrapStage("authz", p.Authz.Authorize(ctx, st.contribution.Principal, st.contribution.Category))
}
