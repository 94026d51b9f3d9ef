package ingest

import "github.com/hivemind/core/pkg/domain"

// stageHash is stage 6 (spec §4.2): SHA-256 over the cleaned content.
func (p *Pipeline) stageHash(st *state) {
	st.contentHash = domain.ContentHash(st.content)
}
