package ingest

import "context"

// stageEmbed is plumbing between stage 6 (hashing) and stage 7
// (dedup): the cosine stage and the stored item both need a vector,
// computed once over the final, cleaned content.
func (p *Pipeline) stageEmbed(ctx context.Context, st *state) error {
	embedding, err := p.Embedding.Embed(ctx, st.content)
	if err != nil {
		return wrapStage("embed", err)
	}
	st.embedding = embedding
	return nil
}
