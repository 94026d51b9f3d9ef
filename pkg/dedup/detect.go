// Package dedup implements the three-stage duplicate detector and the
// four-outcome conflict resolver (spec.md §4.5).
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hivemind/core/pkg/capability"
	"github.com/hivemind/core/pkg/dedup/lsh"
	"github.com/hivemind/core/pkg/hmconfig"
	"github.com/hivemind/core/pkg/store"
)

// cosineTopK is fixed by spec.md §4.5 ("top-K 10"); unlike the cosine
// distance threshold it is not one of the named runtime knobs in §6.
const cosineTopK = 10

// SimilarityStore is the subset of store.KnowledgeStore the cosine
// stage reads. A narrow interface keeps dedup testable without a full
// KnowledgeStore fake.
type SimilarityStore interface {
	FindSimilar(ctx context.Context, orgID string, embedding []float32, limit int, includeCrossTenantPublic bool) ([]store.ScoredItem, error)
}

// ContentLookup fetches the current content of a knowledge item by id,
// for building the LLM confirmation prompt.
type ContentLookup func(ctx context.Context, id string) (string, error)

// Detector runs the three-stage pipeline: cosine candidates, then
// MinHash/LSH confirmation among those candidates, then an LLM
// semantic-confirmation call on whatever survives both.
type Detector struct {
	store   SimilarityStore
	index   *lsh.Index
	llm     capability.LLMClient
	content ContentLookup
	cfg     hmconfig.Config
}

// NewDetector wires a Detector. index should already be rebuilt from
// the current store contents by the caller (e.g. at startup).
func NewDetector(st SimilarityStore, index *lsh.Index, llm capability.LLMClient, content ContentLookup, cfg hmconfig.Config) *Detector {
	return &Detector{store: st, index: index, llm: llm, content: content, cfg: cfg}
}

// Result is the outcome of the three-stage pipeline.
type Result struct {
	Duplicate bool
	// CanonicalID is set whenever a near-match survived at least the
	// cosine+LSH stages, regardless of the final Duplicate verdict —
	// callers use it to decide whether conflict resolution applies.
	CanonicalID string
	StagesRun   []string
	Reason      string
}

// Detect runs cosine -> MinHash/LSH -> LLM confirmation against
// content/embedding, stopping early (and reporting ADD) the moment a
// stage produces no candidates.
func (d *Detector) Detect(ctx context.Context, orgID, content string, embedding []float32) (Result, error) {
	candidates, err := d.store.FindSimilar(ctx, orgID, embedding, cosineTopK, true)
	if err != nil {
		return Result{}, fmt.Errorf("dedup: cosine stage: %w", err)
	}

	var cosineMatches []string
	for _, c := range candidates {
		if c.Distance <= d.cfg.CosineDedupThreshold {
			cosineMatches = append(cosineMatches, c.Item.ID)
		}
	}
	if len(cosineMatches) == 0 {
		return Result{StagesRun: []string{"cosine"}}, nil
	}

	lshMatches := d.index.Query(content)
	canonicalID := ""
	for _, m := range lshMatches {
		if containsID(cosineMatches, m.ID) {
			canonicalID = m.ID
			break // lshMatches is sorted most-similar first
		}
	}
	if canonicalID == "" {
		return Result{StagesRun: []string{"cosine", "minhash"}}, nil
	}

	confirmed, err := d.llmConfirm(ctx, content, canonicalID)
	if err != nil {
		// Graceful degradation: the pipeline never blocks on LLM
		// unavailability. "Not duplicate" still carries the
		// canonical id forward for conflict resolution to consider.
		slog.WarnContext(ctx, "dedup: llm confirmation unavailable, degrading to not-duplicate", "error", err)
		return Result{
			CanonicalID: canonicalID,
			StagesRun:   []string{"cosine", "minhash", "llm"},
			Reason:      "llm_unavailable",
		}, nil
	}

	return Result{
		Duplicate:   confirmed,
		CanonicalID: canonicalID,
		StagesRun:   []string{"cosine", "minhash", "llm"},
		Reason:      confirmReason(confirmed),
	}, nil
}

func confirmReason(confirmed bool) string {
	if confirmed {
		return "llm_confirmed"
	}
	return "llm_not_duplicate"
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

const confirmationPrompt = `You are comparing two pieces of operational knowledge to decide if they describe the same fact.

Existing entry:
%s

New entry:
%s

Reply with exactly one word: "DUPLICATE" if the new entry conveys the same information as the existing entry (wording may differ), or "DISTINCT" if it conveys different or conflicting information.`

func (d *Detector) llmConfirm(ctx context.Context, newContent, canonicalID string) (bool, error) {
	prior, err := d.content(ctx, canonicalID)
	if err != nil {
		return false, err
	}
	prompt := fmt.Sprintf(confirmationPrompt, prior, newContent)
	resp, err := d.llm.Complete(ctx, prompt, d.cfg.LLMTimeout)
	if err != nil {
		return false, err
	}
	return parseDuplicateVerdict(resp), nil
}
