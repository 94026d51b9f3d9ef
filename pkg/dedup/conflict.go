package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hivemind/core/pkg/capability"
	"github.com/hivemind/core/pkg/hmconfig"
)

func parseDuplicateVerdict(resp string) bool {
	return strings.Contains(strings.ToUpper(resp), "DUPLICATE")
}

// ConflictKind is one of the four store actions spec.md §4.5's table
// maps an ambiguous near-match onto.
type ConflictKind string

const (
	ConflictUpdate      ConflictKind = "UPDATE"
	ConflictAdd         ConflictKind = "ADD"
	ConflictNoop        ConflictKind = "NOOP"
	ConflictVersionFork ConflictKind = "VERSION_FORK"
)

// Decision is the conflict classifier's verdict plus everything the
// caller needs to apply the corresponding store action.
type Decision struct {
	Kind             ConflictKind
	PriorID          string
	ForkValidAt      time.Time // only meaningful when Kind == ConflictVersionFork
	IsDirectConflict bool
}

// Resolver classifies an ambiguous near-match (one that survived
// cosine+LSH but that the dedup LLM stage called not-duplicate, or
// that Detect degraded on) into one of the four conflict outcomes.
type Resolver struct {
	llm capability.LLMClient
	cfg hmconfig.Config
}

// NewResolver wires a Resolver.
func NewResolver(llm capability.LLMClient, cfg hmconfig.Config) *Resolver {
	return &Resolver{llm: llm, cfg: cfg}
}

const conflictPrompt = `You are deciding how a new piece of operational knowledge relates to an existing entry that may conflict with it.

Existing entry (id=%s):
%s

New entry:
%s

First decide whether this is a DIRECT conflict (the new entry speaks to the exact same fact as the existing one) or a MULTIHOP conflict (the relationship is indirect, inferred through other context, or you are not confident the two address the same fact).

If MULTIHOP, reply with exactly: MULTIHOP

If DIRECT, reply with exactly one of:
DIRECT ADD            — the new entry is a separate, independently true fact; keep both
DIRECT UPDATE          — the new entry supersedes the existing one as of now
DIRECT NOOP            — the new entry adds nothing; discard it
DIRECT VERSION_FORK <YYYY-MM-DD> — the existing entry was only true until the given date, when the new entry's facts took over`

// Resolve classifies the conflict between priorID/priorContent and
// newContent. Any LLM failure defaults to ConflictAdd, as spec.md
// §4.5 requires ("Any LLM failure defaults to ADD").
func (r *Resolver) Resolve(ctx context.Context, priorID, priorContent, newContent string) Decision {
	prompt := fmt.Sprintf(conflictPrompt, priorID, priorContent, newContent)
	resp, err := r.llm.Complete(ctx, prompt, r.cfg.LLMTimeout)
	if err != nil {
		slog.WarnContext(ctx, "dedup: conflict classifier unavailable, defaulting to ADD", "error", err, "prior_id", priorID)
		return Decision{Kind: ConflictAdd, PriorID: priorID, IsDirectConflict: true}
	}
	return parseConflictResponse(resp, priorID)
}

func parseConflictResponse(resp, priorID string) Decision {
	fields := strings.Fields(strings.TrimSpace(resp))
	if len(fields) == 0 {
		return Decision{Kind: ConflictAdd, PriorID: priorID, IsDirectConflict: true}
	}

	if strings.EqualFold(fields[0], "MULTIHOP") {
		// spec.md §4.5: multi-hop conflicts are not auto-resolved — the
		// new item is inserted (ADD) with conflict_flagged for review.
		return Decision{Kind: ConflictAdd, PriorID: priorID, IsDirectConflict: false}
	}

	if !strings.EqualFold(fields[0], "DIRECT") || len(fields) < 2 {
		return Decision{Kind: ConflictAdd, PriorID: priorID, IsDirectConflict: true}
	}

	switch kind := ConflictKind(strings.ToUpper(fields[1])); kind {
	case ConflictAdd, ConflictUpdate, ConflictNoop:
		return Decision{Kind: kind, PriorID: priorID, IsDirectConflict: true}
	case ConflictVersionFork:
		if len(fields) < 3 {
			return Decision{Kind: ConflictAdd, PriorID: priorID, IsDirectConflict: true}
		}
		forkAt, err := time.Parse("2006-01-02", fields[2])
		if err != nil {
			return Decision{Kind: ConflictAdd, PriorID: priorID, IsDirectConflict: true}
		}
		return Decision{Kind: ConflictVersionFork, PriorID: priorID, ForkValidAt: forkAt, IsDirectConflict: true}
	default:
		return Decision{Kind: ConflictAdd, PriorID: priorID, IsDirectConflict: true}
	}
}
