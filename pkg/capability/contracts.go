// Package capability defines the pluggable external service contracts
// the HiveMind core depends on (spec.md §6). The core never names a
// specific model, vendor, or library against these interfaces;
// subpackages of capability provide one example implementation of
// each, wired by the composition root.
package capability

import (
	"context"
	"time"
)

// EmbeddingProvider turns text into a fixed-dimension, unit-normalized
// vector for cosine similarity. Model id is pinned at deployment;
// re-embedding the store is an explicit migration, not a core concern.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// PIIEntity is one analyzer match over a span of text.
type PIIEntity struct {
	Start  int
	End    int
	Entity string // e.g. "EMAIL", "PERSON"
	Score  float64
	Text   string
}

// AnonymizeOperator tells Anonymize how to replace a matched span.
// The zero value replaces with "[<Entity>]".
type AnonymizeOperator struct {
	Replacement string // if empty, defaults to "[<Entity>]"
}

// PIIAnalyzer finds candidate PII spans in text. Must support re-entry
// (spec §4.2 pass 2a re-runs analysis on already-anonymized text).
type PIIAnalyzer interface {
	Analyze(ctx context.Context, text string) ([]PIIEntity, error)
}

// Anonymizer replaces analyzer matches with category-aware tokens.
type Anonymizer interface {
	Anonymize(ctx context.Context, text string, matches []PIIEntity, operators map[string]AnonymizeOperator) (string, error)
}

// InjectionClassifier scores raw text for prompt-injection content.
type InjectionClassifier interface {
	Classify(ctx context.Context, text string) (label string, score float64, err error)
}

// LLMClient is a structured text-generation capability used for
// semantic dedup confirmation, conflict classification, and summary
// generation. Callers must pass a bounded timeout; implementations
// must respect ctx cancellation.
type LLMClient interface {
	Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// PolicyEngine evaluates and manages RBAC policy/role tuples
// (subject, domain, object, action).
type PolicyEngine interface {
	Enforce(ctx context.Context, subject, domain, object, action string) (bool, error)

	AddPolicy(ctx context.Context, subject, domain, object, action string) error
	RemovePolicy(ctx context.Context, subject, domain, object, action string) error
	AssignRole(ctx context.Context, subject, role, domain string) error
	RevokeRole(ctx context.Context, subject, role, domain string) error
}

// RateLimitStore provides atomic counter and sliding-window
// primitives backing per-tier request-rate quotas and burst detection.
type RateLimitStore interface {
	// Incr increments the counter at key and returns the new value,
	// setting an expiry of window if the key was just created.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)

	// SlidingWindowAdd adds member (scored at now) to the sorted set at
	// key, evicts members older than window, and returns the
	// resulting cardinality.
	SlidingWindowAdd(ctx context.Context, key string, member string, now time.Time, window time.Duration) (int64, error)
}
