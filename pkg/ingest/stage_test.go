package ingest

import (
	"context"
	"errors"

	"github.com/hivemind/core/pkg/capability"
	"github.com/hivemind/core/pkg/domain"
)

type fakeAuthz struct{ err error }

func (f *fakeAuthz) Authorize(ctx context.Context, principal domain.Principal, category domain.Category) error {
	return f.err
}

type fakeRateLimiter struct{ err error }

func (f *fakeRateLimiter) CheckRate(ctx context.Context, principal domain.Principal, op string) error {
	return f.err
}

type fakeBurst struct {
	flagged bool
	err     error
}

func (f *fakeBurst) CheckBurst(ctx context.Context, orgID string) (bool, error) {
	return f.flagged, f.err
}

type fakeInjection struct {
	score float64
	err   error
}

func (f *fakeInjection) Classify(ctx context.Context, text string) (string, float64, error) {
	if f.err != nil {
		return "", 0, f.err
	}
	return "benign", f.score, nil
}

// countingPIIAnalyzer records how many times Analyze was invoked, so
// tests can assert PII analysis never runs on injection-rejected input
// (spec §4.2: injection scan runs pre-redaction, ahead of PII).
type countingPIIAnalyzer struct {
	calls   int
	matches []capability.PIIEntity
	err     error
}

func (a *countingPIIAnalyzer) Analyze(ctx context.Context, text string) ([]capability.PIIEntity, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return a.matches, nil
}

type passthroughAnonymizer struct{}

func (passthroughAnonymizer) Anonymize(ctx context.Context, text string, matches []capability.PIIEntity, ops map[string]capability.AnonymizeOperator) (string, error) {
	return text, nil
}

type fakeEmbedding struct{ dim int }

func (f *fakeEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dim), nil
}

func (f *fakeEmbedding) Dimension() int { return f.dim }

var errCapability = errors.New("capability down")
