package masking

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemind/core/pkg/capability"
)

// fakeAnalyzer finds every occurrence of a fixed literal substring,
// enough to exercise the pipeline's pass structure without pulling in
// the full pattern-table implementation from pkg/capability/pii.
type fakeAnalyzer struct {
	literal string
	entity  string
}

func (f fakeAnalyzer) Analyze(_ context.Context, text string) ([]capability.PIIEntity, error) {
	var out []capability.PIIEntity
	start := 0
	for {
		i := strings.Index(text[start:], f.literal)
		if i < 0 {
			break
		}
		absStart := start + i
		out = append(out, capability.PIIEntity{
			Start: absStart, End: absStart + len(f.literal),
			Entity: f.entity, Score: 1.0, Text: f.literal,
		})
		start = absStart + len(f.literal)
	}
	return out, nil
}

type fakeAnonymizer struct{}

func (fakeAnonymizer) Anonymize(_ context.Context, text string, matches []capability.PIIEntity, _ map[string]capability.AnonymizeOperator) (string, error) {
	out := text
	for _, m := range matches {
		out = strings.ReplaceAll(out, m.Text, "["+m.Entity+"]")
	}
	return out, nil
}

func newTestPipeline() *Pipeline {
	return NewPipeline(
		fakeAnalyzer{literal: "secret@example.com", entity: "EMAIL"},
		fakeAnonymizer{},
		Config{MinVerbatimLen: 4, MaxRedactionRatio: 0.5},
	)
}

func TestPipeline_RedactsNarrativeMatch(t *testing.T) {
	p := newTestPipeline()
	res, err := p.Redact(context.Background(), "Contact secret@example.com if this recurs.")
	require.NoError(t, err)
	assert.False(t, res.Rejected)
	assert.Contains(t, res.Redacted, "[EMAIL]")
	assert.NotContains(t, res.Redacted, "secret@example.com")
}

func TestPipeline_PreservesCodeBlockContent(t *testing.T) {
	p := newTestPipeline()
	content := "See the fix below:\n\n```bash\necho secret@example.com\n```\n\nThat resolves it."
	res, err := p.Redact(context.Background(), content)
	require.NoError(t, err)
	// The literal inside the fenced block is never sent through the
	// narrative analyzer, so it survives untouched.
	assert.Contains(t, res.Redacted, "echo secret@example.com")
}

func TestPipeline_RejectsWhenMostlyPII(t *testing.T) {
	p := NewPipeline(
		fakeAnalyzer{literal: "x", entity: "TOKEN"},
		fakeAnonymizer{},
		Config{MinVerbatimLen: 1, MaxRedactionRatio: 0.5},
	)
	res, err := p.Redact(context.Background(), "x x x x x")
	require.NoError(t, err)
	assert.True(t, res.Rejected)
}

// erroringAnalyzer fails on the Nth call (1-indexed) and delegates to
// fakeAnalyzer otherwise, so a test can target pass 1 vs pass 2a.
type erroringAnalyzer struct {
	fakeAnalyzer
	failOnCall int
	calls      int
}

func (f *erroringAnalyzer) Analyze(ctx context.Context, text string) ([]capability.PIIEntity, error) {
	f.calls++
	if f.calls == f.failOnCall {
		return nil, errors.New("analyzer unavailable")
	}
	return f.fakeAnalyzer.Analyze(ctx, text)
}

func TestPipeline_Pass1AnalyzeErrorFailsClosed(t *testing.T) {
	p := NewPipeline(
		&erroringAnalyzer{fakeAnalyzer: fakeAnalyzer{literal: "secret@example.com", entity: "EMAIL"}, failOnCall: 1},
		fakeAnonymizer{},
		Config{MinVerbatimLen: 4, MaxRedactionRatio: 0.5},
	)
	_, err := p.Redact(context.Background(), "Contact secret@example.com if this recurs.")
	require.Error(t, err)
}

func TestPipeline_Pass2AnalyzeErrorFailsOpenOnPass1Result(t *testing.T) {
	p := NewPipeline(
		&erroringAnalyzer{fakeAnalyzer: fakeAnalyzer{literal: "secret@example.com", entity: "EMAIL"}, failOnCall: 2},
		fakeAnonymizer{},
		Config{MinVerbatimLen: 4, MaxRedactionRatio: 0.5},
	)
	res, err := p.Redact(context.Background(), "Contact secret@example.com if this recurs.")
	require.NoError(t, err)
	assert.False(t, res.Rejected)
	assert.Contains(t, res.Redacted, "[EMAIL]")
}

// spanAnonymizer replaces only the exact spans it is given, matching
// the real pattern-based anonymizer's behavior (pkg/capability/pii).
// Unlike fakeAnonymizer's whole-text ReplaceAll, it won't incidentally
// sweep every occurrence of a match's text regardless of which spans
// were actually passed in, so it can expose a gap in which spans a
// caller supplies.
type spanAnonymizer struct{}

func (spanAnonymizer) Anonymize(_ context.Context, text string, matches []capability.PIIEntity, _ map[string]capability.AnonymizeOperator) (string, error) {
	ordered := append([]capability.PIIEntity(nil), matches...)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Start > ordered[i].Start {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}
	out := text
	for _, m := range ordered {
		if m.Start < 0 || m.End > len(out) || m.Start > m.End {
			continue
		}
		out = out[:m.Start] + "[" + m.Entity + "]" + out[m.End:]
	}
	return out, nil
}

// firstOccurrenceThenNothingAnalyzer returns only the first occurrence
// of its literal on its first call (pass 1), then nil on every later
// call, modeling an analyzer whose second pass entirely fails to
// re-flag a verbatim repeat of text it already extracted once.
type firstOccurrenceThenNothingAnalyzer struct {
	literal string
	entity  string
	calls   int
}

func (f *firstOccurrenceThenNothingAnalyzer) Analyze(_ context.Context, text string) ([]capability.PIIEntity, error) {
	f.calls++
	if f.calls > 1 {
		return nil, nil
	}
	i := strings.Index(text, f.literal)
	if i < 0 {
		return nil, nil
	}
	return []capability.PIIEntity{{Start: i, End: i + len(f.literal), Entity: f.entity, Score: 1.0, Text: f.literal}}, nil
}

func TestPipeline_Pass2bSweepsVerbatimRepeatMissedByReanalysis(t *testing.T) {
	p := NewPipeline(
		&firstOccurrenceThenNothingAnalyzer{literal: "Jane Doe", entity: "PERSON"},
		spanAnonymizer{},
		Config{MinVerbatimLen: 4, MaxRedactionRatio: 0.9},
	)
	content := "Jane Doe filed the report. Jane Doe signed it twice."
	res, err := p.Redact(context.Background(), content)
	require.NoError(t, err)
	assert.False(t, res.Rejected)
	// Pass 2a's re-analysis misses the second occurrence entirely (its
	// second call returns nil), so only pass 2b's verbatim sweep of
	// pass 1's own match text catches it.
	assert.NotContains(t, res.Redacted, "Jane Doe")
	assert.Equal(t, 2, strings.Count(res.Redacted, "[PERSON]"))
}

func TestPipeline_MasksKubernetesSecretInCodeBlock(t *testing.T) {
	p := newTestPipeline()
	content := "Here's the manifest:\n\n```yaml\n" +
		"apiVersion: v1\nkind: Secret\nmetadata:\n  name: db-creds\ndata:\n  password: cGFzc3dvcmQ=\n" +
		"```\n"
	res, err := p.Redact(context.Background(), content)
	require.NoError(t, err)
	assert.Contains(t, res.Redacted, MaskedSecretValue)
	assert.NotContains(t, res.Redacted, "cGFzc3dvcmQ=")
}
