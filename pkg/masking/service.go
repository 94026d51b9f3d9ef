package masking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hivemind/core/pkg/capability"
)

// Config holds the pipeline's tunable thresholds (spec §6 defaults
// live in pkg/hmconfig and are threaded in at construction).
type Config struct {
	// MinVerbatimLen is the shortest analyzer-match span (in runes)
	// the pass-2b verbatim sweep will replace outright, independent of
	// whether the text around it changed between passes.
	MinVerbatimLen int
	// MaxRedactionRatio rejects content whose post-redaction token
	// count is more than this fraction redaction markers, on the
	// reasoning that such content is mostly PII and not worth keeping.
	MaxRedactionRatio float64
}

// Pipeline applies the two-pass markdown-aware PII redaction
// described in spec.md §4.2 step 5, structurally grounded on the
// teacher's MaskingService (compiled-pattern table + code-based
// maskers applied ahead of the regex sweep), generalized here from
// MCP-tool-result masking to the knowledge-ingestion content stage.
type Pipeline struct {
	analyzer   capability.PIIAnalyzer
	anonymizer capability.Anonymizer
	codeMasker Masker
	cfg        Config
}

// NewPipeline wires an analyzer/anonymizer pair (the default
// implementation lives in pkg/capability/pii; deployments may swap in
// a model-backed one per spec §6) plus the built-in structural code
// masker.
func NewPipeline(analyzer capability.PIIAnalyzer, anonymizer capability.Anonymizer, cfg Config) *Pipeline {
	return &Pipeline{
		analyzer:   analyzer,
		anonymizer: anonymizer,
		codeMasker: &KubernetesSecretMasker{},
		cfg:        cfg,
	}
}

// Result is the outcome of redacting one piece of knowledge content.
type Result struct {
	Redacted string
	// Rejected is true when the content was predominantly PII (more
	// than cfg.MaxRedactionRatio of its tokens were redacted) and
	// should be rejected rather than stored with a mutilated body.
	Rejected bool
}

// Redact runs the full pipeline: extract fenced code blocks, mask
// structurally-aware secrets within them, run two analyze/anonymize
// passes over the narrative text, sweep long verbatim matches a
// second time, reinject code blocks, then check the redaction ratio.
func (p *Pipeline) Redact(ctx context.Context, content string) (Result, error) {
	narrative, blocks := ExtractCodeBlocks(content)

	for i, block := range blocks {
		if p.codeMasker.AppliesTo(block) {
			blocks[i] = p.codeMasker.Mask(block)
		}
	}

	// Pass 1 fails closed: an analyzer/anonymizer crash here means the
	// narrative was never even scanned for PII, so the content must be
	// rejected rather than risk storing it unredacted.
	matches, err := p.analyzer.Analyze(ctx, narrative)
	if err != nil {
		return Result{}, fmt.Errorf("masking: pass 1 analyze: %w", err)
	}
	narrative, err = p.anonymizer.Anonymize(ctx, narrative, matches, nil)
	if err != nil {
		return Result{}, fmt.Errorf("masking: pass 1 anonymize: %w", err)
	}

	// Pass 2a/2b fail open: pass 1 already anonymized the bulk of the
	// narrative, so a crash in either of these only means that one
	// extra pass is skipped, logged, and the prior result is kept
	// rather than aborting the whole contribution.

	// Pass 2a: re-analyze the pass-1 output and anonymize whatever it
	// surfaces. This is a second NER pass over the post-redaction
	// narrative, catching PII that pass 1's anonymization exposed or
	// that pass 1 missed entirely — it is not how verbatim repeats of
	// pass 1's own matches are caught; that is pass 2b, below, because
	// a repeat occurrence of text pass 1 already redacted once doesn't
	// reliably get re-flagged as an entity on a second analyze call.
	matches2, err := p.analyzer.Analyze(ctx, narrative)
	if err != nil {
		slog.Warn("masking: pass 2a analyze failed, skipping re-analysis pass", "error", err)
		matches2 = nil
	}
	if len(matches2) > 0 {
		if reanalyzed, err := p.anonymizer.Anonymize(ctx, narrative, matches2, nil); err != nil {
			slog.Warn("masking: pass 2a anonymize failed, keeping pass 1 result", "error", err)
		} else {
			narrative = reanalyzed
		}
	}

	// Pass 2b: verbatim sweep of pass 1's original match text, entirely
	// independent of re-analysis. It searches the current narrative for
	// every remaining occurrence of each long-enough pass-1 match
	// string and anonymizes them directly, so a value redacted once by
	// pass 1 still gets its second, third, etc. occurrence swept even
	// though nothing re-detects it as a fresh entity.
	seen := make(map[string]bool, len(matches))
	var verbatim []capability.PIIEntity
	for _, m := range matches {
		if len([]rune(m.Text)) < p.cfg.MinVerbatimLen || seen[m.Text] {
			continue
		}
		seen[m.Text] = true
		for start := 0; ; {
			idx := strings.Index(narrative[start:], m.Text)
			if idx < 0 {
				break
			}
			abs := start + idx
			verbatim = append(verbatim, capability.PIIEntity{
				Start:  abs,
				End:    abs + len(m.Text),
				Entity: m.Entity,
				Score:  m.Score,
				Text:   m.Text,
			})
			start = abs + len(m.Text)
		}
	}
	if len(verbatim) > 0 {
		if swept, err := p.anonymizer.Anonymize(ctx, narrative, verbatim, nil); err != nil {
			slog.Warn("masking: pass 2b verbatim sweep failed, keeping prior result", "error", err)
		} else {
			narrative = swept
		}
	}

	redactedTokens := countRedactedTokens(narrative)
	totalTokens := countTokens(stripPlaceholders(narrative))
	ratio := 0.0
	if totalTokens > 0 {
		ratio = float64(redactedTokens) / float64(totalTokens)
	}

	out := ReinjectCodeBlocks(narrative, blocks)

	if ratio > p.cfg.MaxRedactionRatio {
		slog.Warn("content rejected: majority PII after redaction",
			"redacted_tokens", redactedTokens, "total_tokens", totalTokens, "ratio", ratio)
		return Result{Redacted: out, Rejected: true}, nil
	}

	return Result{Redacted: out, Rejected: false}, nil
}
