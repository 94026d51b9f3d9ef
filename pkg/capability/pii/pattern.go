// Package pii provides the default PIIAnalyzer/Anonymizer pair: a
// regex pattern-table implementation. Per spec §6 this is the
// reference implementation a deployment ships with absent a real NER
// model or a vendor DLP API; it is grounded on the teacher's
// pkg/masking compiled-pattern table, reused here via
// pkg/masking.CompileBuiltinPatterns rather than duplicated.
package pii

import (
	"context"

	"github.com/hivemind/core/pkg/capability"
	"github.com/hivemind/core/pkg/masking"
)

// PatternAnalyzer matches the built-in regex pattern table.
type PatternAnalyzer struct {
	patterns []*masking.CompiledPattern
}

var _ capability.PIIAnalyzer = (*PatternAnalyzer)(nil)

// NewPatternAnalyzer compiles the built-in pattern table once.
func NewPatternAnalyzer() *PatternAnalyzer {
	return &PatternAnalyzer{patterns: masking.CompileBuiltinPatterns()}
}

// Analyze returns one PIIEntity per non-overlapping regex match.
func (a *PatternAnalyzer) Analyze(_ context.Context, text string) ([]capability.PIIEntity, error) {
	var out []capability.PIIEntity
	for _, p := range a.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			out = append(out, capability.PIIEntity{
				Start:  loc[0],
				End:    loc[1],
				Entity: p.Entity,
				Score:  1.0,
				Text:   text[loc[0]:loc[1]],
			})
		}
	}
	return out, nil
}

// PatternAnonymizer replaces matched spans with "[<Entity>]" tokens,
// or the operator-supplied replacement when one is configured for that
// entity.
type PatternAnonymizer struct{}

var _ capability.Anonymizer = (*PatternAnonymizer)(nil)

// NewPatternAnonymizer constructs the default anonymizer.
func NewPatternAnonymizer() *PatternAnonymizer { return &PatternAnonymizer{} }

// Anonymize performs a single right-to-left pass over matches so span
// offsets computed against the original text stay valid as the string
// shrinks or grows with each replacement.
func (a *PatternAnonymizer) Anonymize(_ context.Context, text string, matches []capability.PIIEntity, operators map[string]capability.AnonymizeOperator) (string, error) {
	if len(matches) == 0 {
		return text, nil
	}

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
		replacement := "[" + m.Entity + "]"
		if operators != nil {
			if op, ok := operators[m.Entity]; ok && op.Replacement != "" {
				replacement = op.Replacement
			}
		}
		out = out[:m.Start] + replacement + out[m.End:]
	}
	return out, nil
}
