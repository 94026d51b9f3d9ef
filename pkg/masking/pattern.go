package masking

import (
	"fmt"
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its entity
// category and replacement token (generalized from the teacher's
// named-pattern table to the spec §4.2 analyzer-entity model).
type CompiledPattern struct {
	Entity      string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPattern is the uncompiled source for one built-in pattern.
type builtinPattern struct {
	entity      string
	pattern     string
	replacement string
}

// builtinPatterns is the default regex-based PII pattern table backing
// pkg/capability/pii's reference PIIAnalyzer/Anonymizer. Deployments
// needing higher recall plug a model-backed analyzer instead (spec §6).
var builtinPatterns = []builtinPattern{
	{"EMAIL", `[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`, "[EMAIL]"},
	{"PHONE", `\+?\d[\d\-. ]{7,}\d`, "[PHONE]"},
	{"SSN", `\b\d{3}-\d{2}-\d{4}\b`, "[SSN]"},
	{"IPV4", `\b(?:\d{1,3}\.){3}\d{1,3}\b`, "[IP]"},
	{"CREDIT_CARD", `\b(?:\d[ -]*?){13,16}\b`, "[CREDIT_CARD]"},
	{"NAME", `\b(?:Mr|Mrs|Ms|Dr)\.? [A-Z][a-z]+ [A-Z][a-z]+\b`, "[NAME]"},
}

// CompileBuiltinPatterns compiles the built-in table. Invalid patterns
// are logged and skipped, never fatal — mirrors the teacher's
// compileBuiltinPatterns fail-soft behavior.
func CompileBuiltinPatterns() []*CompiledPattern {
	out := make([]*CompiledPattern, 0, len(builtinPatterns))
	for _, p := range builtinPatterns {
		re, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("failed to compile built-in PII pattern, skipping",
				"entity", p.entity, "error", err)
			continue
		}
		out = append(out, &CompiledPattern{
			Entity:      p.entity,
			Regex:       re,
			Replacement: p.replacement,
		})
	}
	return out
}

// tokenPattern matches narrative placeholder tokens the code-block
// extractor inserts (see codeblock.go), excluded from re-analysis and
// from the over-redaction ratio's token counts.
var tokenPattern = regexp.MustCompile(`§CODE_BLOCK_\d+§`)

func formatPlaceholder(index int) string {
	return fmt.Sprintf("§CODE_BLOCK_%d§", index)
}
