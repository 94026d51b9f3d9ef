package masking

import (
	"regexp"
	"strings"
)

// fencedBlockPattern matches markdown fenced code blocks (``` or ~~~),
// captured greedily line-by-line so nested back-ticks inside the body
// don't prematurely close the match.
var fencedBlockPattern = regexp.MustCompile("(?s)(```|~~~)[^\n]*\n.*?\n(```|~~~)")

// ExtractCodeBlocks replaces every fenced code block in content with a
// narrative placeholder token and returns the stripped narrative text
// alongside the extracted block bodies (index-aligned with the
// placeholder's ordinal). Knowledge content is overwhelmingly
// markdown (spec §3 Content field), so fenced blocks are the
// structural signal used to spare code from the narrative PII sweep.
func ExtractCodeBlocks(content string) (narrative string, blocks []string) {
	idx := 0
	narrative = fencedBlockPattern.ReplaceAllStringFunc(content, func(block string) string {
		blocks = append(blocks, block)
		placeholder := formatPlaceholder(idx)
		idx++
		return placeholder
	})
	return narrative, blocks
}

// ReinjectCodeBlocks restores extracted code blocks into narrative text
// in place of their placeholder tokens.
func ReinjectCodeBlocks(narrative string, blocks []string) string {
	out := narrative
	for i, block := range blocks {
		out = strings.ReplaceAll(out, formatPlaceholder(i), block)
	}
	return out
}

// stripPlaceholders removes placeholder tokens before token-ratio
// accounting, since they stand in for an entire (possibly huge) code
// block and would otherwise distort the redaction ratio either way.
func stripPlaceholders(text string) string {
	return tokenPattern.ReplaceAllString(text, " ")
}

// countTokens is a crude whitespace tokenizer good enough for the
// over-redaction ratio check (spec §4.2 step 5 final guard); it does
// not need to match any linguistic definition of "word".
func countTokens(text string) int {
	return len(strings.Fields(text))
}

// countRedactedTokens counts whitespace tokens that are exactly one of
// the bracketed redaction markers (e.g. "[EMAIL]") left by anonymize.
func countRedactedTokens(text string) int {
	n := 0
	for _, tok := range strings.Fields(text) {
		if strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]") {
			n++
		}
	}
	return n
}
