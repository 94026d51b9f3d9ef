package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompileBuiltinPatterns(t *testing.T) {
	patterns := CompileBuiltinPatterns()
	assert.Equal(t, len(builtinPatterns), len(patterns), "every built-in pattern should compile")

	for _, p := range patterns {
		assert.NotNil(t, p.Regex)
		assert.NotEmpty(t, p.Entity)
		assert.NotEmpty(t, p.Replacement)
	}
}

func TestCompileBuiltinPatterns_EmailMatches(t *testing.T) {
	patterns := CompileBuiltinPatterns()
	var email *CompiledPattern
	for _, p := range patterns {
		if p.Entity == "EMAIL" {
			email = p
		}
	}
	if assert.NotNil(t, email) {
		assert.True(t, email.Regex.MatchString("contact ops@example.com for access"))
		assert.False(t, email.Regex.MatchString("no email here"))
	}
}

func TestFormatPlaceholder_RoundTrips(t *testing.T) {
	assert.True(t, tokenPattern.MatchString(formatPlaceholder(0)))
	assert.True(t, tokenPattern.MatchString(formatPlaceholder(42)))
	assert.False(t, tokenPattern.MatchString("not a placeholder"))
}
