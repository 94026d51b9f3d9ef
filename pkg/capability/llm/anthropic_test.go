package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAnthropicClient_DefaultsModelWhenUnset(t *testing.T) {
	t.Setenv("ANTHROPIC_MODEL", "")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	c := NewAnthropicClient()
	assert.Equal(t, defaultModel, c.model)
	assert.NotNil(t, c.breaker)
}

func TestNewAnthropicClient_HonorsModelOverride(t *testing.T) {
	t.Setenv("ANTHROPIC_MODEL", "claude-3-opus-latest")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	c := NewAnthropicClient()
	assert.Equal(t, "claude-3-opus-latest", string(c.model))
}
