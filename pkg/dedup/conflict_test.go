package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_DirectUpdate(t *testing.T) {
	r := NewResolver(&fakeLLM{response: "DIRECT UPDATE"}, testConfig())
	d := r.Resolve(context.Background(), "prior-1", "old text", "new text")
	assert.Equal(t, ConflictUpdate, d.Kind)
	assert.Equal(t, "prior-1", d.PriorID)
	assert.True(t, d.IsDirectConflict)
}

func TestResolver_DirectNoop(t *testing.T) {
	r := NewResolver(&fakeLLM{response: "DIRECT NOOP"}, testConfig())
	d := r.Resolve(context.Background(), "prior-1", "old text", "new text")
	assert.Equal(t, ConflictNoop, d.Kind)
}

func TestResolver_DirectVersionForkParsesDate(t *testing.T) {
	r := NewResolver(&fakeLLM{response: "DIRECT VERSION_FORK 2025-06-01"}, testConfig())
	d := r.Resolve(context.Background(), "prior-1", "old text", "new text")
	require.Equal(t, ConflictVersionFork, d.Kind)
	assert.Equal(t, 2025, d.ForkValidAt.Year())
	assert.Equal(t, time.Month(6), d.ForkValidAt.Month())
	assert.Equal(t, 1, d.ForkValidAt.Day())
}

func TestResolver_MultihopFlagsForReviewInsteadOfAutoResolving(t *testing.T) {
	r := NewResolver(&fakeLLM{response: "MULTIHOP"}, testConfig())
	d := r.Resolve(context.Background(), "prior-1", "old text", "new text")
	assert.Equal(t, ConflictAdd, d.Kind)
	assert.False(t, d.IsDirectConflict)
}

func TestResolver_LLMFailureDefaultsToAdd(t *testing.T) {
	r := NewResolver(&fakeLLM{err: errors.New("timeout")}, testConfig())
	d := r.Resolve(context.Background(), "prior-1", "old text", "new text")
	assert.Equal(t, ConflictAdd, d.Kind)
	assert.True(t, d.IsDirectConflict)
}

func TestResolver_MalformedVersionForkDefaultsToAdd(t *testing.T) {
	r := NewResolver(&fakeLLM{response: "DIRECT VERSION_FORK not-a-date"}, testConfig())
	d := r.Resolve(context.Background(), "prior-1", "old text", "new text")
	assert.Equal(t, ConflictAdd, d.Kind)
}

func TestResolver_EmptyResponseDefaultsToAdd(t *testing.T) {
	r := NewResolver(&fakeLLM{response: ""}, testConfig())
	d := r.Resolve(context.Background(), "prior-1", "old text", "new text")
	assert.Equal(t, ConflictAdd, d.Kind)
}
