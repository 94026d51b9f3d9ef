// Package embedding provides a default EmbeddingProvider. Per spec §6
// the model choice is a deployment decision; this is the reference
// implementation the core ships with when no real model API is wired
// in, not a requirement.
package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/hivemind/core/pkg/capability"
)

// HashingProvider derives a deterministic unit vector from token
// shingles using feature hashing. It captures no real semantics; it
// exists so the rest of the pipeline (storage, cosine dedup, RRF) is
// exercisable without a network call to a real embedding model.
type HashingProvider struct {
	dim int
}

var _ capability.EmbeddingProvider = (*HashingProvider)(nil)

// NewHashingProvider constructs a provider with the given fixed
// dimension (pinned at deployment per spec §3).
func NewHashingProvider(dim int) *HashingProvider {
	if dim <= 0 {
		dim = 256
	}
	return &HashingProvider{dim: dim}
}

func (p *HashingProvider) Dimension() int { return p.dim }

// Embed hashes each whitespace token into a bucket and accumulates a
// signed count, then L2-normalizes the result.
func (p *HashingProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float64, p.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(p.dim))
		sign := 1.0
		if (sum>>1)%2 == 0 {
			sign = -1.0
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, p.dim)
	if norm == 0 {
		// Degenerate (empty) text: return a valid unit vector with a
		// single fixed component set, rather than a NaN-free zero
		// vector that would distort cosine distance comparisons.
		out[0] = 1
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}
