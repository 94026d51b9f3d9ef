// Package lsh implements a process-wide MinHash/LSH near-duplicate
// index over token shingles (spec.md §4.5 stage 2). No vetted
// ecosystem MinHash/LSH library is present anywhere in the retrieved
// example pack, so the documented algorithm is implemented directly
// rather than fabricating a dependency (see DESIGN.md).
package lsh

import (
	"hash/fnv"
	"strings"
	"sync"
)

// Config fixes the index's shape at construction time. Changing
// NumPerm or Threshold requires a full Rebuild (spec §4.5: "a
// threshold change requires a rebuild").
type Config struct {
	NumPerm   int     // number of hash functions, default 128
	Threshold float64 // Jaccard similarity threshold, default 0.95
	ShingleK  int     // token shingle width, default 3
}

// DefaultConfig matches spec.md §4.3's default tuning knobs.
func DefaultConfig() Config {
	return Config{NumPerm: 128, Threshold: 0.95, ShingleK: 3}
}

// Match is a candidate returned by Query.
type Match struct {
	ID         string
	Similarity float64
}

// entry is one indexed item's MinHash signature.
type entry struct {
	id        string
	signature []uint64
}

// Index is a process-wide, in-memory MinHash/LSH index. It is rebuilt
// on startup from the current store and updated incrementally on each
// approved insert (spec §4.5).
type Index struct {
	cfg Config

	mu      sync.RWMutex
	entries map[string]entry // id -> signature, for O(1) removal/update
	seeds   []uint64         // per-permutation hash seeds, fixed at construction
}

// New builds an empty index with the given configuration.
func New(cfg Config) *Index {
	if cfg.NumPerm <= 0 {
		cfg.NumPerm = 128
	}
	if cfg.ShingleK <= 0 {
		cfg.ShingleK = 3
	}
	idx := &Index{
		cfg:     cfg,
		entries: make(map[string]entry),
		seeds:   make([]uint64, cfg.NumPerm),
	}
	// A fixed, deterministic seed sequence. Any well-mixed sequence of
	// distinct odd constants works for FNV-based permutation hashing;
	// determinism matters more than cryptographic quality here.
	seed := uint64(1469598103934665603) // FNV offset basis
	for i := range idx.seeds {
		seed = seed*6364136223846793005 + 1442695040888963407
		idx.seeds[i] = seed | 1
	}
	return idx
}

// Shingle splits text into whitespace-delimited tokens and returns the
// set of contiguous k-token shingles, joined by a single space.
func Shingle(text string, k int) []string {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) < k {
		if len(tokens) == 0 {
			return nil
		}
		return []string{strings.Join(tokens, " ")}
	}
	shingles := make([]string, 0, len(tokens)-k+1)
	for i := 0; i+k <= len(tokens); i++ {
		shingles = append(shingles, strings.Join(tokens[i:i+k], " "))
	}
	return shingles
}

// signature computes the MinHash signature of a shingle set under
// idx.seeds: for each seed, the minimum FNV-1a hash of seed^shingle
// over all shingles.
func (idx *Index) signature(shingles []string) []uint64 {
	sig := make([]uint64, len(idx.seeds))
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	if len(shingles) == 0 {
		return sig
	}
	for _, s := range shingles {
		h := fnv.New64a()
		_, _ = h.Write([]byte(s))
		base := h.Sum64()
		for i, seed := range idx.seeds {
			v := base ^ seed
			// Final mix (splitmix64-style) so XOR-combined seeds don't
			// leave the low bits of base dominating every permutation.
			v ^= v >> 33
			v *= 0xff51afd7ed558ccd
			v ^= v >> 33
			if v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

func similarity(a, b []uint64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	equal := 0
	for i := range a {
		if a[i] == b[i] {
			equal++
		}
	}
	return float64(equal) / float64(len(a))
}

// Insert adds or replaces the signature for id, computed from content.
func (idx *Index) Insert(id, content string) {
	sig := idx.signature(Shingle(content, idx.cfg.ShingleK))
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[id] = entry{id: id, signature: sig}
}

// Remove drops id from the index, if present.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, id)
}

// Query returns every indexed item whose estimated Jaccard similarity
// to content meets the index's fixed threshold, most similar first.
func (idx *Index) Query(content string) []Match {
	sig := idx.signature(Shingle(content, idx.cfg.ShingleK))

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []Match
	for _, e := range idx.entries {
		sim := similarity(sig, e.signature)
		if sim >= idx.cfg.Threshold {
			out = append(out, Match{ID: e.id, Similarity: sim})
		}
	}
	// Simple insertion sort: candidate lists here are expected to be
	// tiny (a handful of near-duplicates at most), not worth a
	// sort.Slice allocation.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Similarity > out[j-1].Similarity; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Rebuild discards the current index contents and re-inserts every
// (id, content) pair given, under the same fixed Config. Callers
// change Config by constructing a new Index with New and Rebuilding
// it, not by mutating cfg in place.
func (idx *Index) Rebuild(items map[string]string) {
	entries := make(map[string]entry, len(items))
	for id, content := range items {
		entries[id] = entry{id: id, signature: idx.signature(Shingle(content, idx.cfg.ShingleK))}
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = entries
}

// Len reports how many items are currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}
