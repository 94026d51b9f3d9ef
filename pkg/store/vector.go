package store

import (
	"fmt"
	"strconv"
	"strings"
)

// encodeVector formats a float32 slice as a pgvector input literal,
// e.g. "[0.1,0.2,0.3]". Hand-rolled rather than pulling in
// pgvector-go: no example repo in the pack imports it, and the
// literal format is simple enough that adding a dependency just for
// string formatting would be unjustified per DESIGN.md's "no
// fabricated/unjustified deps" rule.
func encodeVector(v []float32) string {
	if v == nil {
		return ""
	}
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// decodeVector parses a pgvector text-format literal back into a
// float32 slice.
func decodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return []float32{}, nil
	}
	fields := strings.Split(s, ",")
	out := make([]float32, len(fields))
	for i, f := range fields {
		val, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("store: decode vector component %q: %w", f, err)
		}
		out[i] = float32(val)
	}
	return out, nil
}
