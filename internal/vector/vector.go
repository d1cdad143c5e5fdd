// Package vector serializes face encodings to the text form the person
// store persists. The wire format is a plain JSON array of numbers, so
// rows stay readable with any SQLite client and round-trip exactly:
// encoding/json emits the shortest decimal that parses back to the same
// float32.
package vector

import (
	"encoding/json"
	"fmt"
	"math"
)

// Marshal renders an encoding as JSON array text. Vectors must be
// non-empty and finite; NaN or Inf components are rejected before they
// can poison stored rows.
func Marshal(v []float32) (string, error) {
	if len(v) == 0 {
		return "", fmt.Errorf("marshal encoding: empty vector")
	}
	for i, x := range v {
		if f := float64(x); math.IsNaN(f) || math.IsInf(f, 0) {
			return "", fmt.Errorf("marshal encoding: component %d is not finite", i)
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal encoding: %w", err)
	}
	return string(b), nil
}

// Unmarshal parses JSON array text back into an encoding.
func Unmarshal(s string) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("unmarshal encoding: %w", err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("unmarshal encoding: empty vector")
	}
	return v, nil
}
