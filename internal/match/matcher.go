// Package match decides whether a probe encoding belongs to a known
// person. It is pure: no storage, no clock, no side effects. Callers
// own persistence and decide what to do with the verdict.
package match

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when a probe encoding and a stored
// encoding disagree on vector length. The registry is homogeneous per
// embedding model; a mismatch means mixed models and the frame must be
// skipped rather than force-matched.
var ErrDimensionMismatch = errors.New("encoding dimension mismatch")

// DefaultThreshold is the dlib-style tolerance face encodings are
// commonly calibrated against.
const DefaultThreshold = 0.6

// Candidate is one registered encoding offered to the matcher.
type Candidate struct {
	PersonID int64
	Name     string
	Encoding []float32
}

// Result describes the winning candidate of a match.
type Result struct {
	PersonID   int64
	Name       string
	Distance   float32
	Confidence float32
}

// Matcher performs exact nearest-neighbour matching over candidates.
type Matcher struct {
	threshold float32
}

func New(threshold float32) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

func (m *Matcher) Threshold() float32 { return m.threshold }

// Match returns the candidate nearest to probe when its distance is
// within the threshold. ok is false when the candidate list is empty or
// nothing qualifies; that is an expected outcome, not an error. Ties on
// distance go to the earliest candidate, so a caller feeding candidates
// in ascending person id order gets the oldest registration.
func (m *Matcher) Match(probe []float32, known []Candidate) (Result, bool, error) {
	if len(known) == 0 {
		return Result{}, false, nil
	}
	best := -1
	bestDist := math.MaxFloat64
	for i := range known {
		d, err := Distance(probe, known[i].Encoding)
		if err != nil {
			return Result{}, false, fmt.Errorf("candidate person %d: %w", known[i].PersonID, err)
		}
		if float64(d) < bestDist {
			bestDist = float64(d)
			best = i
		}
	}
	if best < 0 {
		return Result{}, false, nil
	}
	dist := float32(bestDist)
	if dist > m.threshold {
		return Result{}, false, nil
	}
	c := known[best]
	return Result{
		PersonID:   c.PersonID,
		Name:       c.Name,
		Distance:   dist,
		Confidence: Confidence(dist),
	}, true, nil
}

// Distance computes the Euclidean distance between two encodings of the
// same length, accumulated in float64 for stability.
func Distance(a, b []float32) (float32, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("%w: empty encoding", ErrDimensionMismatch)
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum)), nil
}

// Confidence maps a distance to a display score: 1 - distance, clamped
// to [0,1]. Distance 0 scores 1, anything past 1 scores 0.
func Confidence(distance float32) float32 {
	c := 1 - distance
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
