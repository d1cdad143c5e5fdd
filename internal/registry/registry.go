// Package registry keeps the known-person encodings in memory so
// matching never touches the database on the hot path. The snapshot is
// reloaded after registry mutations and, in the worker, on an interval.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/facewatch/internal/match"
	"github.com/your-org/facewatch/internal/observability"
	"github.com/your-org/facewatch/internal/storage"
)

// shortlistK bounds how many approximate neighbours the HNSW index
// hands to the exact matcher.
const shortlistK = 8

type Registry struct {
	store   storage.Store
	matcher *match.Matcher
	useHNSW bool

	mu         sync.RWMutex
	candidates []match.Candidate
	index      *match.Index
}

func New(store storage.Store, matcher *match.Matcher, indexKind string) *Registry {
	return &Registry{
		store:   store,
		matcher: matcher,
		useHNSW: indexKind == "hnsw",
	}
}

// Refresh reloads the snapshot from the store. Candidates arrive
// ordered by ascending person id, which keeps tie-breaks deterministic.
func (r *Registry) Refresh(ctx context.Context) error {
	persons, err := r.store.ListEncodings(ctx)
	if err != nil {
		return fmt.Errorf("refresh registry: %w", err)
	}

	candidates := make([]match.Candidate, 0, len(persons))
	for _, p := range persons {
		candidates = append(candidates, match.Candidate{
			PersonID: p.ID,
			Name:     p.Name,
			Encoding: p.Encoding,
		})
	}

	var index *match.Index
	if r.useHNSW {
		index = match.NewIndex(candidates)
	}

	r.mu.Lock()
	r.candidates = candidates
	r.index = index
	r.mu.Unlock()

	observability.RegistrySize.Set(float64(len(candidates)))
	slog.Debug("registry refreshed", "persons", len(candidates))
	return nil
}

// Match resolves a probe encoding against the snapshot. With the HNSW
// index enabled the graph narrows the field first and the exact matcher
// has the final word.
func (r *Registry) Match(probe []float32) (match.Result, bool, error) {
	start := time.Now()
	defer func() {
		observability.MatchDuration.Observe(time.Since(start).Seconds())
	}()

	r.mu.RLock()
	candidates := r.candidates
	index := r.index
	r.mu.RUnlock()

	if index != nil && index.Len() > 0 {
		return r.matcher.Match(probe, index.Nearest(probe, shortlistK))
	}
	return r.matcher.Match(probe, candidates)
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.candidates)
}

// Dim reports the encoding length of the loaded snapshot, 0 when empty.
// The registry is homogeneous; enrollment paths that accept precomputed
// encodings check against this before writing.
func (r *Registry) Dim() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.candidates) == 0 {
		return 0
	}
	return len(r.candidates[0].Encoding)
}

func (r *Registry) Threshold() float32 { return r.matcher.Threshold() }

// Run refreshes on an interval until the context ends. The worker uses
// it to pick up registrations made through the API.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				slog.Warn("registry refresh failed", "error", err)
			}
		}
	}
}
