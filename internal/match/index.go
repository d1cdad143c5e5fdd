package match

import (
	"github.com/coder/hnsw"
)

const indexMaxNeighbors = 16

// Index narrows the candidate set for large registries with an HNSW
// graph. Search is approximate, so callers verify the returned
// candidates against Matcher.Match and its exact metric; the linear
// scan remains the reference behavior.
type Index struct {
	graph *hnsw.Graph[int64]
	byID  map[int64]Candidate
}

// NewIndex builds a graph over the full candidate set. Candidates with
// empty encodings are skipped.
func NewIndex(known []Candidate) *Index {
	g := hnsw.NewGraph[int64]()
	g.M = indexMaxNeighbors
	g.Ml = 1.0 / float64(indexMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance

	ix := &Index{graph: g, byID: make(map[int64]Candidate, len(known))}
	for _, c := range known {
		if len(c.Encoding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(c.PersonID, c.Encoding))
		ix.byID[c.PersonID] = c
	}
	return ix
}

// Nearest returns up to k candidates closest to probe, nearest first.
func (ix *Index) Nearest(probe []float32, k int) []Candidate {
	if len(ix.byID) == 0 || k <= 0 {
		return nil
	}
	nodes := ix.graph.Search(probe, k)
	out := make([]Candidate, 0, len(nodes))
	for _, n := range nodes {
		if c, ok := ix.byID[n.Key]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (ix *Index) Len() int { return len(ix.byID) }
