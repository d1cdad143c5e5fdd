package match

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-separated clusters so the true nearest neighbour is unambiguous
// regardless of graph traversal order.
func clusteredCandidates() []Candidate {
	var out []Candidate
	for i := range 12 {
		base := float32(i * 10)
		out = append(out, Candidate{
			PersonID: int64(i + 1),
			Name:     fmt.Sprintf("person-%d", i+1),
			Encoding: []float32{base, base, base, base},
		})
	}
	return out
}

func TestIndexNearestFindsTrueNeighbour(t *testing.T) {
	known := clusteredCandidates()
	ix := NewIndex(known)
	require.Equal(t, len(known), ix.Len())

	probe := []float32{30.2, 29.9, 30.1, 30.0} // nearest to person 4 at (30,30,30,30)
	got := ix.Nearest(probe, 3)
	require.NotEmpty(t, got)

	ids := make([]int64, len(got))
	for i, c := range got {
		ids[i] = c.PersonID
	}
	assert.Contains(t, ids, int64(4))

	// The shortlist feeds the exact matcher, which must agree with a
	// full linear scan.
	m := New(1.0)
	fromIndex, ok, err := m.Match(probe, got)
	require.NoError(t, err)
	require.True(t, ok)
	fromScan, ok2, err := m.Match(probe, known)
	require.NoError(t, err)
	require.True(t, ok2)
	assert.Equal(t, fromScan, fromIndex)
}

func TestIndexEmpty(t *testing.T) {
	ix := NewIndex(nil)
	assert.Equal(t, 0, ix.Len())
	assert.Nil(t, ix.Nearest([]float32{1, 2}, 5))
}

func TestIndexSkipsEmptyEncodings(t *testing.T) {
	ix := NewIndex([]Candidate{
		{PersonID: 1, Encoding: []float32{1, 1}},
		{PersonID: 2, Encoding: nil},
	})
	assert.Equal(t, 1, ix.Len())
}
