package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moabualruz/rice-search/internal/vecengine"
)

func hits(ids ...string) []vecengine.ScoredPoint {
	out := make([]vecengine.ScoredPoint, len(ids))
	for i, id := range ids {
		out[i] = vecengine.ScoredPoint{ID: id, Score: float64(len(ids) - i)}
	}
	return out
}

func scaled(points []vecengine.ScoredPoint, factor float64) []vecengine.ScoredPoint {
	out := make([]vecengine.ScoredPoint, len(points))
	for i, p := range points {
		p.Score *= factor
		out[i] = p
	}
	return out
}

func ids(cands []*Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ChunkID
	}
	return out
}

func TestFuseEmpty(t *testing.T) {
	f := NewFusion()
	out := f.Fuse(nil, nil, Weights{Sparse: 0.5, Dense: 0.5})
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestFuseRanksAndMarksBoth(t *testing.T) {
	f := NewFusion()
	sparse := hits("a", "b", "c")
	dense := hits("b", "a", "d")

	out := f.Fuse(sparse, dense, Weights{Sparse: 0.5, Dense: 0.5})
	require.Len(t, out, 4)

	byID := map[string]*Candidate{}
	for _, c := range out {
		byID[c.ChunkID] = c
	}
	assert.True(t, byID["a"].InBoth)
	assert.True(t, byID["b"].InBoth)
	assert.False(t, byID["c"].InBoth)
	assert.Equal(t, 1, byID["a"].SparseRank)
	assert.Equal(t, 2, byID["a"].DenseRank)

	// Top score normalizes to 1.
	assert.InDelta(t, 1.0, out[0].Score, 1e-9)
}

// Fusion is rank-order only: scaling one side's raw scores by any
// positive constant must not change the output ranking.
func TestFuseScaleInvariance(t *testing.T) {
	f := NewFusion()
	sparse := hits("a", "b", "c", "d")
	dense := hits("c", "a", "e")
	w := Weights{Sparse: 0.6, Dense: 0.4}

	base := f.Fuse(sparse, dense, w)
	scaledOut := f.Fuse(scaled(sparse, 1000), scaled(dense, 0.001), w)

	assert.Equal(t, ids(base), ids(scaledOut))
}

// RRF with balanced weights is commutative over retrievers: swapping
// the input lists swaps the per-side ranks but yields identical scores.
func TestFuseBalancedCommutative(t *testing.T) {
	f := NewFusion()
	listA := hits("a", "b", "c")
	listB := hits("c", "d")
	w := Weights{Sparse: 0.5, Dense: 0.5}

	fwd := f.Fuse(listA, listB, w)
	rev := f.Fuse(listB, listA, w)

	fwdScores := map[string]float64{}
	for _, c := range fwd {
		fwdScores[c.ChunkID] = c.Score
	}
	for _, c := range rev {
		assert.InDelta(t, fwdScores[c.ChunkID], c.Score, 1e-12, "chunk %s", c.ChunkID)
	}
}

func TestFuseWeightSensitivity(t *testing.T) {
	f := NewFusion()
	// doc1 dominates the sparse list, doc3 the dense list.
	sparse := hits("doc1", "doc2", "doc3")
	dense := hits("doc3", "doc2", "doc1")

	sparseHeavy := f.Fuse(sparse, dense, Weights{Sparse: 0.9, Dense: 0.1})
	assert.Equal(t, "doc1", sparseHeavy[0].ChunkID)

	denseHeavy := f.Fuse(sparse, dense, Weights{Sparse: 0.1, Dense: 0.9})
	assert.Equal(t, "doc3", denseHeavy[0].ChunkID)
}

func TestFuseDeterministicTieBreak(t *testing.T) {
	f := NewFusion()
	// Single-side lists: fused rank decides before chunk id, so z (rank 1)
	// precedes y even though y sorts first by id.
	out := f.Fuse(hits("z", "y"), nil, Weights{Sparse: 0.5, Dense: 0.5})
	require.Len(t, out, 2)
	assert.Equal(t, "z", out[0].ChunkID) // rank 1 beats rank 2
}

func TestWeightsBalanced(t *testing.T) {
	assert.True(t, Weights{Sparse: 0.5, Dense: 0.5}.Balanced())
	assert.True(t, Weights{Sparse: 0.52, Dense: 0.48}.Balanced())
	assert.False(t, Weights{Sparse: 0.7, Dense: 0.3}.Balanced())
}
