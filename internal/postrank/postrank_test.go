package postrank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moabualruz/rice-search/internal/retrieval"
	"github.com/moabualruz/rice-search/internal/vecengine"
)

func cand(id, path string, score float64, vec []float32) *retrieval.Candidate {
	return &retrieval.Candidate{
		ChunkID: id,
		Score:   score,
		Dense:   vec,
		Payload: &vecengine.Payload{Path: path, Content: id},
	}
}

func TestDedupDropsNearDuplicate(t *testing.T) {
	p := New(Config{EnableDedup: true, DedupThreshold: 0.85, PreserveTop: 1})

	// a and b are nearly identical vectors at ranks 1 and 2.
	a := cand("a", "x.go", 1.0, []float32{1, 0, 0.01})
	b := cand("b", "y.go", 0.9, []float32{1, 0, 0.02})
	c := cand("c", "z.go", 0.8, []float32{0, 1, 0})

	out, outcome := p.Run(context.Background(), []*retrieval.Candidate{a, b, c})
	require.Len(t, out, 2)
	assert.Equal(t, 1, outcome.Deduped)
	// Original order preserved minus the drop.
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "c", out[1].ChunkID)
}

func TestDedupPreservesTopK(t *testing.T) {
	p := New(Config{EnableDedup: true, DedupThreshold: 0.85, PreserveTop: 3})

	same := []float32{1, 0, 0}
	in := []*retrieval.Candidate{
		cand("a", "a.go", 1.0, same),
		cand("b", "b.go", 0.9, same),
		cand("c", "c.go", 0.8, same),
		cand("d", "d.go", 0.7, same),
	}
	out, outcome := p.Run(context.Background(), in)
	// Top 3 survive despite being identical; the fourth drops.
	assert.Len(t, out, 3)
	assert.Equal(t, 1, outcome.Deduped)
}

func TestDedupIdempotent(t *testing.T) {
	cfg := Config{EnableDedup: true, DedupThreshold: 0.85, PreserveTop: 1}

	in := []*retrieval.Candidate{
		cand("a", "a.go", 1.0, []float32{1, 0, 0}),
		cand("b", "b.go", 0.9, []float32{0.99, 0.01, 0}),
		cand("c", "c.go", 0.8, []float32{0, 1, 0}),
		cand("d", "d.go", 0.7, []float32{0, 0.99, 0.01}),
	}

	once, _ := New(cfg).Run(context.Background(), in)
	twice, _ := New(cfg).Run(context.Background(), once)

	require.Equal(t, len(once), len(twice))
	for i := range once {
		assert.Equal(t, once[i].ChunkID, twice[i].ChunkID)
	}
}

func TestDedupPreferLonger(t *testing.T) {
	p := New(Config{EnableDedup: true, DedupThreshold: 0.85, PreserveTop: 1, PreferLonger: true})

	short := cand("short", "a.go", 0.9, []float32{1, 0, 0})
	long := cand("long", "b.go", 0.8, []float32{0.99, 0.01, 0})
	long.Payload.Content = "a much longer chunk of content"
	top := cand("top", "t.go", 1.0, []float32{0, 1, 0})

	out, _ := p.Run(context.Background(), []*retrieval.Candidate{top, short, long})
	ids := make([]string, len(out))
	for i, c := range out {
		ids[i] = c.ChunkID
	}
	// The longer duplicate replaces the shorter previously-kept one.
	assert.Contains(t, ids, "long")
	assert.NotContains(t, ids, "short")
}

func TestMMRFirstPickIsHighestScoring(t *testing.T) {
	p := New(Config{EnableDiversity: true, DiversityLambda: 0.7})

	in := []*retrieval.Candidate{
		cand("mid", "a.go", 0.5, []float32{1, 0, 0}),
		cand("best", "b.go", 1.0, []float32{0, 1, 0}),
		cand("low", "c.go", 0.1, []float32{0, 0, 1}),
	}
	out, outcome := p.Run(context.Background(), in)
	require.Len(t, out, 3)
	assert.Equal(t, "best", out[0].ChunkID)
	assert.Greater(t, outcome.AvgDiversity, 0.0)
}

func TestMMRPenalizesSimilarity(t *testing.T) {
	p := New(Config{EnableDiversity: true, DiversityLambda: 0.5})

	// near-dup of the best should lose to the diverse candidate even
	// with slightly higher relevance.
	best := cand("best", "a.go", 1.0, []float32{1, 0, 0})
	nearDup := cand("dup", "b.go", 0.95, []float32{0.999, 0.001, 0})
	diverse := cand("div", "c.go", 0.85, []float32{0, 1, 0})

	out, _ := p.Run(context.Background(), []*retrieval.Candidate{best, nearDup, diverse})
	require.Len(t, out, 3)
	assert.Equal(t, "best", out[0].ChunkID)
	assert.Equal(t, "div", out[1].ChunkID)
}

func TestAggregationGroupsAndOrders(t *testing.T) {
	p := New(Config{GroupByFile: true, MaxPerFile: 2})

	in := []*retrieval.Candidate{
		cand("a1", "a.go", 1.0, nil),
		cand("b1", "b.go", 0.9, nil),
		cand("a2", "a.go", 0.8, nil),
		cand("a3", "a.go", 0.7, nil), // beyond max-per-file
		cand("b2", "b.go", 0.6, nil),
	}
	out, outcome := p.Run(context.Background(), in)
	assert.True(t, outcome.Grouped)
	require.Len(t, out, 4)

	// Representatives first (one per file, by file score), then the
	// rest by own score.
	assert.Equal(t, "a1", out[0].ChunkID)
	assert.Equal(t, "b1", out[1].ChunkID)
	assert.Equal(t, "a2", out[2].ChunkID)
	assert.Equal(t, "b2", out[3].ChunkID)
}

func TestAggregationStableOnEqualScores(t *testing.T) {
	p := New(Config{GroupByFile: true, MaxPerFile: 3})

	in := []*retrieval.Candidate{
		cand("x1", "x.go", 0.5, nil),
		cand("y1", "y.go", 0.5, nil),
	}
	out, _ := p.Run(context.Background(), in)
	require.Len(t, out, 2)
	// Equal file scores preserve original order.
	assert.Equal(t, "x1", out[0].ChunkID)
	assert.Equal(t, "y1", out[1].ChunkID)
}

func TestCancelledContextReturnsPartial(t *testing.T) {
	p := New(Config{EnableDedup: true, DedupThreshold: 0.85, PreserveTop: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := []*retrieval.Candidate{
		cand("a", "a.go", 1.0, []float32{1, 0}),
		cand("b", "b.go", 0.9, []float32{0, 1}),
	}
	_, outcome := p.Run(ctx, in)
	assert.True(t, outcome.Partial)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosine(nil, []float32{1}))
	assert.Equal(t, 0.0, cosine([]float32{1}, []float32{1, 0}))
}
