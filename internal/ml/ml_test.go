package ml

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moabualruz/rice-search/internal/query"
)

func TestStaticEmbedderDeterministic(t *testing.T) {
	e, err := NewStaticEmbedder(128)
	require.NoError(t, err)

	a, err := e.Embed(context.Background(), []string{"func ParseConfig(path string) error"})
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), []string{"func ParseConfig(path string) error"})
	require.NoError(t, err)
	assert.Equal(t, a[0], b[0])
}

func TestStaticEmbedderNormalized(t *testing.T) {
	e, err := NewStaticEmbedder(64)
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"hybrid code search"})
	require.NoError(t, err)

	var norm float64
	for _, x := range vecs[0] {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestStaticEmbedderEmptyText(t *testing.T) {
	e, err := NewStaticEmbedder(32)
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"   "})
	require.NoError(t, err)
	require.Len(t, vecs[0], 32)
	for _, x := range vecs[0] {
		assert.Zero(t, x)
	}
}

func TestStaticEmbedderRejectsBadDims(t *testing.T) {
	_, err := NewStaticEmbedder(0)
	assert.Error(t, err)
}

// Encoding the same text twice with the stub sparse encoder yields
// identical vectors even as the vocabulary grows in between.
func TestStubSparseEncoderDeterministic(t *testing.T) {
	e := NewStubSparseEncoder(0)

	first, err := e.Encode(context.Background(), []string{"func Hello() { return }"})
	require.NoError(t, err)

	// Grow the vocabulary with unrelated text.
	_, err = e.Encode(context.Background(), []string{"completely different tokens here"})
	require.NoError(t, err)

	second, err := e.Encode(context.Background(), []string{"func Hello() { return }"})
	require.NoError(t, err)

	assert.Equal(t, first[0], second[0])
}

func TestStubSparseEncoderSortedAndTruncated(t *testing.T) {
	e := NewStubSparseEncoder(3)

	vecs, err := e.Encode(context.Background(), []string{
		"alpha alpha alpha beta beta gamma delta epsilon",
	})
	require.NoError(t, err)
	v := vecs[0]

	assert.LessOrEqual(t, len(v.Indices), 3)
	require.Equal(t, len(v.Indices), len(v.Values))
	for i := 1; i < len(v.Values); i++ {
		assert.GreaterOrEqual(t, v.Values[i-1], v.Values[i])
	}
}

func TestSparseVectorDot(t *testing.T) {
	a := SparseVector{Indices: []uint32{1, 2, 3}, Values: []float32{1, 2, 3}}
	b := SparseVector{Indices: []uint32{2, 3, 4}, Values: []float32{10, 10, 10}}
	assert.InDelta(t, 50.0, a.Dot(b), 1e-9)
	assert.Zero(t, a.Dot(SparseVector{}))
}

func TestCachedEmbedderHitsAndMisses(t *testing.T) {
	inner, err := NewStaticEmbedder(32)
	require.NoError(t, err)
	c := NewCachedEmbedder(inner, 10)

	_, err = c.Embed(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	hits, misses := c.Stats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(2), misses)

	_, err = c.Embed(context.Background(), []string{"one", "three"})
	require.NoError(t, err)
	hits, misses = c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(3), misses)
}

func TestCacheKeyNormalizesWhitespace(t *testing.T) {
	assert.Equal(t, cacheKey("m", "a  b"), cacheKey("m", "a b"))
	assert.NotEqual(t, cacheKey("m1", "a"), cacheKey("m2", "a"))
}

func TestStubRerankerOrdersByOverlap(t *testing.T) {
	r := NewStubReranker()

	scores, err := r.Rerank(context.Background(), "", "parse config file", []string{
		"unrelated content about networking",
		"func parseConfigFile(path string)",
	}, 0)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, 1, scores[0].Index)
	assert.Greater(t, scores[0].Score, scores[1].Score)
}

func TestStubRerankerTopK(t *testing.T) {
	r := NewStubReranker()
	scores, err := r.Rerank(context.Background(), "", "x", []string{"x", "x y", "z"}, 2)
	require.NoError(t, err)
	assert.Len(t, scores, 2)
}

func TestStubClassifier(t *testing.T) {
	c := NewStubClassifier()
	cls, err := c.Classify(context.Background(), "src/main.go")
	require.NoError(t, err)
	assert.Equal(t, query.IntentNavigational, cls.Intent)
	assert.Equal(t, query.DifficultyEasy, cls.Difficulty)
}

func TestGatewayStubPipeline(t *testing.T) {
	g, err := NewGateway(DefaultConfig(), nil)
	require.NoError(t, err)

	vecs, err := g.Embed(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	assert.Len(t, vecs[0], g.Dimensions())

	sparse, err := g.SparseEncode(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	assert.NotEmpty(t, sparse[0].Indices)

	h := g.Health(context.Background())
	assert.Equal(t, StatusLoaded, h.Embed)
	assert.Equal(t, "cpu", h.Device)
	assert.True(t, h.Healthy())
}

func TestGatewayCacheStats(t *testing.T) {
	g, err := NewGateway(DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), []string{"repeated"})
	require.NoError(t, err)
	_, err = g.Embed(context.Background(), []string{"repeated"})
	require.NoError(t, err)

	hits, misses := g.CacheStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}
