package vecengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moabualruz/rice-search/internal/ml"
)

func newCollection(t *testing.T) (*LocalEngine, string) {
	t.Helper()
	e := NewLocalEngine()
	t.Cleanup(func() { _ = e.Close() })
	require.NoError(t, e.EnsureCollection(context.Background(), CollectionSpec{Name: "c", DenseDim: 4}))
	return e, "c"
}

func point(id, path, lang, content string, dense []float32) Point {
	return Point{
		ID:     id,
		Dense:  dense,
		Sparse: ml.SparseVector{Indices: []uint32{1}, Values: []float32{1}},
		Payload: Payload{
			Store:     "demo",
			Path:      path,
			Language:  lang,
			Content:   content,
			StartLine: 1,
			EndLine:   2,
			IndexedAt: time.Now().UTC(),
		},
	}
}

func TestEnsureCollectionValidation(t *testing.T) {
	e := NewLocalEngine()
	defer func() { _ = e.Close() }()
	assert.Error(t, e.EnsureCollection(context.Background(), CollectionSpec{Name: "bad", DenseDim: 0}))
	// Idempotent create.
	require.NoError(t, e.EnsureCollection(context.Background(), CollectionSpec{Name: "ok", DenseDim: 4}))
	require.NoError(t, e.EnsureCollection(context.Background(), CollectionSpec{Name: "ok", DenseDim: 4}))
}

func TestUpsertAndDenseSearch(t *testing.T) {
	e, c := newCollection(t)
	ctx := context.Background()

	require.NoError(t, e.Upsert(ctx, c, []Point{
		point("a", "a.go", "go", "alpha", []float32{1, 0, 0, 0}),
		point("b", "b.go", "go", "beta", []float32{0, 1, 0, 0}),
	}))

	hits, err := e.Search(ctx, c, Query{
		Mode:        ModeDense,
		Dense:       []float32{1, 0, 0, 0},
		Limit:       2,
		WithPayload: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].ID)
	require.NotNil(t, hits[0].Payload)
	assert.Equal(t, "a.go", hits[0].Payload.Path)
}

func TestDimensionMismatchRejected(t *testing.T) {
	e, c := newCollection(t)
	err := e.Upsert(context.Background(), c, []Point{point("a", "a.go", "go", "x", []float32{1, 0})})
	assert.Error(t, err)

	_, err = e.Search(context.Background(), c, Query{Mode: ModeDense, Dense: []float32{1}, Limit: 1})
	assert.Error(t, err)
}

func TestSparseSearchMatchesContent(t *testing.T) {
	e, c := newCollection(t)
	ctx := context.Background()

	require.NoError(t, e.Upsert(ctx, c, []Point{
		point("a", "a.go", "go", "func Hello() greets the world", []float32{1, 0, 0, 0}),
		point("b", "b.go", "go", "completely unrelated text", []float32{0, 1, 0, 0}),
	}))

	hits, err := e.Search(ctx, c, Query{
		Mode:        ModeSparse,
		SparseText:  "hello",
		Limit:       5,
		WithPayload: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].ID)
}

func TestFilterTranslation(t *testing.T) {
	e, c := newCollection(t)
	ctx := context.Background()

	require.NoError(t, e.Upsert(ctx, c, []Point{
		point("a", "pkg/a.go", "go", "alpha", []float32{1, 0, 0, 0}),
		point("b", "pkg/b.py", "python", "alpha", []float32{1, 0, 0, 0}),
		point("c", "other/c.go", "go", "alpha", []float32{1, 0, 0, 0}),
	}))

	hits, err := e.Search(ctx, c, Query{
		Mode:        ModeDense,
		Dense:       []float32{1, 0, 0, 0},
		Limit:       10,
		Filter:      Filter{PathPrefix: "pkg/", Languages: []string{"go"}},
		WithPayload: true,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestCountAndScroll(t *testing.T) {
	e, c := newCollection(t)
	ctx := context.Background()

	require.NoError(t, e.Upsert(ctx, c, []Point{
		point("a", "a.go", "go", "x", []float32{1, 0, 0, 0}),
		point("b", "b.go", "go", "y", []float32{0, 1, 0, 0}),
		point("c", "c.py", "python", "z", []float32{0, 0, 1, 0}),
	}))

	n, err := e.Count(ctx, c, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = e.Count(ctx, c, Filter{Languages: []string{"go"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Page through with limit 2.
	first, cursor, err := e.Scroll(ctx, c, Filter{}, 2, "")
	require.NoError(t, err)
	assert.Len(t, first, 2)
	require.NotEmpty(t, cursor)

	second, cursor, err := e.Scroll(ctx, c, Filter{}, 2, cursor)
	require.NoError(t, err)
	assert.Len(t, second, 1)
	assert.Empty(t, cursor)
}

func TestDeleteByIDsAndFilter(t *testing.T) {
	e, c := newCollection(t)
	ctx := context.Background()

	require.NoError(t, e.Upsert(ctx, c, []Point{
		point("a", "pkg/a.go", "go", "x", []float32{1, 0, 0, 0}),
		point("b", "pkg/b.go", "go", "y", []float32{0, 1, 0, 0}),
		point("c", "other/c.go", "go", "z", []float32{0, 0, 1, 0}),
	}))

	require.NoError(t, e.DeleteByIDs(ctx, c, []string{"a"}))
	n, err := e.Count(ctx, c, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, e.DeleteByFilter(ctx, c, Filter{PathPrefix: "pkg/"}))
	n, err = e.Count(ctx, c, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertReplacesByID(t *testing.T) {
	e, c := newCollection(t)
	ctx := context.Background()

	require.NoError(t, e.Upsert(ctx, c, []Point{point("a", "a.go", "go", "old", []float32{1, 0, 0, 0})}))
	require.NoError(t, e.Upsert(ctx, c, []Point{point("a", "a.go", "go", "new", []float32{0, 1, 0, 0})}))

	n, err := e.Count(ctx, c, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := e.Search(ctx, c, Query{Mode: ModeDense, Dense: []float32{0, 1, 0, 0}, Limit: 1, WithPayload: true})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "new", hits[0].Payload.Content)
}

func TestHybridNativeFusion(t *testing.T) {
	e, c := newCollection(t)
	ctx := context.Background()

	require.NoError(t, e.Upsert(ctx, c, []Point{
		point("a", "a.go", "go", "hello world function", []float32{1, 0, 0, 0}),
		point("b", "b.go", "go", "unrelated", []float32{0.9, 0.1, 0, 0}),
	}))

	hits, err := e.Search(ctx, c, Query{
		Mode:        ModeHybrid,
		Dense:       []float32{1, 0, 0, 0},
		SparseText:  "hello",
		Limit:       2,
		WithPayload: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	// a scores on both sides; it must fuse to the top.
	assert.Equal(t, "a", hits[0].ID)
}

func TestFilterMatches(t *testing.T) {
	p := &Payload{Path: "pkg/a.go", Language: "go", ConnectionID: "conn1"}

	assert.True(t, Filter{}.Matches(p))
	assert.True(t, Filter{PathPrefix: "pkg/"}.Matches(p))
	assert.False(t, Filter{PathPrefix: "other/"}.Matches(p))
	assert.True(t, Filter{PathEquals: []string{"pkg/a.go"}}.Matches(p))
	assert.False(t, Filter{PathEquals: []string{"pkg/b.go"}}.Matches(p))
	assert.True(t, Filter{Languages: []string{"go", "python"}}.Matches(p))
	assert.False(t, Filter{Languages: []string{"rust"}}.Matches(p))
	assert.True(t, Filter{ConnectionID: "conn1"}.Matches(p))
	assert.False(t, Filter{ConnectionID: "conn2"}.Matches(p))
}
