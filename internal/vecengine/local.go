package vecengine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/coder/hnsw"

	"github.com/moabualruz/rice-search/internal/rserr"
	"github.com/moabualruz/rice-search/pkg/version"
)

// LocalEngine is the in-process vector engine. The dense side is a
// coder/hnsw graph per collection; the sparse side is an in-memory
// bleve BM25 index over chunk content. It keeps the system operational
// without any external engine and backs the test suite.
type LocalEngine struct {
	mu          sync.RWMutex
	collections map[string]*localCollection
	closed      bool
}

type localCollection struct {
	mu       sync.RWMutex
	denseDim int

	points map[string]Point

	graph   *hnsw.Graph[uint64]
	idToKey map[string]uint64
	keyToID map[uint64]string
	nextKey uint64

	sparse bleve.Index
}

// NewLocalEngine creates an empty local engine.
func NewLocalEngine() *LocalEngine {
	return &LocalEngine{collections: make(map[string]*localCollection)}
}

// EnsureCollection implements Engine. Payload field indexes are
// implicit: the local engine filters payloads in process.
func (e *LocalEngine) EnsureCollection(_ context.Context, spec CollectionSpec) error {
	if spec.DenseDim <= 0 {
		return rserr.Newf(rserr.CodeInvalidConfig, "dense dimension must be positive, got %d", spec.DenseDim)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("engine is closed")
	}
	if _, ok := e.collections[spec.Name]; ok {
		return nil
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 40
	graph.Ml = 0.25

	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return fmt.Errorf("create sparse index: %w", err)
	}

	e.collections[spec.Name] = &localCollection{
		denseDim: spec.DenseDim,
		points:   make(map[string]Point),
		graph:    graph,
		idToKey:  make(map[string]uint64),
		keyToID:  make(map[uint64]string),
		sparse:   idx,
	}
	return nil
}

// DropCollection implements Engine.
func (e *LocalEngine) DropCollection(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if col, ok := e.collections[name]; ok {
		_ = col.sparse.Close()
		delete(e.collections, name)
	}
	return nil
}

func (e *LocalEngine) collection(name string) (*localCollection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("engine is closed")
	}
	col, ok := e.collections[name]
	if !ok {
		return nil, rserr.NotFound(rserr.CodeStoreNotFound, "collection", name)
	}
	return col, nil
}

// sparseDoc is the bleve document shape for the sparse side.
type sparseDoc struct {
	Content string `json:"content"`
	Symbols string `json:"symbols"`
	Path    string `json:"path"`
}

// Upsert implements Engine.
func (e *LocalEngine) Upsert(ctx context.Context, collection string, points []Point) error {
	col, err := e.collection(collection)
	if err != nil {
		return err
	}

	col.mu.Lock()
	defer col.mu.Unlock()

	batch := col.sparse.NewBatch()
	for _, p := range points {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if len(p.Dense) != col.denseDim {
			return rserr.Newf(rserr.CodeInvalidConfig,
				"dense vector dimension %d does not match collection %d", len(p.Dense), col.denseDim)
		}

		// Replace semantics: lazy-delete any prior graph node for the id.
		// The stale node stays in the graph but its key no longer maps
		// to an id, so it never reaches results.
		if key, ok := col.idToKey[p.ID]; ok {
			delete(col.keyToID, key)
		}
		key := col.nextKey
		col.nextKey++
		col.idToKey[p.ID] = key
		col.keyToID[key] = p.ID
		// Normalized copies keep cosine distance well-defined.
		vec := make([]float32, len(p.Dense))
		copy(vec, p.Dense)
		normalizeInPlace(vec)
		col.graph.Add(hnsw.MakeNode(key, vec))

		col.points[p.ID] = p

		symbols := ""
		for i, s := range p.Payload.Symbols {
			if i > 0 {
				symbols += " "
			}
			symbols += s
		}
		if err := batch.Index(p.ID, sparseDoc{
			Content: p.Payload.Content,
			Symbols: symbols,
			Path:    p.Payload.Path,
		}); err != nil {
			return fmt.Errorf("index sparse doc: %w", err)
		}
	}

	if err := col.sparse.Batch(batch); err != nil {
		return rserr.Transient(rserr.CodeEngineUnavailable, err)
	}
	return nil
}

// Search implements Engine.
func (e *LocalEngine) Search(ctx context.Context, collection string, q Query) ([]ScoredPoint, error) {
	col, err := e.collection(collection)
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}

	switch q.Mode {
	case ModeDense:
		return col.searchDense(q)
	case ModeSparse:
		return col.searchSparse(ctx, q)
	case ModeHybrid:
		return col.searchHybrid(ctx, q)
	default:
		return nil, rserr.Validation("unknown query mode %q", q.Mode)
	}
}

func (c *localCollection) searchDense(q Query) ([]ScoredPoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(q.Dense) != c.denseDim {
		return nil, rserr.Newf(rserr.CodeInvalidConfig,
			"query dimension %d does not match collection %d", len(q.Dense), c.denseDim)
	}
	if c.graph.Len() == 0 {
		return []ScoredPoint{}, nil
	}

	// Over-fetch so post-filtering still fills the limit.
	k := q.Limit
	if !q.Filter.Empty() {
		k *= 4
	}
	if k > c.graph.Len() {
		k = c.graph.Len()
	}

	queryVec := make([]float32, len(q.Dense))
	copy(queryVec, q.Dense)
	normalizeInPlace(queryVec)

	nodes := c.graph.Search(queryVec, k)
	results := make([]ScoredPoint, 0, len(nodes))
	for _, node := range nodes {
		id, ok := c.keyToID[node.Key]
		if !ok {
			continue
		}
		p, ok := c.points[id]
		if !ok || !q.Filter.Matches(&p.Payload) {
			continue
		}
		score := 1 - float64(c.graph.Distance(queryVec, node.Value))
		results = append(results, c.scored(p, score, q))
		if len(results) >= q.Limit {
			break
		}
	}
	return results, nil
}

func (c *localCollection) searchSparse(ctx context.Context, q Query) ([]ScoredPoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if q.SparseText == "" {
		return []ScoredPoint{}, nil
	}

	// Over-fetch for post-filtering.
	size := q.Limit
	if !q.Filter.Empty() {
		size *= 4
	}

	query := bleve.NewMatchQuery(q.SparseText)
	search := bleve.NewSearchRequestOptions(query, size, 0, false)
	res, err := c.sparse.SearchInContext(ctx, search)
	if err != nil {
		return nil, rserr.Transient(rserr.CodeEngineUnavailable, err)
	}

	results := make([]ScoredPoint, 0, len(res.Hits))
	for _, hit := range res.Hits {
		p, ok := c.points[hit.ID]
		if !ok || !q.Filter.Matches(&p.Payload) {
			continue
		}
		results = append(results, c.scored(p, hit.Score, q))
		if len(results) >= q.Limit {
			break
		}
	}
	return results, nil
}

// searchHybrid fuses both sides with reciprocal-rank fusion; the local
// native fusion operator mirrors what remote engines provide.
func (c *localCollection) searchHybrid(ctx context.Context, q Query) ([]ScoredPoint, error) {
	k := q.FusionK
	if k <= 0 {
		k = 60
	}

	denseQ := q
	denseQ.Mode = ModeDense
	denseQ.Limit = q.Limit * 2
	dense, err := c.searchDense(denseQ)
	if err != nil {
		return nil, err
	}

	sparseQ := q
	sparseQ.Mode = ModeSparse
	sparseQ.Limit = q.Limit * 2
	sparse, err := c.searchSparse(ctx, sparseQ)
	if err != nil {
		return nil, err
	}

	fused := make(map[string]*ScoredPoint)
	add := func(hits []ScoredPoint, rankOffset int) {
		for rank, hit := range hits {
			sp, ok := fused[hit.ID]
			if !ok {
				h := hit
				h.Score = 0
				fused[hit.ID] = &h
				sp = fused[hit.ID]
			}
			sp.Score += 1.0 / float64(k+rank+1+rankOffset)
		}
	}
	add(sparse, 0)
	add(dense, 0)

	out := make([]ScoredPoint, 0, len(fused))
	for _, sp := range fused {
		out = append(out, *sp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// scored shapes one hit according to the query's payload/vector toggles.
func (c *localCollection) scored(p Point, score float64, q Query) ScoredPoint {
	sp := ScoredPoint{ID: p.ID, Score: score}
	if q.WithPayload {
		payload := p.Payload
		sp.Payload = &payload
	}
	if q.WithVectors {
		sp.Dense = p.Dense
		sp.Sparse = p.Sparse
	}
	return sp
}

// Count implements Engine.
func (e *LocalEngine) Count(_ context.Context, collection string, f Filter) (int, error) {
	col, err := e.collection(collection)
	if err != nil {
		return 0, err
	}
	col.mu.RLock()
	defer col.mu.RUnlock()

	if f.Empty() {
		return len(col.points), nil
	}
	n := 0
	for _, p := range col.points {
		if f.Matches(&p.Payload) {
			n++
		}
	}
	return n, nil
}

// Scroll implements Engine. The cursor is the numeric offset into the
// id-sorted point list.
func (e *LocalEngine) Scroll(_ context.Context, collection string, f Filter, limit int, cursor string) ([]Point, string, error) {
	col, err := e.collection(collection)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 100
	}

	col.mu.RLock()
	defer col.mu.RUnlock()

	ids := make([]string, 0, len(col.points))
	for id, p := range col.points {
		if f.Matches(&p.Payload) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	offset := 0
	if cursor != "" {
		offset, _ = strconv.Atoi(cursor)
	}
	if offset >= len(ids) {
		return nil, "", nil
	}

	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}

	out := make([]Point, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, col.points[id])
	}

	next := ""
	if end < len(ids) {
		next = strconv.Itoa(end)
	}
	return out, next, nil
}

// DeleteByIDs implements Engine.
func (e *LocalEngine) DeleteByIDs(_ context.Context, collection string, ids []string) error {
	col, err := e.collection(collection)
	if err != nil {
		return err
	}

	col.mu.Lock()
	defer col.mu.Unlock()

	batch := col.sparse.NewBatch()
	for _, id := range ids {
		// Lazy graph deletion: drop the key mapping only.
		if key, ok := col.idToKey[id]; ok {
			delete(col.idToKey, id)
			delete(col.keyToID, key)
		}
		delete(col.points, id)
		batch.Delete(id)
	}
	return col.sparse.Batch(batch)
}

// DeleteByFilter implements Engine.
func (e *LocalEngine) DeleteByFilter(ctx context.Context, collection string, f Filter) error {
	col, err := e.collection(collection)
	if err != nil {
		return err
	}

	col.mu.RLock()
	var ids []string
	for id, p := range col.points {
		if f.Matches(&p.Payload) {
			ids = append(ids, id)
		}
	}
	col.mu.RUnlock()

	return e.DeleteByIDs(ctx, collection, ids)
}

// Health implements Engine.
func (e *LocalEngine) Health(_ context.Context) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return "", fmt.Errorf("engine is closed")
	}
	return "local/" + version.Short(), nil
}

// Close implements Engine.
func (e *LocalEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for _, col := range e.collections {
		_ = col.sparse.Close()
	}
	e.collections = nil
	return nil
}

// normalizeInPlace scales a vector to unit length.
func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

var _ Engine = (*LocalEngine)(nil)
