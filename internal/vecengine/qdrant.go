package vecengine

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/moabualruz/rice-search/internal/ml"
	"github.com/moabualruz/rice-search/internal/rserr"
)

// Named vectors inside each Qdrant collection.
const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// payloadIndexFields get keyword payload indexes at collection create.
var payloadIndexFields = []string{"path", "language", "symbols", "document_hash", "store", "connection_id"}

// QdrantEngine implements Engine against a Qdrant instance over its
// gRPC API (port 6334 by default).
type QdrantEngine struct {
	client *qdrant.Client
}

// NewQdrantEngine connects to Qdrant from a DSN such as
// "http://localhost:6334" (optionally "?api_key=...").
func NewQdrantEngine(dsn string) (*QdrantEngine, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant DSN: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port in qdrant DSN: %w", err)
		}
	}

	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &QdrantEngine{client: client}, nil
}

// EnsureCollection implements Engine.
func (e *QdrantEngine) EnsureCollection(ctx context.Context, spec CollectionSpec) error {
	exists, err := e.client.CollectionExists(ctx, spec.Name)
	if err != nil {
		return rserr.Transient(rserr.CodeEngineUnavailable, err)
	}
	if exists {
		return nil
	}

	err = e.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(spec.DenseDim),
				Distance: qdrant.Distance_Cosine,
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		}),
	})
	if err != nil {
		return rserr.Transient(rserr.CodeEngineUnavailable, err)
	}

	for _, field := range payloadIndexFields {
		_, err := e.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: spec.Name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return rserr.Transient(rserr.CodeEngineUnavailable, err)
		}
	}
	return nil
}

// DropCollection implements Engine.
func (e *QdrantEngine) DropCollection(ctx context.Context, name string) error {
	if err := e.client.DeleteCollection(ctx, name); err != nil {
		return rserr.Transient(rserr.CodeEngineUnavailable, err)
	}
	return nil
}

// Upsert implements Engine.
func (e *QdrantEngine) Upsert(ctx context.Context, collection string, points []Point) error {
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id: qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				denseVectorName:  qdrant.NewVectorDense(p.Dense),
				sparseVectorName: qdrant.NewVectorSparse(p.Sparse.Indices, p.Sparse.Values),
			}),
			Payload: payloadToQdrant(p.Payload),
		})
	}

	_, err := e.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qpoints,
	})
	if err != nil {
		return rserr.Transient(rserr.CodeEngineUnavailable, err)
	}
	return nil
}

// Search implements Engine.
func (e *QdrantEngine) Search(ctx context.Context, collection string, q Query) ([]ScoredPoint, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	limit := uint64(q.Limit)
	filter := filterToQdrant(q.Filter)

	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(q.WithPayload),
		WithVectors:    qdrant.NewWithVectors(q.WithVectors),
	}

	switch q.Mode {
	case ModeDense:
		req.Query = qdrant.NewQueryDense(q.Dense)
		req.Using = qdrant.PtrOf(denseVectorName)
	case ModeSparse:
		req.Query = qdrant.NewQuerySparse(q.Sparse.Indices, q.Sparse.Values)
		req.Using = qdrant.PtrOf(sparseVectorName)
	case ModeHybrid:
		prefetchLimit := limit * 2
		req.Prefetch = []*qdrant.PrefetchQuery{
			{
				Query:  qdrant.NewQuerySparse(q.Sparse.Indices, q.Sparse.Values),
				Using:  qdrant.PtrOf(sparseVectorName),
				Limit:  &prefetchLimit,
				Filter: filter,
			},
			{
				Query:  qdrant.NewQueryDense(q.Dense),
				Using:  qdrant.PtrOf(denseVectorName),
				Limit:  &prefetchLimit,
				Filter: filter,
			},
		}
		req.Query = qdrant.NewQueryFusion(qdrant.Fusion_RRF)
	default:
		return nil, rserr.Validation("unknown query mode %q", q.Mode)
	}

	hits, err := e.client.Query(ctx, req)
	if err != nil {
		return nil, rserr.Transient(rserr.CodeEngineUnavailable, err)
	}

	out := make([]ScoredPoint, 0, len(hits))
	for _, hit := range hits {
		sp := ScoredPoint{
			ID:    hit.Id.GetUuid(),
			Score: float64(hit.Score),
		}
		if hit.Payload != nil {
			payload := payloadFromQdrant(hit.Payload)
			sp.Payload = &payload
		}
		if vecs := hit.Vectors.GetVectors(); vecs != nil {
			if dense, ok := vecs.Vectors[denseVectorName]; ok {
				sp.Dense = dense.GetData()
			}
			if sparse, ok := vecs.Vectors[sparseVectorName]; ok {
				if si := sparse.GetIndices(); si != nil {
					sp.Sparse = ml.SparseVector{Indices: si.Data, Values: sparse.GetData()}
				}
			}
		}
		out = append(out, sp)
	}
	return out, nil
}

// Count implements Engine.
func (e *QdrantEngine) Count(ctx context.Context, collection string, f Filter) (int, error) {
	exact := true
	n, err := e.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         filterToQdrant(f),
		Exact:          &exact,
	})
	if err != nil {
		return 0, rserr.Transient(rserr.CodeEngineUnavailable, err)
	}
	return int(n), nil
}

// Scroll implements Engine. It fetches one point past the page; that
// point's id is the cursor, the inclusive start of the next page.
func (e *QdrantEngine) Scroll(ctx context.Context, collection string, f Filter, limit int, cursor string) ([]Point, string, error) {
	if limit <= 0 {
		limit = 100
	}
	l := uint32(limit + 1)

	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         filterToQdrant(f),
		Limit:          &l,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if cursor != "" {
		req.Offset = qdrant.NewIDUUID(cursor)
	}

	hits, err := e.client.Scroll(ctx, req)
	if err != nil {
		return nil, "", rserr.Transient(rserr.CodeEngineUnavailable, err)
	}

	points := make([]Point, 0, len(hits))
	for _, hit := range hits {
		p := Point{ID: hit.Id.GetUuid()}
		if hit.Payload != nil {
			p.Payload = payloadFromQdrant(hit.Payload)
		}
		if vecs := hit.Vectors.GetVectors(); vecs != nil {
			if dense, ok := vecs.Vectors[denseVectorName]; ok {
				p.Dense = dense.GetData()
			}
			if sparse, ok := vecs.Vectors[sparseVectorName]; ok {
				if si := sparse.GetIndices(); si != nil {
					p.Sparse = ml.SparseVector{Indices: si.Data, Values: sparse.GetData()}
				}
			}
		}
		points = append(points, p)
	}

	next := ""
	if len(points) > limit {
		next = points[limit].ID
		points = points[:limit]
	}
	return points, next, nil
}

// DeleteByIDs implements Engine.
func (e *QdrantEngine) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}
	_, err := e.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return rserr.Transient(rserr.CodeEngineUnavailable, err)
	}
	return nil
}

// DeleteByFilter implements Engine.
func (e *QdrantEngine) DeleteByFilter(ctx context.Context, collection string, f Filter) error {
	filter := filterToQdrant(f)
	if filter == nil {
		return rserr.Validation("refusing to delete with an empty filter")
	}
	_, err := e.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return rserr.Transient(rserr.CodeEngineUnavailable, err)
	}
	return nil
}

// Health implements Engine.
func (e *QdrantEngine) Health(ctx context.Context) (string, error) {
	reply, err := e.client.HealthCheck(ctx)
	if err != nil {
		return "", rserr.Transient(rserr.CodeEngineUnavailable, err)
	}
	return "qdrant/" + reply.GetVersion(), nil
}

// Close implements Engine.
func (e *QdrantEngine) Close() error {
	return e.client.Close()
}

// filterToQdrant translates the abstract filter. Path-prefix matching
// uses the text match operator over the keyword-indexed path field.
func filterToQdrant(f Filter) *qdrant.Filter {
	if f.Empty() {
		return nil
	}
	var must []*qdrant.Condition
	if f.PathPrefix != "" {
		must = append(must, qdrant.NewMatchText("path", f.PathPrefix))
	}
	if len(f.PathEquals) > 0 {
		must = append(must, qdrant.NewMatchKeywords("path", f.PathEquals...))
	}
	if len(f.Languages) > 0 {
		must = append(must, qdrant.NewMatchKeywords("language", f.Languages...))
	}
	if f.ConnectionID != "" {
		must = append(must, qdrant.NewMatch("connection_id", f.ConnectionID))
	}
	return &qdrant.Filter{Must: must}
}

func payloadToQdrant(p Payload) map[string]*qdrant.Value {
	m := map[string]any{
		"store":         p.Store,
		"path":          p.Path,
		"language":      p.Language,
		"content":       p.Content,
		"start_line":    int64(p.StartLine),
		"end_line":      int64(p.EndLine),
		"document_hash": p.DocHash,
		"chunk_hash":    p.ChunkHash,
		"indexed_at":    p.IndexedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(p.Symbols) > 0 {
		symbols := make([]any, len(p.Symbols))
		for i, s := range p.Symbols {
			symbols[i] = s
		}
		m["symbols"] = symbols
	}
	if p.ConnectionID != "" {
		m["connection_id"] = p.ConnectionID
	}
	for k, v := range p.Extra {
		m["x_"+k] = v
	}
	return qdrant.NewValueMap(m)
}

func payloadFromQdrant(values map[string]*qdrant.Value) Payload {
	p := Payload{
		Store:        values["store"].GetStringValue(),
		Path:         values["path"].GetStringValue(),
		Language:     values["language"].GetStringValue(),
		Content:      values["content"].GetStringValue(),
		StartLine:    int(values["start_line"].GetIntegerValue()),
		EndLine:      int(values["end_line"].GetIntegerValue()),
		DocHash:      values["document_hash"].GetStringValue(),
		ChunkHash:    values["chunk_hash"].GetStringValue(),
		ConnectionID: values["connection_id"].GetStringValue(),
	}
	if ts := values["indexed_at"].GetStringValue(); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			p.IndexedAt = t
		}
	}
	if symbols := values["symbols"].GetListValue(); symbols != nil {
		for _, v := range symbols.Values {
			p.Symbols = append(p.Symbols, v.GetStringValue())
		}
	}
	for k, v := range values {
		if len(k) > 2 && k[:2] == "x_" {
			if p.Extra == nil {
				p.Extra = make(map[string]string)
			}
			p.Extra[k[2:]] = v.GetStringValue()
		}
	}
	return p
}

var _ Engine = (*QdrantEngine)(nil)
