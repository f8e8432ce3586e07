// Package vecengine abstracts the vector engine capability: collections
// holding points with one named dense vector and one named sparse
// vector, payload-filtered queries (dense-only, sparse-only, or hybrid
// with native fusion), counting, scrolling and deletion.
//
// Two implementations exist: a local in-process engine built on bleve
// (BM25 sparse side) and coder/hnsw (dense side), and a remote engine
// backed by Qdrant.
package vecengine

import (
	"context"
	"time"

	"github.com/moabualruz/rice-search/internal/ml"
)

// Payload is the closed record stored with each point, plus a small
// open extension map for forward compatibility.
type Payload struct {
	Store        string            `json:"store"`
	Path         string            `json:"path"`
	Language     string            `json:"language"`
	Content      string            `json:"content"`
	Symbols      []string          `json:"symbols,omitempty"`
	StartLine    int               `json:"start_line"`
	EndLine      int               `json:"end_line"`
	DocHash      string            `json:"document_hash"`
	ChunkHash    string            `json:"chunk_hash"`
	IndexedAt    time.Time         `json:"indexed_at"`
	ConnectionID string            `json:"connection_id,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Point is one indexed chunk.
type Point struct {
	// ID is a UUID string.
	ID      string
	Dense   []float32
	Sparse  ml.SparseVector
	Payload Payload
}

// Filter restricts queries and deletions.
type Filter struct {
	// PathPrefix matches payload paths by prefix.
	PathPrefix string
	// PathEquals matches payload paths exactly (any of).
	PathEquals []string
	// Languages matches payload language against a set.
	Languages []string
	// ConnectionID scopes to one ingest connection.
	ConnectionID string
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool {
	return f.PathPrefix == "" && len(f.PathEquals) == 0 &&
		len(f.Languages) == 0 && f.ConnectionID == ""
}

// QueryMode selects the retrieval side.
type QueryMode string

const (
	ModeDense  QueryMode = "dense"
	ModeSparse QueryMode = "sparse"
	// ModeHybrid requests the engine's native fusion operator.
	ModeHybrid QueryMode = "hybrid"
)

// Query is one retrieval request against a collection.
type Query struct {
	Mode QueryMode

	// Dense is the query embedding (dense and hybrid modes).
	Dense []float32
	// Sparse is the query sparse vector (sparse and hybrid modes).
	Sparse ml.SparseVector
	// SparseText is the expanded query text for engines whose sparse
	// side is text-scored (the local BM25 engine).
	SparseText string

	Limit  int
	Filter Filter

	WithPayload bool
	WithVectors bool

	// FusionK tunes native RRF fusion in hybrid mode.
	FusionK int
}

// ScoredPoint is one query hit.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload *Payload
	Dense   []float32
	Sparse  ml.SparseVector
}

// CollectionSpec describes a collection to create.
type CollectionSpec struct {
	Name string
	// DenseDim is the dense vector size; cosine distance is implied.
	DenseDim int
}

// Engine is the abstract vector engine capability.
type Engine interface {
	// EnsureCollection creates the collection and its payload field
	// indexes (path, language, symbols, document_hash, store,
	// connection_id) if absent.
	EnsureCollection(ctx context.Context, spec CollectionSpec) error

	// DropCollection removes a collection and its points.
	DropCollection(ctx context.Context, name string) error

	// Upsert inserts or replaces points by id.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search executes one query.
	Search(ctx context.Context, collection string, q Query) ([]ScoredPoint, error)

	// Count returns the number of points matching the filter.
	Count(ctx context.Context, collection string, f Filter) (int, error)

	// Scroll pages through points matching the filter. The returned
	// cursor is empty when exhausted.
	Scroll(ctx context.Context, collection string, f Filter, limit int, cursor string) ([]Point, string, error)

	// DeleteByIDs removes points by id.
	DeleteByIDs(ctx context.Context, collection string, ids []string) error

	// DeleteByFilter removes points matching the filter.
	DeleteByFilter(ctx context.Context, collection string, f Filter) error

	// Health returns the engine version string.
	Health(ctx context.Context) (string, error)

	// Close releases resources.
	Close() error
}

// Matches applies a filter to a payload in process. Shared by the local
// engine and by post-filtering paths.
func (f Filter) Matches(p *Payload) bool {
	if p == nil {
		return f.Empty()
	}
	if f.PathPrefix != "" && !hasPrefix(p.Path, f.PathPrefix) {
		return false
	}
	if len(f.PathEquals) > 0 {
		found := false
		for _, path := range f.PathEquals {
			if p.Path == path {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Languages) > 0 {
		found := false
		for _, lang := range f.Languages {
			if p.Language == lang {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ConnectionID != "" && p.ConnectionID != f.ConnectionID {
		return false
	}
	return true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
