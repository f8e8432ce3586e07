// Package ml is the capability gateway for model-backed operations:
// embed, sparse-encode, rerank and classify-query. Each capability has a
// pluggable backend (in-process stub, remote HTTP, GPU-accelerated
// remote) selected at startup, an optional content-addressed cache, and
// a per-capability failure policy.
package ml

import (
	"context"

	"github.com/moabualruz/rice-search/internal/query"
)

// SparseVector is parallel arrays of token ids and positive weights,
// sorted by weight descending and truncated to a per-chunk top-K.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// Dot computes the sparse dot product of two vectors on shared indices.
func (v SparseVector) Dot(o SparseVector) float64 {
	if len(v.Indices) == 0 || len(o.Indices) == 0 {
		return 0
	}
	m := make(map[uint32]float32, len(v.Indices))
	for i, idx := range v.Indices {
		m[idx] = v.Values[i]
	}
	var sum float64
	for i, idx := range o.Indices {
		if w, ok := m[idx]; ok {
			sum += float64(w) * float64(o.Values[i])
		}
	}
	return sum
}

// RerankScore is one scored document from the reranker.
type RerankScore struct {
	// Index is the original position in the input documents slice.
	Index int `json:"index"`
	// Score is the relevance score (higher is more relevant).
	Score float64 `json:"score"`
}

// Classification is the result of the classify-query capability.
type Classification struct {
	Intent     query.Intent     `json:"intent"`
	Difficulty query.Difficulty `json:"difficulty"`
	Confidence float64          `json:"confidence"`
}

// Embedder produces fixed-dimension dense vectors.
type Embedder interface {
	// Embed encodes a batch of texts into dense vectors.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelID identifies the model for cache keying.
	ModelID() string
}

// SparseEncoder produces sparse vectors.
type SparseEncoder interface {
	// Encode encodes a batch of texts into sparse vectors.
	Encode(ctx context.Context, texts []string) ([]SparseVector, error)

	// ModelID identifies the model for cache keying.
	ModelID() string
}

// Reranker scores query/document pairs with a cross-encoder.
type Reranker interface {
	// Rerank scores documents against the query and returns results
	// sorted by score descending, truncated to topK (0 = all).
	Rerank(ctx context.Context, model, queryText string, documents []string, topK int) ([]RerankScore, error)
}

// Classifier classifies query intent and difficulty.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// CapabilityStatus reports the health of one capability.
type CapabilityStatus string

const (
	StatusLoaded      CapabilityStatus = "loaded"
	StatusDegraded    CapabilityStatus = "degraded"
	StatusUnavailable CapabilityStatus = "unavailable"
)

// Health is the gateway health report.
type Health struct {
	Embed       CapabilityStatus `json:"embed"`
	Sparse      CapabilityStatus `json:"sparse_encode"`
	Rerank      CapabilityStatus `json:"rerank"`
	Classify    CapabilityStatus `json:"classify_query"`
	Device      string           `json:"device"`
	CacheHits   int64            `json:"cache_hits"`
	CacheMisses int64            `json:"cache_misses"`
}

// Healthy reports whether embed and sparse-encode are at least
// degraded-usable; rerank and classify status do not affect it.
func (h Health) Healthy() bool {
	return h.Embed != StatusUnavailable && h.Sparse != StatusUnavailable
}

// Backend names the allowed backend kinds.
type Backend string

const (
	BackendStub   Backend = "in-process-stub"
	BackendRemote Backend = "remote-http"
	BackendGPU    Backend = "gpu-accelerated"
)

// FailurePolicy selects what a capability does when its backend fails.
type FailurePolicy string

const (
	// PolicyFallbackStub falls back to the in-process stub.
	PolicyFallbackStub FailurePolicy = "fallback-stub"
	// PolicyError surfaces the error to the caller.
	PolicyError FailurePolicy = "error"
	// PolicyCircuitBreaker fails fast after repeated errors, falling back
	// to the stub while the circuit is open.
	PolicyCircuitBreaker FailurePolicy = "circuit-breaker"
)
