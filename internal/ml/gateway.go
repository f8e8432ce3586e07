package ml

import (
	"context"
	"log/slog"
	"time"

	"github.com/moabualruz/rice-search/internal/rserr"
)

// CapabilityConfig selects the backend and failure policy for one
// capability.
type CapabilityConfig struct {
	Backend Backend       `yaml:"backend"`
	Policy  FailurePolicy `yaml:"policy"`
}

// Config configures the gateway.
type Config struct {
	Embed     CapabilityConfig `yaml:"embed"`
	Sparse    CapabilityConfig `yaml:"sparse"`
	Rerank    CapabilityConfig `yaml:"rerank"`
	Classify  CapabilityConfig `yaml:"classify"`
	Remote    RemoteConfig     `yaml:"-"`
	CacheSize int              `yaml:"cache_size"`
	// StaticDims is the stub embedder dimension; must match the store
	// version config when the stub backend serves it.
	StaticDims int `yaml:"static_dims"`
	// SparseTopK truncates stub sparse vectors.
	SparseTopK int `yaml:"sparse_top_k"`
}

// DefaultConfig returns a stub-only gateway configuration.
func DefaultConfig() Config {
	return Config{
		Embed:      CapabilityConfig{Backend: BackendStub, Policy: PolicyError},
		Sparse:     CapabilityConfig{Backend: BackendStub, Policy: PolicyError},
		Rerank:     CapabilityConfig{Backend: BackendStub, Policy: PolicyError},
		Classify:   CapabilityConfig{Backend: BackendStub, Policy: PolicyError},
		CacheSize:  DefaultCacheSize,
		StaticDims: 256,
		SparseTopK: DefaultSparseTopK,
	}
}

// Gateway provides the four model capabilities behind a uniform
// interface with caching, health reporting and per-capability failure
// handling.
type Gateway struct {
	config Config
	logger *slog.Logger

	embedder  *CachedEmbedder
	sparse    *CachedSparseEncoder
	reranker  Reranker
	classify  Classifier

	stubEmbed    *StaticEmbedder
	stubSparse   *StubSparseEncoder
	stubRerank   *StubReranker
	stubClassify *StubClassifier

	remote *RemoteClient

	rerankBreaker   *rserr.CircuitBreaker
	classifyBreaker *rserr.CircuitBreaker

	device string
}

// NewGateway wires capability backends from config. A degraded remote
// backend is reported in health but does not fail startup.
func NewGateway(cfg Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}

	stubEmbed, err := NewStaticEmbedder(cfg.StaticDims)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		config:          cfg,
		logger:          logger,
		stubEmbed:       stubEmbed,
		stubSparse:      NewStubSparseEncoder(cfg.SparseTopK),
		stubRerank:      NewStubReranker(),
		stubClassify:    NewStubClassifier(),
		rerankBreaker:   rserr.NewCircuitBreaker("rerank"),
		classifyBreaker: rserr.NewCircuitBreaker("classify"),
		device:          "cpu",
	}

	needsRemote := cfg.Embed.Backend != BackendStub ||
		cfg.Sparse.Backend != BackendStub ||
		cfg.Rerank.Backend != BackendStub ||
		cfg.Classify.Backend != BackendStub
	if needsRemote {
		g.remote = NewRemoteClient(cfg.Remote)
		if cfg.Embed.Backend == BackendGPU || cfg.Rerank.Backend == BackendGPU {
			g.device = "gpu"
		}
	}

	var embedder Embedder = stubEmbed
	if cfg.Embed.Backend != BackendStub && g.remote != nil {
		embedder = g.remote
	}
	g.embedder = NewCachedEmbedder(embedder, cfg.CacheSize)

	var sparse SparseEncoder = g.stubSparse
	if cfg.Sparse.Backend != BackendStub && g.remote != nil {
		sparse = g.remote
	}
	g.sparse = NewCachedSparseEncoder(sparse, cfg.CacheSize)

	if cfg.Rerank.Backend != BackendStub && g.remote != nil {
		g.reranker = g.remote
	} else {
		g.reranker = g.stubRerank
	}

	if cfg.Classify.Backend != BackendStub && g.remote != nil {
		g.classify = g.remote
	} else {
		g.classify = g.stubClassify
	}

	return g, nil
}

// Embed encodes texts into dense vectors through the cache.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := g.embedder.Embed(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	switch g.config.Embed.Policy {
	case PolicyFallbackStub:
		g.logger.Warn("embed backend failed, falling back to stub", slog.String("error", err.Error()))
		return g.stubEmbed.Embed(ctx, texts)
	default:
		return nil, err
	}
}

// SparseEncode encodes texts into sparse vectors through the cache.
func (g *Gateway) SparseEncode(ctx context.Context, texts []string) ([]SparseVector, error) {
	vecs, err := g.sparse.Encode(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	switch g.config.Sparse.Policy {
	case PolicyFallbackStub:
		g.logger.Warn("sparse backend failed, falling back to stub", slog.String("error", err.Error()))
		return g.stubSparse.Encode(ctx, texts)
	default:
		return nil, err
	}
}

// Rerank scores documents against a query. Results are not cached
// (query-dependent).
func (g *Gateway) Rerank(ctx context.Context, model, queryText string, documents []string, topK int) ([]RerankScore, error) {
	switch g.config.Rerank.Policy {
	case PolicyCircuitBreaker:
		return rserr.ExecuteWithFallback(g.rerankBreaker,
			func() ([]RerankScore, error) {
				return g.reranker.Rerank(ctx, model, queryText, documents, topK)
			},
			func() ([]RerankScore, error) {
				return g.stubRerank.Rerank(ctx, model, queryText, documents, topK)
			})
	case PolicyFallbackStub:
		scores, err := g.reranker.Rerank(ctx, model, queryText, documents, topK)
		if err != nil {
			return g.stubRerank.Rerank(ctx, model, queryText, documents, topK)
		}
		return scores, nil
	default:
		return g.reranker.Rerank(ctx, model, queryText, documents, topK)
	}
}

// ClassifyQuery classifies a query's intent and difficulty.
func (g *Gateway) ClassifyQuery(ctx context.Context, text string) (Classification, error) {
	switch g.config.Classify.Policy {
	case PolicyCircuitBreaker:
		return rserr.ExecuteWithFallback(g.classifyBreaker,
			func() (Classification, error) { return g.classify.Classify(ctx, text) },
			func() (Classification, error) { return g.stubClassify.Classify(ctx, text) })
	case PolicyFallbackStub:
		c, err := g.classify.Classify(ctx, text)
		if err != nil {
			return g.stubClassify.Classify(ctx, text)
		}
		return c, nil
	default:
		return g.classify.Classify(ctx, text)
	}
}

// EmbedModelID returns the active embedding model identifier.
func (g *Gateway) EmbedModelID() string { return g.embedder.ModelID() }

// Dimensions returns the active embedding dimension.
func (g *Gateway) Dimensions() int { return g.embedder.Dimensions() }

// CacheStats returns cumulative (hits, misses) across both caches.
func (g *Gateway) CacheStats() (hits, misses int64) {
	eh, em := g.embedder.Stats()
	sh, sm := g.sparse.Stats()
	return eh + sh, em + sm
}

// Health reports per-capability status and the device descriptor.
// Remote-backed capabilities are probed with a short deadline; failures
// report degraded when a stub fallback exists, unavailable otherwise.
func (g *Gateway) Health(ctx context.Context) Health {
	hits, misses := g.CacheStats()
	h := Health{
		Embed:       StatusLoaded,
		Sparse:      StatusLoaded,
		Rerank:      StatusLoaded,
		Classify:    StatusLoaded,
		Device:      g.device,
		CacheHits:   hits,
		CacheMisses: misses,
	}

	if g.remote == nil {
		return h
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if g.remote.Healthy(probeCtx) {
		return h
	}

	degradeOrDown := func(cap CapabilityConfig) CapabilityStatus {
		if cap.Backend == BackendStub {
			return StatusLoaded
		}
		if cap.Policy == PolicyFallbackStub || cap.Policy == PolicyCircuitBreaker {
			return StatusDegraded
		}
		return StatusUnavailable
	}

	h.Embed = degradeOrDown(g.config.Embed)
	h.Sparse = degradeOrDown(g.config.Sparse)
	h.Rerank = degradeOrDown(g.config.Rerank)
	h.Classify = degradeOrDown(g.config.Classify)
	if g.device == "gpu" {
		h.Device = "gpu fallback from cuda"
	}
	return h
}
