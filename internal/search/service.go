// Package search orchestrates the query pipeline: understanding,
// encoding, hybrid retrieval, multi-pass reranking, post-ranking, and
// telemetry emission.
package search

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/moabualruz/rice-search/internal/bus"
	"github.com/moabualruz/rice-search/internal/ml"
	"github.com/moabualruz/rice-search/internal/postrank"
	"github.com/moabualruz/rice-search/internal/query"
	"github.com/moabualruz/rice-search/internal/registry"
	"github.com/moabualruz/rice-search/internal/rerank"
	"github.com/moabualruz/rice-search/internal/retrieval"
	"github.com/moabualruz/rice-search/internal/rserr"
	"github.com/moabualruz/rice-search/internal/telemetry"
	"github.com/moabualruz/rice-search/internal/vecengine"
)

// Limits on request parameters.
const (
	MinQueryLen  = 1
	MaxQueryLen  = 10000
	MaxTopK      = 1000
	DefaultTopK  = 10
)

// Options are the per-request search options.
type Options struct {
	TopK            int
	Filter          vecengine.Filter
	EnableReranking *bool // nil = decide from classification confidence
	RerankTopK      int
	IncludeContent  bool
	SparseWeight    *float64
	DenseWeight     *float64
	GroupByFile     bool
	MaxPerFile      int
	Explain         bool
	Version         string
	// Mode forces a single retriever ("dense" or "sparse"); empty means
	// strategy-driven hybrid.
	Mode string
	// ConnectionID propagates the ingest connection scope.
	ConnectionID string
}

// Result is one search hit.
type Result struct {
	Path      string   `json:"path"`
	Language  string   `json:"language,omitempty"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Score     float64  `json:"score"`
	Content   string   `json:"content,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	ChunkID   string   `json:"chunk_id"`

	// Explain fields, populated when Options.Explain is set.
	SparseRank int     `json:"sparse_rank,omitempty"`
	DenseRank  int     `json:"dense_rank,omitempty"`
	FusedScore float64 `json:"fused_score,omitempty"`
}

// Response is the search output.
type Response struct {
	Results    []Result                 `json:"results"`
	Total      int                      `json:"total"`
	Timings    map[string]time.Duration `json:"timings"`
	Intent     query.Intent             `json:"intent"`
	Strategy   query.Strategy           `json:"strategy"`
	Partial    bool                     `json:"partial,omitempty"`
	RequestID  string                   `json:"request_id"`
}

// Config tunes the service.
type Config struct {
	PrefetchLimit int
	FusionK       int
	// DelegateNativeFusion enables engine-native fusion for balanced
	// weights.
	DelegateNativeFusion bool
	Rerank               rerank.Config
	PostRank             postrank.Config
	// RerankConfidenceFloor disables default reranking when the
	// classifier is at least this confident.
	RerankConfidenceFloor float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PrefetchLimit:         retrieval.DefaultPrefetchLimit,
		FusionK:               retrieval.DefaultRRFConstant,
		DelegateNativeFusion:  true,
		Rerank:                rerank.DefaultConfig(),
		PostRank:              postrank.DefaultConfig(),
		RerankConfidenceFloor: 0.85,
	}
}

// Service runs the full query pipeline.
type Service struct {
	registry  *registry.Registry
	gateway   *ml.Gateway
	engine    vecengine.Engine
	retriever *retrieval.Retriever
	reranker  *rerank.Reranker
	postrank  *postrank.Pipeline
	expander  *query.Expander
	collector *telemetry.Collector
	querylog  *telemetry.QueryLog
	bus       bus.Bus
	config    Config
	logger    *slog.Logger
}

// New wires the search service.
func New(
	reg *registry.Registry,
	gateway *ml.Gateway,
	engine vecengine.Engine,
	collector *telemetry.Collector,
	querylog *telemetry.QueryLog,
	b bus.Bus,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry:  reg,
		gateway:   gateway,
		engine:    engine,
		retriever: retrieval.New(engine, cfg.FusionK, cfg.DelegateNativeFusion, logger),
		reranker:  rerank.New(gateway, cfg.Rerank, logger),
		postrank:  postrank.New(cfg.PostRank),
		expander:  query.NewExpander(),
		collector: collector,
		querylog:  querylog,
		bus:       b,
		config:    cfg,
		logger:    logger,
	}
}

// ValidateQuery enforces the query length bounds.
func ValidateQuery(q string) error {
	if len(q) < MinQueryLen {
		return rserr.Newf(rserr.CodeQueryEmpty, "query must not be empty")
	}
	if utf8.RuneCountInString(q) > MaxQueryLen {
		return rserr.Newf(rserr.CodeQueryTooLong, "query exceeds %d characters", MaxQueryLen)
	}
	return nil
}

// ValidateOptions enforces option bounds.
func ValidateOptions(opts *Options) error {
	if opts.TopK == 0 {
		opts.TopK = DefaultTopK
	}
	if opts.TopK < 1 || opts.TopK > MaxTopK {
		return rserr.Validation("top_k must be 1-%d, got %d", MaxTopK, opts.TopK)
	}
	for _, w := range []*float64{opts.SparseWeight, opts.DenseWeight} {
		if w != nil && (*w < 0 || *w > 1) {
			return rserr.Newf(rserr.CodeInvalidWeights, "weights must be in [0.0, 1.0], got %v", *w)
		}
	}
	return nil
}

// Search executes one query.
func (s *Service) Search(ctx context.Context, store, queryText string, opts Options) (*Response, error) {
	start := time.Now()

	if err := ValidateQuery(queryText); err != nil {
		return nil, err
	}
	if err := ValidateOptions(&opts); err != nil {
		return nil, err
	}

	res, err := s.registry.Resolve(store, opts.Version)
	if err != nil {
		return nil, err
	}
	// Stores that have never indexed anything still answer with empty
	// results rather than a missing-collection error.
	if err := s.engine.EnsureCollection(ctx, vecengine.CollectionSpec{
		Name:     res.DenseName,
		DenseDim: res.Config.EmbeddingDim,
	}); err != nil {
		return nil, err
	}

	requestID := newRequestID()
	u := query.Understand(queryText)

	// The gateway classifier can refine the rule-based intent; the
	// strategy stays rule-derived and classifier failures leave the
	// rules standing.
	if cls, err := s.gateway.ClassifyQuery(ctx, queryText); err == nil && cls.Confidence > u.Confidence {
		u.Intent = cls.Intent
		u.Difficulty = cls.Difficulty
		u.Confidence = cls.Confidence
	}

	weights := s.weightsFor(u, opts)

	encoded, cacheHit, err := s.encode(ctx, u)
	if err != nil {
		return nil, rserr.Wrap(rserr.CodeSearchFailed, err)
	}

	rerankEnabled := s.rerankEnabled(u, opts)
	rerankDepth := 0
	if rerankEnabled {
		rerankDepth = s.config.Rerank.Pass1TopK
		if opts.RerankTopK > 0 {
			rerankDepth = opts.RerankTopK
		}
	}

	retrieved, err := s.retriever.Retrieve(ctx, retrieval.Request{
		Collection:    res.DenseName,
		Query:         encoded,
		Filter:        opts.Filter,
		PrefetchLimit: s.config.PrefetchLimit,
		Limit:         s.candidateLimit(opts, rerankEnabled),
		Weights:       weights,
		RerankDepth:   rerankDepth,
		WithVectors:   true,
	})
	if err != nil {
		return nil, err
	}

	cands := retrieved.Candidates
	rec := telemetry.Record{
		RequestID:    requestID,
		ConnectionID: opts.ConnectionID,
		Store:        store,
		Version:      res.VersionID,
		Query:        queryText,
		Normalized:   u.Normalized,
		Intent:       u.Intent,
		Difficulty:   u.Difficulty,
		Strategy:     u.Strategy,
		CacheHit:     cacheHit,
		RerankOn:     rerankEnabled,
	}
	rec.Latencies.Sparse = retrieved.Timings.Sparse
	rec.Latencies.Dense = retrieved.Timings.Dense
	rec.Latencies.Fuse = retrieved.Timings.Fuse
	rec.Counts.Sparse = retrieved.SparseCount
	rec.Counts.Dense = retrieved.DenseCount
	rec.Counts.Fused = len(cands)

	if rerankEnabled {
		var outcome rerank.Outcome
		cands, outcome = s.reranker.Rerank(ctx, rerank.Request{
			QueryText:  queryText,
			Candidates: cands,
			TopK:       opts.TopK,
			Intent:     u.Intent,
		})
		rec.Latencies.RerankPass1 = outcome.Pass1
		rec.Latencies.RerankPass2 = outcome.Pass2
		rec.RerankSkip = outcome.Skipped
		rec.SkipReason = outcome.SkipReason
		rec.RerankError = outcome.Error
		rec.Counts.Reranked = len(cands)
	}

	prCfg := s.config.PostRank
	prCfg.GroupByFile = opts.GroupByFile
	if opts.MaxPerFile > 0 {
		prCfg.MaxPerFile = opts.MaxPerFile
	}
	prStart := time.Now()
	cands, prOutcome := postrank.New(prCfg).Run(ctx, cands)
	rec.Latencies.PostRank = time.Since(prStart)

	if len(cands) > opts.TopK {
		cands = cands[:opts.TopK]
	}
	rec.Counts.Final = len(cands)
	rec.ResultCount = len(cands)
	rec.Total = time.Since(start)
	if len(cands) > 0 && cands[0].Payload != nil {
		rec.TopSignature = fmt.Sprintf("%s:%d", cands[0].Payload.Path, cands[0].Payload.StartLine)
	}

	s.emit(rec)

	return s.respond(cands, rec, u, opts, prOutcome.Partial), nil
}

// weightsFor derives fusion weights from explicit options or strategy.
func (s *Service) weightsFor(u query.Understanding, opts Options) retrieval.Weights {
	switch opts.Mode {
	case "sparse":
		return retrieval.Weights{Sparse: 1}
	case "dense":
		return retrieval.Weights{Dense: 1}
	}
	if opts.SparseWeight != nil || opts.DenseWeight != nil {
		w := retrieval.Weights{Sparse: 0.5, Dense: 0.5}
		if opts.SparseWeight != nil {
			w.Sparse = *opts.SparseWeight
		}
		if opts.DenseWeight != nil {
			w.Dense = *opts.DenseWeight
		}
		return w
	}
	sparse, dense := u.Strategy.Weights()
	return retrieval.Weights{Sparse: sparse, Dense: dense}
}

// rerankEnabled applies the explicit flag or the confidence default.
func (s *Service) rerankEnabled(u query.Understanding, opts Options) bool {
	if opts.EnableReranking != nil {
		return *opts.EnableReranking
	}
	// Confident classifications skip reranking by default; uncertain
	// ones buy accuracy with the extra pass.
	return u.Confidence < s.config.RerankConfidenceFloor
}

// candidateLimit sizes the fused candidate list.
func (s *Service) candidateLimit(opts Options, rerankEnabled bool) int {
	limit := opts.TopK
	if rerankEnabled && s.config.Rerank.Pass1TopK > limit {
		limit = s.config.Rerank.Pass1TopK
	}
	if opts.GroupByFile {
		limit *= 2
	}
	return limit
}

// encode produces both query encodings. The sparse path uses the
// weighted expansion stream; the dense path uses the natural-language
// expansion.
func (s *Service) encode(ctx context.Context, u query.Understanding) (retrieval.EncodedQuery, bool, error) {
	hitsBefore, _ := s.gateway.CacheStats()

	denseText := s.expander.ExpandDense(u.Original)
	dense, err := s.gateway.Embed(ctx, []string{denseText})
	if err != nil {
		return retrieval.EncodedQuery{}, false, err
	}

	sparseText := query.SparseQueryString(s.expander.ExpandSparse(u.Original))
	if sparseText == "" {
		sparseText = u.Normalized
	}
	sparse, err := s.gateway.SparseEncode(ctx, []string{sparseText})
	if err != nil {
		return retrieval.EncodedQuery{}, false, err
	}

	hitsAfter, _ := s.gateway.CacheStats()
	cacheHit := hitsAfter > hitsBefore

	return retrieval.EncodedQuery{
		Dense:      dense[0],
		Sparse:     sparse[0],
		SparseText: sparseText,
	}, cacheHit, nil
}

// respond shapes the API response.
func (s *Service) respond(cands []*retrieval.Candidate, rec telemetry.Record, u query.Understanding, opts Options, partial bool) *Response {
	results := make([]Result, 0, len(cands))
	for _, c := range cands {
		r := Result{
			ChunkID: c.ChunkID,
			Score:   c.Score,
		}
		if c.Payload != nil {
			r.Path = c.Payload.Path
			r.Language = c.Payload.Language
			r.StartLine = c.Payload.StartLine
			r.EndLine = c.Payload.EndLine
			r.Symbols = c.Payload.Symbols
			if opts.IncludeContent {
				r.Content = c.Payload.Content
			}
		}
		if opts.Explain {
			r.SparseRank = c.SparseRank
			r.DenseRank = c.DenseRank
			r.FusedScore = c.Score
		}
		results = append(results, r)
	}

	return &Response{
		Results:   results,
		Total:     len(results),
		Intent:    u.Intent,
		Strategy:  u.Strategy,
		Partial:   partial,
		RequestID: rec.RequestID,
		Timings: map[string]time.Duration{
			"sparse":       rec.Latencies.Sparse,
			"dense":        rec.Latencies.Dense,
			"fuse":         rec.Latencies.Fuse,
			"rerank_pass1": rec.Latencies.RerankPass1,
			"rerank_pass2": rec.Latencies.RerankPass2,
			"post_rank":    rec.Latencies.PostRank,
			"total":        rec.Total,
		},
	}
}

// emit records telemetry, appends the query log, and publishes the
// query.logged event.
func (s *Service) emit(rec telemetry.Record) {
	if s.collector != nil {
		s.collector.Record(rec)
	}
	if s.querylog != nil {
		if err := s.querylog.Append(telemetry.EntryFromRecord(rec)); err != nil {
			s.logger.Warn("query log append failed", slog.String("error", err.Error()))
		}
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicQueryLogged, telemetry.EntryFromRecord(rec))
	}
}

func newRequestID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
