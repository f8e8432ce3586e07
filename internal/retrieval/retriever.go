package retrieval

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/moabualruz/rice-search/internal/ml"
	"github.com/moabualruz/rice-search/internal/vecengine"
)

// DefaultPrefetchLimit is the per-retriever candidate count before
// fusion.
const DefaultPrefetchLimit = 100

// laggardGrace is how long the slower side may keep running once the
// faster side has already satisfied the request.
const laggardGrace = 150 * time.Millisecond

// EncodedQuery carries both encodings of one query.
type EncodedQuery struct {
	// Dense is the query embedding.
	Dense []float32
	// Sparse is the query sparse vector.
	Sparse ml.SparseVector
	// SparseText is the expanded text for text-scored sparse engines.
	SparseText string
}

// Request is one retrieval request.
type Request struct {
	Collection string
	Query      EncodedQuery
	Filter     vecengine.Filter
	// PrefetchLimit bounds each side's candidates (default 100).
	PrefetchLimit int
	// Limit is the final fused candidate count.
	Limit int
	// Weights are the fusion weights.
	Weights Weights
	// RerankDepth is how many candidates a following rerank stage
	// needs; the laggard is only cancelled early once the finished side
	// covers max(Limit, RerankDepth).
	RerankDepth int
	// WithVectors requests stored vectors on candidates (post-rank
	// dedup and diversity need them).
	WithVectors bool
}

// Timings records per-stage retrieval latency.
type Timings struct {
	Sparse time.Duration `json:"sparse"`
	Dense  time.Duration `json:"dense"`
	Fuse   time.Duration `json:"fuse"`
}

// Response is the retriever output.
type Response struct {
	Candidates []*Candidate
	Timings    Timings
	// SparseCount / DenseCount are the per-side candidate counts.
	SparseCount int
	DenseCount  int
	// NativeFusion marks responses served by the engine's fusion
	// operator.
	NativeFusion bool
}

// Retriever issues parallel sparse and dense queries and fuses them.
type Retriever struct {
	engine vecengine.Engine
	fusion *Fusion
	logger *slog.Logger
	// delegateNative enables engine-native fusion for balanced weights.
	delegateNative bool
}

// New creates a retriever.
func New(engine vecengine.Engine, fusionK int, delegateNative bool, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		engine:         engine,
		fusion:         NewFusionWithK(fusionK),
		logger:         logger,
		delegateNative: delegateNative,
	}
}

// Retrieve executes one hybrid retrieval.
//
// Both sides run concurrently. Once one side returns enough candidates
// to satisfy the final limit and the rerank depth, the laggard gets a
// short grace period and is then cancelled; a cancelled side
// contributes no signal to fusion.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Response, error) {
	if req.PrefetchLimit <= 0 {
		req.PrefetchLimit = DefaultPrefetchLimit
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	// Pure single-sided strategies skip the other query entirely.
	if req.Weights.Sparse == 0 || req.Weights.Dense == 0 {
		return r.retrieveSingle(ctx, req)
	}

	if r.delegateNative && req.Weights.Balanced() {
		return r.retrieveNative(ctx, req)
	}

	needed := req.Limit
	if req.RerankDepth > needed {
		needed = req.RerankDepth
	}

	sideCtx, cancelLaggard := context.WithCancel(ctx)
	defer cancelLaggard()

	var (
		sparseHits, denseHits []vecengine.ScoredPoint
		timings               Timings
	)
	firstDone := make(chan int, 2)

	g, gctx := errgroup.WithContext(sideCtx)
	g.Go(func() error {
		start := time.Now()
		hits, err := r.engine.Search(gctx, req.Collection, vecengine.Query{
			Mode:        vecengine.ModeSparse,
			Sparse:      req.Query.Sparse,
			SparseText:  req.Query.SparseText,
			Limit:       req.PrefetchLimit,
			Filter:      req.Filter,
			WithPayload: true,
			WithVectors: req.WithVectors,
		})
		timings.Sparse = time.Since(start)
		if err != nil {
			// A cancelled laggard contributes no signal but does not
			// fail the request.
			if gctx.Err() != nil && ctx.Err() == nil {
				return nil
			}
			return err
		}
		sparseHits = hits
		firstDone <- len(hits)
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		hits, err := r.engine.Search(gctx, req.Collection, vecengine.Query{
			Mode:        vecengine.ModeDense,
			Dense:       req.Query.Dense,
			Limit:       req.PrefetchLimit,
			Filter:      req.Filter,
			WithPayload: true,
			WithVectors: req.WithVectors,
		})
		timings.Dense = time.Since(start)
		if err != nil {
			if gctx.Err() != nil && ctx.Err() == nil {
				return nil
			}
			return err
		}
		denseHits = hits
		firstDone <- len(hits)
		return nil
	})

	// Laggard watchdog: when the first side alone can satisfy the
	// request, bound the second side's extra time.
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		select {
		case n := <-firstDone:
			if n < needed {
				return
			}
			select {
			case <-firstDone:
			case <-time.After(laggardGrace):
				cancelLaggard()
			case <-sideCtx.Done():
			}
		case <-sideCtx.Done():
		}
	}()

	err := g.Wait()
	cancelLaggard()
	<-watchdogDone
	if err != nil {
		return nil, err
	}

	fuseStart := time.Now()
	candidates := r.fusion.Fuse(sparseHits, denseHits, req.Weights)
	if len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}
	timings.Fuse = time.Since(fuseStart)

	return &Response{
		Candidates:  candidates,
		Timings:     timings,
		SparseCount: len(sparseHits),
		DenseCount:  len(denseHits),
	}, nil
}

// retrieveSingle serves sparse-only / dense-only strategies.
func (r *Retriever) retrieveSingle(ctx context.Context, req Request) (*Response, error) {
	q := vecengine.Query{
		Limit:       req.PrefetchLimit,
		Filter:      req.Filter,
		WithPayload: true,
		WithVectors: req.WithVectors,
	}
	sparseSide := req.Weights.Dense == 0
	if sparseSide {
		q.Mode = vecengine.ModeSparse
		q.Sparse = req.Query.Sparse
		q.SparseText = req.Query.SparseText
	} else {
		q.Mode = vecengine.ModeDense
		q.Dense = req.Query.Dense
	}

	start := time.Now()
	hits, err := r.engine.Search(ctx, req.Collection, q)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}

	fuseStart := time.Now()
	var candidates []*Candidate
	if sparseSide {
		candidates = r.fusion.Fuse(hits, nil, req.Weights)
	} else {
		candidates = r.fusion.Fuse(nil, hits, req.Weights)
	}
	if len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	resp := &Response{
		Candidates: candidates,
		Timings:    Timings{Fuse: time.Since(fuseStart)},
	}
	if sparseSide {
		resp.Timings.Sparse = elapsed
		resp.SparseCount = len(hits)
	} else {
		resp.Timings.Dense = elapsed
		resp.DenseCount = len(hits)
	}
	return resp, nil
}

// retrieveNative delegates balanced-weight fusion to the engine.
func (r *Retriever) retrieveNative(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	hits, err := r.engine.Search(ctx, req.Collection, vecengine.Query{
		Mode:        vecengine.ModeHybrid,
		Dense:       req.Query.Dense,
		Sparse:      req.Query.Sparse,
		SparseText:  req.Query.SparseText,
		Limit:       req.Limit,
		Filter:      req.Filter,
		WithPayload: true,
		WithVectors: req.WithVectors,
		FusionK:     r.fusion.K,
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]*Candidate, 0, len(hits))
	for _, hit := range hits {
		c := &Candidate{ChunkID: hit.ID, Score: hit.Score}
		fillFromHit(c, hit)
		candidates = append(candidates, c)
	}
	normalize(candidates)

	return &Response{
		Candidates:   candidates,
		Timings:      Timings{Fuse: time.Since(start)},
		NativeFusion: true,
	}, nil
}
