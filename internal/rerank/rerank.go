// Package rerank implements the two-pass cross-encoder stage with
// adaptive skip rules and early exit. Rerank failures fall back to the
// fused ordering and are reported in telemetry, never to the caller.
package rerank

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/moabualruz/rice-search/internal/ml"
	"github.com/moabualruz/rice-search/internal/query"
	"github.com/moabualruz/rice-search/internal/retrieval"
)

// Config tunes the reranker.
type Config struct {
	// Pass1TopK is how many fused candidates enter pass 1 (typically
	// 30-50).
	Pass1TopK int
	// Pass2TopM is how many pass-1 leaders enter pass 2. M < Pass1TopK
	// and M >= the requested top_k.
	Pass2TopM int
	// Pass1Model / Pass2Model select the cross-encoder variants.
	Pass1Model string
	Pass2Model string
	// HighConfidence is the pass-1 top score at or above which pass 2 is
	// skipped.
	HighConfidence float64
	// TopGapMargin is the rank-1 to rank-k score gap above which pass 2
	// is skipped when enough results exist.
	TopGapMargin float64
	// AgreementGap is the fused top-score gap for the skip-entirely
	// high-confidence rule.
	AgreementGap float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Pass1TopK:      40,
		Pass2TopM:      15,
		Pass2Model:     "large",
		HighConfidence: 0.92,
		TopGapMargin:   0.25,
		AgreementGap:   0.3,
	}
}

// Outcome reports what the reranker did for telemetry.
type Outcome struct {
	Skipped    bool          `json:"skipped"`
	SkipReason string        `json:"skip_reason,omitempty"`
	EarlyExit  bool          `json:"early_exit"`
	Pass1      time.Duration `json:"pass1"`
	Pass2      time.Duration `json:"pass2"`
	Error      string        `json:"error,omitempty"`
}

// Reranker is the two-pass reranking stage.
type Reranker struct {
	gateway *ml.Gateway
	config  Config
	logger  *slog.Logger
}

// New creates a reranker.
func New(gateway *ml.Gateway, cfg Config, logger *slog.Logger) *Reranker {
	if cfg.Pass1TopK <= 0 {
		cfg.Pass1TopK = DefaultConfig().Pass1TopK
	}
	if cfg.Pass2TopM <= 0 || cfg.Pass2TopM >= cfg.Pass1TopK {
		cfg.Pass2TopM = DefaultConfig().Pass2TopM
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{gateway: gateway, config: cfg, logger: logger}
}

// Request is one rerank invocation.
type Request struct {
	QueryText  string
	Candidates []*retrieval.Candidate
	// TopK is the caller's requested result count.
	TopK int
	// Intent drives the navigational skip rule.
	Intent query.Intent
}

// Rerank applies the skip rules, then pass 1 and optionally pass 2.
// The returned slice is reordered; scores on candidates are replaced by
// rerank scores where a pass ran. A pass-1 error returns the fused order
// unchanged and a pass-2 error returns the pass-1 order; either error is
// recorded in the outcome.
func (r *Reranker) Rerank(ctx context.Context, req Request) ([]*retrieval.Candidate, Outcome) {
	out := Outcome{}
	cands := req.Candidates

	if reason := r.skipReason(req); reason != "" {
		out.Skipped = true
		out.SkipReason = reason
		return cands, out
	}

	// Pass 1 over the fused head.
	depth := r.config.Pass1TopK
	if depth > len(cands) {
		depth = len(cands)
	}
	head := cands[:depth]
	tail := cands[depth:]

	start := time.Now()
	scores, err := r.gateway.Rerank(ctx, r.config.Pass1Model, req.QueryText, contents(head), 0)
	out.Pass1 = time.Since(start)
	if err != nil {
		out.Error = err.Error()
		r.logger.Warn("rerank pass 1 failed, using fused order", slog.String("error", err.Error()))
		return cands, out
	}

	reordered := applyScores(head, scores)
	cands = append(reordered, tail...)

	if r.earlyExit(reordered, req.TopK) {
		out.EarlyExit = true
		return cands, out
	}

	// Pass 2 over the pass-1 leaders with the larger model.
	m := r.config.Pass2TopM
	if m < req.TopK {
		m = req.TopK
	}
	if m > len(reordered) {
		m = len(reordered)
	}
	head2 := cands[:m]
	tail2 := cands[m:]

	start = time.Now()
	scores2, err := r.gateway.Rerank(ctx, r.config.Pass2Model, req.QueryText, contents(head2), 0)
	out.Pass2 = time.Since(start)
	if err != nil {
		out.Error = err.Error()
		r.logger.Warn("rerank pass 2 failed, keeping pass 1 order", slog.String("error", err.Error()))
		return cands, out
	}

	cands = append(applyScores(head2, scores2), tail2...)
	return cands, out
}

// skipReason evaluates the skip-entirely rules; empty means rerank.
func (r *Reranker) skipReason(req Request) string {
	// Rule 1: nothing to reorder.
	if len(req.Candidates) <= req.TopK {
		return "candidate count within top_k"
	}

	// Rule 2: both retrievers agree on the whole top-3 and the fused
	// top gap is wide (high confidence).
	if agreesOnTop3(req.Candidates) && topGap(req.Candidates, 3) >= r.config.AgreementGap {
		return "retrievers agree with wide margin"
	}

	// Rule 3: navigational query with an exact-target signal.
	if req.Intent == query.IntentNavigational && hasExactTarget(req.QueryText, req.Candidates) {
		return "navigational exact target"
	}

	return ""
}

// earlyExit decides whether pass 2 can be skipped after pass 1.
func (r *Reranker) earlyExit(head []*retrieval.Candidate, topK int) bool {
	if len(head) == 0 {
		return true
	}
	if head[0].Score >= r.config.HighConfidence {
		return true
	}
	if len(head) >= topK && topK > 0 {
		k := topK - 1 // index of rank k
		if k > 0 && head[0].Score-head[k].Score > r.config.TopGapMargin {
			return true
		}
	}
	return false
}

// agreesOnTop3 reports whether the top-3 fused candidates each appeared
// in the top-3 of both retriever lists.
func agreesOnTop3(cands []*retrieval.Candidate) bool {
	if len(cands) < 3 {
		return false
	}
	for _, c := range cands[:3] {
		if c.SparseRank == 0 || c.SparseRank > 3 || c.DenseRank == 0 || c.DenseRank > 3 {
			return false
		}
	}
	return true
}

// topGap is the fused score gap between rank 1 and rank k+1, the first
// candidate past the top k.
func topGap(cands []*retrieval.Candidate, k int) float64 {
	if len(cands) <= k {
		return 0
	}
	return cands[0].Score - cands[k].Score
}

// hasExactTarget reports whether the top candidate's path equals or
// contains (case-insensitively, tokens of 3+ chars) a query token, or one
// of its symbols equals a query token ignoring case.
func hasExactTarget(queryText string, cands []*retrieval.Candidate) bool {
	if len(cands) == 0 || cands[0].Payload == nil {
		return false
	}
	p := cands[0].Payload
	for _, tok := range splitTokens(queryText) {
		if tok == p.Path || containsFold(p.Path, tok) {
			return true
		}
		for _, sym := range p.Symbols {
			if equalFold(sym, tok) {
				return true
			}
		}
	}
	return false
}

// applyScores reorders head by rerank score and overwrites candidate
// scores, falling back to stable order for unscored entries.
func applyScores(head []*retrieval.Candidate, scores []ml.RerankScore) []*retrieval.Candidate {
	scored := make([]*retrieval.Candidate, 0, len(head))
	bySrc := make(map[int]float64, len(scores))
	for _, s := range scores {
		if s.Index >= 0 && s.Index < len(head) {
			bySrc[s.Index] = s.Score
		}
	}
	for i, c := range head {
		if score, ok := bySrc[i]; ok {
			c.Score = score
		}
		scored = append(scored, c)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

func contents(cands []*retrieval.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		if c.Payload != nil {
			out[i] = c.Payload.Content
		}
	}
	return out
}
