// Package retrieval implements the hybrid retriever: parallel sparse
// and dense queries fused with weighted Reciprocal Rank Fusion.
package retrieval

import (
	"sort"

	"github.com/moabualruz/rice-search/internal/ml"
	"github.com/moabualruz/rice-search/internal/vecengine"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains.
const DefaultRRFConstant = 60

// BalancedEpsilon is the weight tolerance under which fusion may be
// delegated to the engine's native operator.
const BalancedEpsilon = 0.05

// Weights are the per-side fusion weights.
type Weights struct {
	Sparse float64
	Dense  float64
}

// Balanced reports whether both weights are within epsilon of 0.5.
func (w Weights) Balanced() bool {
	diff := func(x float64) float64 {
		if x > 0.5 {
			return x - 0.5
		}
		return 0.5 - x
	}
	return diff(w.Sparse) < BalancedEpsilon && diff(w.Dense) < BalancedEpsilon
}

// Candidate is one fused retrieval result.
type Candidate struct {
	// ChunkID is the engine point id.
	ChunkID string
	// Score is the fused RRF score, normalized to [0,1].
	Score float64
	// SparseRank / DenseRank are 1-indexed positions (0 if absent).
	SparseRank int
	DenseRank  int
	// SparseScore / DenseScore are the raw per-side scores.
	SparseScore float64
	DenseScore  float64
	// InBoth marks candidates present in both lists.
	InBoth bool
	// Payload carries the chunk payload.
	Payload *vecengine.Payload
	// Dense is the stored dense vector when requested (post-rank needs
	// it).
	Dense []float32
	// Sparse is the stored sparse vector when requested.
	Sparse ml.SparseVector
}

// Fusion fuses two ranked lists with weighted RRF.
//
// Score(d) = Σ_side w_side / (k + rank_side). Fusion is rank-order
// only: scaling either side's raw scores by a positive constant cannot
// change the output ranking.
type Fusion struct {
	K int
}

// NewFusion creates a fusion with the default k=60.
func NewFusion() *Fusion {
	return &Fusion{K: DefaultRRFConstant}
}

// NewFusionWithK creates a fusion with a custom k (<=0 defaults to 60).
func NewFusionWithK(k int) *Fusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fusion{K: k}
}

// Fuse combines sparse and dense hit lists.
//
// Results sort by: fused score desc → in-both-lists first → sparse
// score desc → ChunkID asc, then normalize so the top score is 1.
func (f *Fusion) Fuse(sparse, dense []vecengine.ScoredPoint, w Weights) []*Candidate {
	if len(sparse) == 0 && len(dense) == 0 {
		return []*Candidate{}
	}

	byID := make(map[string]*Candidate, len(sparse)+len(dense))
	get := func(id string) *Candidate {
		if c, ok := byID[id]; ok {
			return c
		}
		c := &Candidate{ChunkID: id}
		byID[id] = c
		return c
	}

	for rank, hit := range sparse {
		c := get(hit.ID)
		c.SparseRank = rank + 1
		c.SparseScore = hit.Score
		c.Score += w.Sparse / float64(f.K+rank+1)
		fillFromHit(c, hit)
	}
	for rank, hit := range dense {
		c := get(hit.ID)
		c.DenseRank = rank + 1
		c.DenseScore = hit.Score
		c.Score += w.Dense / float64(f.K+rank+1)
		if c.SparseRank > 0 {
			c.InBoth = true
		}
		fillFromHit(c, hit)
	}

	// Candidates missing from one list contribute that side at
	// missing_rank = max(len(sparse), len(dense)) + 1.
	missing := len(sparse)
	if len(dense) > missing {
		missing = len(dense)
	}
	missing++
	for _, c := range byID {
		if c.SparseRank == 0 && c.DenseRank > 0 {
			c.Score += w.Sparse / float64(f.K+missing)
		}
		if c.DenseRank == 0 && c.SparseRank > 0 {
			c.Score += w.Dense / float64(f.K+missing)
		}
	}

	out := make([]*Candidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.InBoth != b.InBoth {
			return a.InBoth
		}
		if a.SparseScore != b.SparseScore {
			return a.SparseScore > b.SparseScore
		}
		return a.ChunkID < b.ChunkID
	})

	normalize(out)
	return out
}

func fillFromHit(c *Candidate, hit vecengine.ScoredPoint) {
	if c.Payload == nil && hit.Payload != nil {
		c.Payload = hit.Payload
	}
	if c.Dense == nil && hit.Dense != nil {
		c.Dense = hit.Dense
	}
	if c.Sparse.Indices == nil && hit.Sparse.Indices != nil {
		c.Sparse = hit.Sparse
	}
}

// normalize scales fused scores so the top score is 1.
func normalize(out []*Candidate) {
	if len(out) == 0 || out[0].Score == 0 {
		return
	}
	max := out[0].Score
	for _, c := range out {
		c.Score /= max
	}
}
