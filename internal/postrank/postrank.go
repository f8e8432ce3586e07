// Package postrank applies the semantic post-processing stages after
// reranking: embedding-based deduplication, MMR diversity, and optional
// per-file aggregation. Stages run in fixed order; dedup and diversity
// honor the request deadline, returning partial results on cancellation.
package postrank

import (
	"context"
	"math"
	"sort"

	"github.com/moabualruz/rice-search/internal/retrieval"
)

// Config enumerates the post-rank options.
type Config struct {
	EnableDedup     bool    `yaml:"enable_dedup"`
	DedupThreshold  float64 `yaml:"dedup_threshold"`
	PreserveTop     int     `yaml:"preserve_top"`
	PreferLonger    bool    `yaml:"prefer_longer"`
	EnableDiversity bool    `yaml:"enable_diversity"`
	DiversityLambda float64 `yaml:"diversity_lambda"`
	GroupByFile     bool    `yaml:"group_by_file"`
	MaxPerFile      int     `yaml:"max_per_file"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		EnableDedup:     true,
		DedupThreshold:  0.85,
		PreserveTop:     3,
		EnableDiversity: true,
		DiversityLambda: 0.7,
		MaxPerFile:      3,
	}
}

// Outcome reports post-rank effects for telemetry.
type Outcome struct {
	// Partial marks results truncated by deadline.
	Partial bool `json:"partial"`
	// Deduped is how many candidates dedup dropped.
	Deduped int `json:"deduped"`
	// AvgDiversity is the mean (1 - max similarity to selected).
	AvgDiversity float64 `json:"avg_diversity"`
	// Grouped marks per-file aggregation having run.
	Grouped bool `json:"grouped"`
}

// Pipeline runs the fixed post-rank stage order.
type Pipeline struct {
	config Config
}

// New creates a post-rank pipeline.
func New(cfg Config) *Pipeline {
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = DefaultConfig().DedupThreshold
	}
	if cfg.PreserveTop <= 0 {
		cfg.PreserveTop = DefaultConfig().PreserveTop
	}
	if cfg.DiversityLambda <= 0 || cfg.DiversityLambda > 1 {
		cfg.DiversityLambda = DefaultConfig().DiversityLambda
	}
	if cfg.MaxPerFile <= 0 {
		cfg.MaxPerFile = DefaultConfig().MaxPerFile
	}
	return &Pipeline{config: cfg}
}

// Run applies dedup, diversity and aggregation in order.
func (p *Pipeline) Run(ctx context.Context, cands []*retrieval.Candidate) ([]*retrieval.Candidate, Outcome) {
	out := Outcome{}
	if len(cands) == 0 {
		return cands, out
	}

	if p.config.EnableDedup {
		var partial bool
		cands, out.Deduped, partial = p.dedup(ctx, cands)
		if partial {
			out.Partial = true
			return cands, out
		}
	}

	if p.config.EnableDiversity {
		var partial bool
		cands, out.AvgDiversity, partial = p.diversify(ctx, cands)
		if partial {
			out.Partial = true
			return cands, out
		}
	}

	if p.config.GroupByFile {
		cands = p.aggregate(cands)
		out.Grouped = true
	}

	return cands, out
}

// dedup drops near-duplicate candidates by pairwise cosine similarity.
//
// The top PreserveTop candidates always survive. Every following
// candidate is scanned against the already-kept list in order; any
// similarity >= threshold drops it — unless PreferLonger is set and the
// newcomer is longer, in which case it replaces the shorter kept
// candidate in place. Output order equals input order minus drops
// (stable), so dedup is idempotent.
func (p *Pipeline) dedup(ctx context.Context, cands []*retrieval.Candidate) (kept []*retrieval.Candidate, dropped int, partial bool) {
	kept = make([]*retrieval.Candidate, 0, len(cands))

	for i, c := range cands {
		select {
		case <-ctx.Done():
			return kept, dropped, true
		default:
		}

		if i < p.config.PreserveTop {
			kept = append(kept, c)
			continue
		}

		drop := false
		for j, k := range kept {
			sim := cosine(c.Dense, k.Dense)
			if sim < p.config.DedupThreshold {
				continue
			}
			// When the newcomer is longer it takes the kept slot; the
			// shorter duplicate is what gets dropped.
			if p.config.PreferLonger && contentLen(c) > contentLen(k) && j >= p.config.PreserveTop {
				kept[j] = c
			}
			drop = true
			break
		}
		if drop {
			dropped++
			continue
		}
		kept = append(kept, c)
	}
	return kept, dropped, false
}

// diversify reorders candidates with Maximal Marginal Relevance:
// next = argmax λ·rel − (1−λ)·max_sim_to_selected, relevance normalized
// to [0,1]. The first pick is the highest-scoring candidate.
func (p *Pipeline) diversify(ctx context.Context, cands []*retrieval.Candidate) (selected []*retrieval.Candidate, avgDiversity float64, partial bool) {
	if len(cands) <= 1 {
		return cands, 1, false
	}

	rel := normalizedScores(cands)
	lambda := p.config.DiversityLambda

	selected = make([]*retrieval.Candidate, 0, len(cands))
	remaining := make([]int, 0, len(cands))
	for i := range cands {
		remaining = append(remaining, i)
	}

	// First pick: highest relevance.
	best := 0
	for _, i := range remaining {
		if rel[i] > rel[best] {
			best = i
		}
	}
	selected = append(selected, cands[best])
	remaining = removeIndex(remaining, best)
	var diversitySum float64
	diversitySum += 1 // first pick has no similarity constraint

	for len(remaining) > 0 {
		select {
		case <-ctx.Done():
			return selected, diversitySum / float64(len(selected)), true
		default:
		}

		bestIdx := -1
		bestScore := math.Inf(-1)
		bestMaxSim := 0.0
		for _, i := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := cosine(cands[i].Dense, s.Dense); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*rel[i] - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
				bestMaxSim = maxSim
			}
		}

		selected = append(selected, cands[bestIdx])
		diversitySum += 1 - bestMaxSim
		remaining = removeIndex(remaining, bestIdx)
	}

	return selected, diversitySum / float64(len(selected)), false
}

// fileGroup is one path's candidates during aggregation.
type fileGroup struct {
	path      string
	members   []*retrieval.Candidate
	fileScore float64
	firstSeen int
}

// aggregate groups candidates by path, keeps the top MaxPerFile per
// group, and orders representatives (each file's best chunk) by
// file_score — a 2^-i weighted mean — ahead of non-representatives by
// own score. Ties preserve original order.
func (p *Pipeline) aggregate(cands []*retrieval.Candidate) []*retrieval.Candidate {
	groups := make(map[string]*fileGroup)
	var order []*fileGroup

	for i, c := range cands {
		path := ""
		if c.Payload != nil {
			path = c.Payload.Path
		}
		g, ok := groups[path]
		if !ok {
			g = &fileGroup{path: path, firstSeen: i}
			groups[path] = g
			order = append(order, g)
		}
		g.members = append(g.members, c)
	}

	for _, g := range order {
		sort.SliceStable(g.members, func(i, j int) bool {
			return g.members[i].Score > g.members[j].Score
		})
		if len(g.members) > p.config.MaxPerFile {
			g.members = g.members[:p.config.MaxPerFile]
		}
		var weightSum, scoreSum float64
		for i, m := range g.members {
			w := math.Pow(2, -float64(i))
			weightSum += w
			scoreSum += w * m.Score
		}
		if weightSum > 0 {
			g.fileScore = scoreSum / weightSum
		}
	}

	// Representatives first, by file score; stable on first-seen order.
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].fileScore != order[j].fileScore {
			return order[i].fileScore > order[j].fileScore
		}
		return order[i].firstSeen < order[j].firstSeen
	})

	var reps []*retrieval.Candidate
	var rest []*retrieval.Candidate
	for _, g := range order {
		reps = append(reps, g.members[0])
		rest = append(rest, g.members[1:]...)
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].Score > rest[j].Score
	})

	return append(reps, rest...)
}

// cosine computes cosine similarity; nil or mismatched vectors score 0.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func contentLen(c *retrieval.Candidate) int {
	if c.Payload == nil {
		return 0
	}
	return len(c.Payload.Content)
}

// normalizedScores maps candidate scores into [0,1].
func normalizedScores(cands []*retrieval.Candidate) []float64 {
	min, max := math.Inf(1), math.Inf(-1)
	for _, c := range cands {
		if c.Score < min {
			min = c.Score
		}
		if c.Score > max {
			max = c.Score
		}
	}
	rel := make([]float64, len(cands))
	if max == min {
		for i := range rel {
			rel[i] = 1
		}
		return rel
	}
	for i, c := range cands {
		rel[i] = (c.Score - min) / (max - min)
	}
	return rel
}

func removeIndex(xs []int, v int) []int {
	for i, x := range xs {
		if x == v {
			return append(xs[:i], xs[i+1:]...)
		}
	}
	return xs
}
