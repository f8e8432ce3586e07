package ml

import (
	"context"
	"sort"
	"strings"

	"github.com/moabualruz/rice-search/internal/query"
)

// StubReranker scores documents by lexical term overlap with the query.
// It keeps reranking operational without a cross-encoder service; scores
// are in [0,1].
type StubReranker struct{}

// NewStubReranker creates a lexical-overlap reranker.
func NewStubReranker() *StubReranker {
	return &StubReranker{}
}

// Rerank implements Reranker.
func (r *StubReranker) Rerank(ctx context.Context, _ string, queryText string, documents []string, topK int) ([]RerankScore, error) {
	queryTerms := make(map[string]bool)
	for _, tok := range codeTokens(queryText) {
		queryTerms[tok] = true
	}

	scores := make([]RerankScore, len(documents))
	for i, doc := range documents {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		scores[i] = RerankScore{Index: i, Score: overlapScore(queryTerms, doc)}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
	if topK > 0 && topK < len(scores) {
		scores = scores[:topK]
	}
	return scores, nil
}

// overlapScore is the fraction of query terms present in the document;
// exact phrase containment earns no extra score.
func overlapScore(queryTerms map[string]bool, doc string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	docTerms := make(map[string]bool)
	for _, tok := range codeTokens(doc) {
		docTerms[tok] = true
	}
	matched := 0
	for term := range queryTerms {
		if docTerms[term] {
			matched++
		}
	}
	score := float64(matched) / float64(len(queryTerms))
	if score > 1 {
		score = 1
	}
	return score
}

// StubClassifier delegates to the rule-based query analyzer.
type StubClassifier struct{}

// NewStubClassifier creates a rule-based classifier.
func NewStubClassifier() *StubClassifier {
	return &StubClassifier{}
}

// Classify implements Classifier.
func (c *StubClassifier) Classify(_ context.Context, text string) (Classification, error) {
	u := query.Understand(strings.TrimSpace(text))
	return Classification{
		Intent:     u.Intent,
		Difficulty: u.Difficulty,
		Confidence: u.Confidence,
	}, nil
}
