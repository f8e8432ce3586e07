package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func judgments() []Judgment {
	return []Judgment{
		{QueryID: "q1", DocID: "d1", Grade: 3},
		{QueryID: "q1", DocID: "d2", Grade: 1},
		{QueryID: "q1", DocID: "d3", Grade: 0},
		{QueryID: "q2", DocID: "d4", Grade: 2},
	}
}

func TestPerfectRankingScoresOne(t *testing.T) {
	runs := []RankedList{{QueryID: "q1", DocIDs: []string{"d1", "d2", "d3"}}}
	metrics := Evaluate(judgments(), runs)
	require.Len(t, metrics, 1)

	m := metrics[0]
	assert.InDelta(t, 1.0, m.NDCG, 1e-9)
	assert.InDelta(t, 1.0, m.Recall, 1e-9)
	assert.InDelta(t, 1.0, m.MRR, 1e-9)
	assert.InDelta(t, 1.0, m.AP, 1e-9)
	assert.Equal(t, 2, m.Relevant)
}

func TestInvertedRankingScoresLower(t *testing.T) {
	perfect := Evaluate(judgments(), []RankedList{{QueryID: "q1", DocIDs: []string{"d1", "d2", "d3"}}})
	inverted := Evaluate(judgments(), []RankedList{{QueryID: "q1", DocIDs: []string{"d3", "d2", "d1"}}})

	assert.Less(t, inverted[0].NDCG, perfect[0].NDCG)
	assert.InDelta(t, 0.5, inverted[0].MRR, 1e-9) // first relevant at rank 2
}

func TestPrecisionAndRecallAtK(t *testing.T) {
	runs := []RankedList{{QueryID: "q1", DocIDs: []string{"d3", "d1", "d2"}}}
	m := Evaluate(judgments(), runs)[0]

	// 2 of the first 5 positions are relevant out of 5 slots.
	assert.InDelta(t, 2.0/5.0, m.Precision5, 1e-9)
	assert.InDelta(t, 1.0, m.Recall5, 1e-9)
}

func TestMissingJudgmentsScoreZero(t *testing.T) {
	runs := []RankedList{{QueryID: "unjudged", DocIDs: []string{"x", "y"}}}
	m := Evaluate(judgments(), runs)[0]
	assert.Zero(t, m.NDCG)
	assert.Zero(t, m.MRR)
	assert.Zero(t, m.Relevant)
}

func TestSummarize(t *testing.T) {
	runs := []RankedList{
		{QueryID: "q1", DocIDs: []string{"d1", "d2"}},
		{QueryID: "q2", DocIDs: []string{"d4"}},
		{QueryID: "unjudged", DocIDs: []string{"x"}},
	}
	s := Summarize(Evaluate(judgments(), runs))
	assert.Equal(t, 3, s.Queries)
	assert.Equal(t, 1, s.NoRelevant)
	assert.Equal(t, 2, s.PerfectRecall)
	assert.Greater(t, s.MeanNDCG, 0.0)
}

func TestCompareWinnerByNDCG(t *testing.T) {
	js := judgments()
	good := Evaluate(js, []RankedList{{QueryID: "q1", DocIDs: []string{"d1", "d2", "d3"}}})
	bad := Evaluate(js, []RankedList{{QueryID: "q1", DocIDs: []string{"d3", "d2", "d1"}}})

	res := Compare(bad, good, 0)
	assert.Equal(t, "B", res.Winner)
	assert.Greater(t, res.DeltaNDCG, 0.0)

	res = Compare(good, bad, 0)
	assert.Equal(t, "A", res.Winner)
}

func TestCompareTieAndConfidence(t *testing.T) {
	js := judgments()
	a := Evaluate(js, []RankedList{{QueryID: "q1", DocIDs: []string{"d1", "d2"}}})

	res := Compare(a, a, 0.01)
	assert.Equal(t, "tie", res.Winner)
	// Confidence is min(nA, nB)/100 clamped to 1.
	assert.InDelta(t, 0.01, res.Confidence, 1e-9)
}
