package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Hello World", "hello world"},
		{"collapses whitespace", "a   b\t\tc", "a b c"},
		{"strips control chars", "a\x00b\x01c", "abc"},
		{"trims", "  padded  ", "padded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeBoundsLength(t *testing.T) {
	long := strings.Repeat("a", MaxQueryLen+500)
	got := Normalize(long)
	assert.LessOrEqual(t, len(got), MaxQueryLen)
}

func TestIntentRules(t *testing.T) {
	tests := []struct {
		query string
		want  Intent
	}{
		// Navigational: path-like or extension-bearing tokens, or a
		// single CamelCase token.
		{"src/auth/handler.go", IntentNavigational},
		{"main.py", IntentNavigational},
		{"HandlerFunc", IntentNavigational},

		// Analytical: comparison phrases.
		{"mutex vs channel", IntentAnalytical},
		{"compare bleve and lucene", IntentAnalytical},
		{"difference between sparse and dense retrieval", IntentAnalytical},

		// Exploratory: broad-context phrases.
		{"how does the indexing pipeline work", IntentExploratory},
		{"explain the fusion algorithm", IntentExploratory},

		// Factual fallback for short queries.
		{"retry backoff", IntentFactual},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			u := Understand(tt.query)
			assert.Equal(t, tt.want, u.Intent, "query %q", tt.query)
		})
	}
}

func TestDifficulty(t *testing.T) {
	assert.Equal(t, DifficultyEasy, Understand("src/main.go").Difficulty)
	assert.Equal(t, DifficultyHard, Understand("redis vs memcached").Difficulty)
}

func TestStrategy(t *testing.T) {
	assert.Equal(t, StrategySparseHeavy, Understand("cmd/serve.go").Strategy)
	assert.Equal(t, StrategyDenseHeavy, Understand("how does version promotion work").Strategy)
	assert.Equal(t, StrategyBalanced, Understand("redis vs memcached").Strategy)
}

func TestStrategyWeights(t *testing.T) {
	s, d := StrategySparseOnly.Weights()
	assert.Equal(t, 1.0, s)
	assert.Equal(t, 0.0, d)

	s, d = StrategyBalanced.Weights()
	assert.Equal(t, 0.5, s)
	assert.Equal(t, 0.5, d)

	s, d = StrategyDenseHeavy.Weights()
	assert.Less(t, s, d)
}

func TestSignals(t *testing.T) {
	s := Analyze("how does getUserById in src/auth.go work")
	assert.True(t, s.HasCamelCase)
	assert.True(t, s.HasPathLike)
	assert.True(t, s.HasQuestionWord)
	assert.True(t, s.HasBroadContext)
	assert.Equal(t, 6, s.WordCount)
}

func TestSpecificityRange(t *testing.T) {
	for _, q := range []string{"", "the a of", "getUserById", "how does it work", "ParseConfigFile src/config.go"} {
		s := Analyze(q)
		assert.GreaterOrEqual(t, s.Specificity, 0.0)
		assert.LessOrEqual(t, s.Specificity, 1.0)
	}
}

func TestSplitIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"getUserById", []string{"get", "user", "by", "id"}},
		{"snake_case_name", []string{"snake", "case", "name"}},
		{"kebab-case", []string{"kebab", "case"}},
		{"HTTPServer", []string{"http", "server"}},
		{"plain", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitIdentifier(tt.in))
		})
	}
}

func TestExpandSparse(t *testing.T) {
	e := NewExpander()
	tokens := e.ExpandSparse("getUserById auth")

	byToken := map[string]float64{}
	for _, tok := range tokens {
		byToken[tok.Token] = tok.Weight
	}

	// Originals keep full weight; splits and abbreviation long forms
	// follow at lower weights.
	assert.Equal(t, 1.0, byToken["getuserbyid"])
	assert.Equal(t, 0.8, byToken["user"])
	assert.Equal(t, 0.6, byToken["authentication"])
}

func TestSparseQueryString(t *testing.T) {
	s := SparseQueryString([]WeightedToken{
		{Token: "high", Weight: 0.9},
		{Token: "mid", Weight: 0.6},
		{Token: "low", Weight: 0.4},
	})
	// weight >= 0.8 twice, >= 0.6 once, rest dropped.
	assert.Equal(t, "high high mid", s)
}

func TestExpandDense(t *testing.T) {
	e := NewExpander()
	out := e.ExpandDense("auth config")
	assert.Contains(t, out, "auth config")
	assert.Contains(t, out, "(related:")
	assert.Contains(t, out, "authentication")

	// Queries with no expandable terms come back unchanged.
	assert.Equal(t, "zebra", e.ExpandDense("zebra"))
}
