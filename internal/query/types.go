// Package query implements query understanding: normalization, signal
// extraction, intent and difficulty classification, retrieval strategy
// choice, and code-aware expansion for the sparse and dense paths.
package query

// Intent categorizes what a query is trying to do.
type Intent string

const (
	// IntentNavigational targets a specific file or identifier.
	IntentNavigational Intent = "navigational"
	// IntentFactual seeks a specific answer.
	IntentFactual Intent = "factual"
	// IntentExploratory seeks broad context or explanation.
	IntentExploratory Intent = "exploratory"
	// IntentAnalytical compares or contrasts.
	IntentAnalytical Intent = "analytical"
)

// Difficulty estimates how hard a query is to serve well.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Strategy selects the retrieval mix for a query.
type Strategy string

const (
	StrategySparseOnly  Strategy = "sparse-only"
	StrategyDenseOnly   Strategy = "dense-only"
	StrategyBalanced    Strategy = "hybrid-balanced"
	StrategySparseHeavy Strategy = "hybrid-sparse-heavy"
	StrategyDenseHeavy  Strategy = "hybrid-dense-heavy"
)

// Weights returns the (sparse, dense) fusion weights for a strategy.
func (s Strategy) Weights() (sparse, dense float64) {
	switch s {
	case StrategySparseOnly:
		return 1.0, 0.0
	case StrategyDenseOnly:
		return 0.0, 1.0
	case StrategySparseHeavy:
		return 0.7, 0.3
	case StrategyDenseHeavy:
		return 0.3, 0.7
	default:
		return 0.5, 0.5
	}
}

// Signals are the features computed from a query before classification.
type Signals struct {
	WordCount       int     `json:"word_count"`
	HasCamelCase    bool    `json:"has_camel_case"`
	HasSnakeCase    bool    `json:"has_snake_case"`
	HasPathLike     bool    `json:"has_path_like"`
	HasQuestionWord bool    `json:"has_question_word"`
	HasComparison   bool    `json:"has_comparison"`
	HasBroadContext bool    `json:"has_broad_context"`
	Specificity     float64 `json:"specificity"` // [0,1]
}

// Understanding is the full analysis of one query.
type Understanding struct {
	Original   string     `json:"original"`
	Normalized string     `json:"normalized"`
	Intent     Intent     `json:"intent"`
	Difficulty Difficulty `json:"difficulty"`
	Strategy   Strategy   `json:"strategy"`
	Signals    Signals    `json:"signals"`
	Confidence float64    `json:"confidence"` // [0,1]
}

// WeightedToken is one token of an expanded sparse query stream.
type WeightedToken struct {
	Token  string
	Weight float64
}
