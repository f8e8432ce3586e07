package query

import (
	"strings"
	"unicode"
)

// MaxQueryLen bounds normalized query length in runes.
const MaxQueryLen = 10000

// questionWords open factual queries.
var questionWords = map[string]bool{
	"what": true, "where": true, "when": true, "who": true,
	"why": true, "how": true, "which": true, "does": true, "is": true,
}

// comparisonPhrases mark analytical queries.
var comparisonPhrases = []string{
	" vs ", " vs. ", "versus", "compare", "comparison", "difference between",
}

// broadContextPhrases mark exploratory queries.
var broadContextPhrases = []string{
	"how does", "how do", "work", "explain", "architecture", "flow",
	"overview", "walkthrough",
}

// commonWords lower the specificity score; rare or identifier-like
// tokens raise it.
var commonWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "in": true, "on": true,
	"to": true, "for": true, "and": true, "or": true, "is": true, "are": true,
	"do": true, "does": true, "how": true, "what": true, "where": true,
	"code": true, "file": true, "function": true, "with": true, "that": true,
	"this": true, "it": true, "my": true, "me": true, "find": true,
	"show": true, "get": true, "all": true, "work": true,
}

// Normalize lower-cases, collapses whitespace, strips control characters
// and bounds the length of a query.
func Normalize(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	lastSpace := true
	count := 0
	for _, r := range strings.ToLower(q) {
		if count >= MaxQueryLen {
			break
		}
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
				count++
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
		count++
	}
	return strings.TrimSpace(b.String())
}

// Analyze computes the signal set for a query. Signals are computed on
// the ORIGINAL text where case matters (CamelCase) and the normalized
// text elsewhere.
func Analyze(original string) Signals {
	normalized := Normalize(original)
	words := strings.Fields(normalized)

	s := Signals{WordCount: len(words)}

	for _, w := range strings.Fields(original) {
		if isCamelCase(w) {
			s.HasCamelCase = true
		}
		if strings.Contains(w, "_") && strings.Trim(w, "_") != "" {
			s.HasSnakeCase = true
		}
		if isPathLike(w) {
			s.HasPathLike = true
		}
	}

	for _, w := range words {
		if questionWords[strings.Trim(w, "?")] {
			s.HasQuestionWord = true
			break
		}
	}

	padded := " " + normalized + " "
	for _, p := range comparisonPhrases {
		if strings.Contains(padded, p) || strings.Contains(normalized, p) {
			s.HasComparison = true
			break
		}
	}

	for _, p := range broadContextPhrases {
		if strings.Contains(normalized, p) {
			s.HasBroadContext = true
			break
		}
	}

	s.Specificity = specificity(original, words)
	return s
}

// specificity derives a [0,1] score from token rarity and presence of
// explicit identifiers.
func specificity(original string, words []string) float64 {
	if len(words) == 0 {
		return 0
	}

	rare := 0
	for _, w := range words {
		if !commonWords[w] {
			rare++
		}
	}
	score := float64(rare) / float64(len(words))

	// Explicit identifiers are a strong specificity signal.
	for _, w := range strings.Fields(original) {
		if isCamelCase(w) || strings.Contains(w, "_") || isPathLike(w) {
			score += 0.25
			break
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

// isCamelCase reports whether a token mixes lower and upper case letters
// in identifier position (e.g. getUserById, HandlerFunc).
func isCamelCase(w string) bool {
	hasLower, hasUpper := false, false
	for i, r := range w {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
		if unicode.IsLower(r) {
			hasLower = true
		}
		if unicode.IsUpper(r) && i > 0 {
			hasUpper = true
		}
	}
	return hasLower && hasUpper
}

// knownExtensions marks extension-bearing tokens as path-like.
var knownExtensions = map[string]bool{
	"go": true, "py": true, "js": true, "ts": true, "tsx": true, "jsx": true,
	"rs": true, "java": true, "rb": true, "c": true, "h": true, "cpp": true,
	"md": true, "json": true, "yaml": true, "yml": true, "toml": true,
	"sql": true, "sh": true, "proto": true,
}

// isPathLike reports whether a token looks like a file path or carries a
// known file extension.
func isPathLike(w string) bool {
	if strings.Contains(w, "/") {
		return true
	}
	if i := strings.LastIndex(w, "."); i > 0 && i < len(w)-1 {
		return knownExtensions[strings.ToLower(w[i+1:])]
	}
	return false
}

// Understand runs the full analysis pipeline over a query.
// Intent rules apply in order; first match wins.
func Understand(original string) Understanding {
	normalized := Normalize(original)
	s := Analyze(original)

	u := Understanding{
		Original:   original,
		Normalized: normalized,
		Signals:    s,
	}

	switch {
	case s.HasPathLike || (s.WordCount == 1 && s.HasCamelCase):
		u.Intent = IntentNavigational
	case s.HasComparison:
		u.Intent = IntentAnalytical
	case s.HasQuestionWord && s.Specificity >= 0.5:
		u.Intent = IntentFactual
	case s.HasBroadContext || (s.WordCount >= 5 && s.Specificity < 0.5):
		u.Intent = IntentExploratory
	case s.WordCount <= 4:
		u.Intent = IntentFactual
	default:
		u.Intent = IntentExploratory
	}

	u.Difficulty = difficultyFor(u.Intent, s)
	u.Strategy = strategyFor(u.Intent)
	u.Confidence = confidenceFor(u.Intent, s)
	return u
}

func difficultyFor(intent Intent, s Signals) Difficulty {
	switch intent {
	case IntentNavigational:
		return DifficultyEasy
	case IntentAnalytical:
		return DifficultyHard
	case IntentFactual:
		switch {
		case s.Specificity >= 0.7:
			return DifficultyEasy
		case s.Specificity >= 0.4:
			return DifficultyMedium
		default:
			return DifficultyHard
		}
	default: // exploratory
		switch {
		case s.HasBroadContext && s.WordCount <= 6:
			return DifficultyEasy
		case s.WordCount <= 10:
			return DifficultyMedium
		default:
			return DifficultyHard
		}
	}
}

func strategyFor(intent Intent) Strategy {
	switch intent {
	case IntentNavigational:
		return StrategySparseHeavy
	case IntentExploratory:
		return StrategyDenseHeavy
	default:
		return StrategyBalanced
	}
}

// confidenceFor estimates classification confidence. Strong single
// signals (paths, comparisons) classify with high confidence; fallback
// rules classify with low confidence, which downstream uses to decide
// whether reranking is enabled by default.
func confidenceFor(intent Intent, s Signals) float64 {
	switch intent {
	case IntentNavigational:
		return 0.9
	case IntentAnalytical:
		return 0.85
	case IntentFactual:
		if s.HasQuestionWord {
			return 0.5 + s.Specificity/2
		}
		return 0.5
	default:
		if s.HasBroadContext {
			return 0.75
		}
		return 0.5
	}
}
