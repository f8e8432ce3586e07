package query

import (
	"strings"
	"unicode"
)

// abbreviations maps common code short forms to their long forms.
// Bridges the vocabulary gap between query terms and identifiers.
var abbreviations = map[string][]string{
	"auth":   {"authentication", "authorization"},
	"config": {"configuration"},
	"cfg":    {"configuration", "config"},
	"db":     {"database"},
	"repo":   {"repository"},
	"impl":   {"implementation"},
	"init":   {"initialize", "initialization"},
	"ctx":    {"context"},
	"req":    {"request"},
	"resp":   {"response"},
	"res":    {"result", "response"},
	"err":    {"error"},
	"msg":    {"message"},
	"conn":   {"connection"},
	"util":   {"utility", "utilities"},
	"fn":     {"function"},
	"func":   {"function"},
	"param":  {"parameter"},
	"args":   {"arguments"},
	"env":    {"environment"},
	"dir":    {"directory"},
	"doc":    {"document", "documentation"},
	"spec":   {"specification"},
	"sync":   {"synchronize", "synchronization"},
	"async":  {"asynchronous"},
	"dedup":  {"deduplicate", "deduplication"},
	"ws":     {"websocket"},
	"mcp":    {"model context protocol"},
}

// synonyms are natural-language expansions. Disabled for the sparse path
// by default to preserve precision; the dense path always uses them.
var synonyms = map[string][]string{
	"delete": {"remove"},
	"create": {"new", "add"},
	"search": {"query", "find"},
	"fetch":  {"get", "retrieve"},
	"store":  {"save", "persist"},
	"error":  {"failure"},
}

// Token weights for the sparse expansion stream. High-weight tokens are
// emitted twice to amplify their boost in BM25 scoring.
const (
	originalWeight = 1.0
	splitWeight    = 0.8
	abbrevWeight   = 0.6
	synonymWeight  = 0.6

	doubleEmitThreshold = 0.8
	singleEmitThreshold = 0.6
)

// Expander produces sparse and dense expansions of a query.
type Expander struct {
	// SparseSynonyms enables synonym expansion on the sparse path.
	// Off by default: synonyms recall more but cost precision where
	// exact identifier matching matters.
	SparseSynonyms bool
}

// NewExpander creates an expander with default settings.
func NewExpander() *Expander {
	return &Expander{}
}

// ExpandSparse produces the weighted token stream for the BM25 path:
// original tokens, identifier splits (CamelCase/snake_case/kebab-case),
// and code-abbreviation long forms.
func (e *Expander) ExpandSparse(q string) []WeightedToken {
	seen := make(map[string]bool)
	var out []WeightedToken

	add := func(tok string, w float64) {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" || seen[tok] {
			return
		}
		seen[tok] = true
		out = append(out, WeightedToken{Token: tok, Weight: w})
	}

	for _, word := range strings.Fields(q) {
		word = strings.Trim(word, "\"'`?.,;:!()")
		if word == "" {
			continue
		}
		add(word, originalWeight)

		for _, part := range SplitIdentifier(word) {
			add(part, splitWeight)
		}

		lower := strings.ToLower(word)
		for _, long := range abbreviations[lower] {
			add(long, abbrevWeight)
		}

		if e.SparseSynonyms {
			for _, syn := range synonyms[lower] {
				add(syn, synonymWeight)
			}
		}
	}

	return out
}

// SparseQueryString flattens the weighted stream into a query string:
// weight >= 0.8 appears twice, >= 0.6 once, below that is dropped.
func SparseQueryString(tokens []WeightedToken) string {
	var parts []string
	for _, t := range tokens {
		switch {
		case t.Weight >= doubleEmitThreshold:
			parts = append(parts, t.Token, t.Token)
		case t.Weight >= singleEmitThreshold:
			parts = append(parts, t.Token)
		}
	}
	return strings.Join(parts, " ")
}

// ExpandDense produces the natural-language expansion for the embedding
// path: "original (related: a, b, c)". Related terms come from
// abbreviation long forms and synonyms; capped to keep the embedded text
// close to the original meaning.
func (e *Expander) ExpandDense(q string) string {
	const maxRelated = 4

	seen := make(map[string]bool)
	var related []string

	addRelated := func(term string) {
		term = strings.ToLower(term)
		if term == "" || seen[term] || len(related) >= maxRelated {
			return
		}
		seen[term] = true
		related = append(related, term)
	}

	for _, word := range strings.Fields(strings.ToLower(q)) {
		word = strings.Trim(word, "\"'`?.,;:!()")
		seen[word] = true
	}

	for _, word := range strings.Fields(strings.ToLower(q)) {
		word = strings.Trim(word, "\"'`?.,;:!()")
		for _, long := range abbreviations[word] {
			addRelated(long)
		}
		for _, syn := range synonyms[word] {
			addRelated(syn)
		}
	}

	if len(related) == 0 {
		return q
	}
	return q + " (related: " + strings.Join(related, ", ") + ")"
}

// SplitIdentifier splits CamelCase, snake_case and kebab-case tokens
// into their lowercase parts. Returns nil when the token has no internal
// structure.
func SplitIdentifier(tok string) []string {
	// snake_case and kebab-case first
	if strings.ContainsAny(tok, "_-") {
		fields := strings.FieldsFunc(tok, func(r rune) bool {
			return r == '_' || r == '-'
		})
		var out []string
		for _, f := range fields {
			out = append(out, camelParts(f)...)
		}
		if len(out) > 1 {
			return lowerAll(out)
		}
		return nil
	}

	parts := camelParts(tok)
	if len(parts) > 1 {
		return lowerAll(parts)
	}
	return nil
}

// camelParts splits one CamelCase run into words, keeping acronym runs
// together (HTTPServer -> HTTP, Server).
func camelParts(tok string) []string {
	if tok == "" {
		return nil
	}
	var parts []string
	runes := []rune(tok)
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := false
		if unicode.IsUpper(cur) && unicode.IsLower(prev) {
			boundary = true
		}
		if unicode.IsUpper(prev) && unicode.IsUpper(cur) &&
			i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			boundary = true
		}
		if unicode.IsDigit(cur) != unicode.IsDigit(prev) {
			boundary = true
		}
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	parts = append(parts, string(runes[start:]))
	return parts
}

func lowerAll(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
