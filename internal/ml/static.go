package ml

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/moabualruz/rice-search/internal/query"
)

// StaticEmbedder generates embeddings using a hash-based approach.
// Works without external dependencies (no network, no model download).
// Deterministic and fast, with reduced semantic quality; it keeps the
// system operational when no model service is reachable.
type StaticEmbedder struct {
	dims int
}

// programmingStopWords filters common keywords that carry no signal.
var programmingStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

// Weights for vector generation.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEmbedder creates a hash embedder with the given dimension.
func NewStaticEmbedder(dims int) (*StaticEmbedder, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dims)
	}
	return &StaticEmbedder{dims: dims}, nil
}

// Embed implements Embedder.
func (e *StaticEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			out[i] = make([]float32, e.dims)
			continue
		}
		out[i] = normalizeVector(e.generateVector(trimmed))
	}
	return out, nil
}

// Dimensions implements Embedder.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelID implements Embedder.
func (e *StaticEmbedder) ModelID() string {
	return fmt.Sprintf("static-hash-%d", e.dims)
}

// generateVector hashes tokens (weight 0.7) and character trigrams
// (weight 0.3) into buckets.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, e.dims)

	tokens := codeTokens(text)
	for _, token := range tokens {
		if programmingStopWords[token] {
			continue
		}
		vector[hashToIndex(token, e.dims)] += tokenWeight
	}

	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	for i := 0; i+ngramSize <= len(normalized); i++ {
		vector[hashToIndex(normalized[i:i+ngramSize], e.dims)] += ngramWeight
	}

	return vector
}

// codeTokens tokenizes text code-aware: identifiers are split on
// CamelCase and snake_case boundaries.
func codeTokens(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		parts := query.SplitIdentifier(word)
		if parts == nil {
			parts = []string{strings.ToLower(word)}
		}
		tokens = append(tokens, parts...)
	}
	return tokens
}

func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
