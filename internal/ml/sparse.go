package ml

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/moabualruz/rice-search/internal/query"
)

// DefaultSparseTopK truncates sparse vectors to the heaviest K terms.
const DefaultSparseTopK = 256

// StubSparseEncoder produces log-TF sparse vectors over a process-local
// growing vocabulary. Token ids are assigned on first sight and stable
// for the process lifetime, so encoding the same text twice yields
// identical vectors.
type StubSparseEncoder struct {
	topK int

	mu    sync.RWMutex
	vocab map[string]uint32
}

// NewStubSparseEncoder creates a stub sparse encoder.
func NewStubSparseEncoder(topK int) *StubSparseEncoder {
	if topK <= 0 {
		topK = DefaultSparseTopK
	}
	return &StubSparseEncoder{
		topK:  topK,
		vocab: make(map[string]uint32),
	}
}

// Encode implements SparseEncoder.
func (e *StubSparseEncoder) Encode(ctx context.Context, texts []string) ([]SparseVector, error) {
	out := make([]SparseVector, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out[i] = e.encodeOne(text)
	}
	return out, nil
}

// ModelID implements SparseEncoder.
func (e *StubSparseEncoder) ModelID() string {
	return "stub-logtf"
}

func (e *StubSparseEncoder) encodeOne(text string) SparseVector {
	counts := make(map[string]int)
	for _, tok := range codeTokens(text) {
		if programmingStopWords[tok] {
			continue
		}
		counts[tok]++
	}
	// Identifier splits add recall for sub-word matches.
	for _, tok := range codeTokens(text) {
		for _, part := range query.SplitIdentifier(tok) {
			counts[part]++
		}
	}

	type entry struct {
		id uint32
		w  float32
	}
	entries := make([]entry, 0, len(counts))
	for tok, n := range counts {
		entries = append(entries, entry{
			id: e.tokenID(tok),
			w:  float32(1 + math.Log(float64(n))),
		})
	}

	// Sort by weight descending; id ascending breaks ties for
	// determinism.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].w != entries[j].w {
			return entries[i].w > entries[j].w
		}
		return entries[i].id < entries[j].id
	})
	if len(entries) > e.topK {
		entries = entries[:e.topK]
	}

	v := SparseVector{
		Indices: make([]uint32, len(entries)),
		Values:  make([]float32, len(entries)),
	}
	for i, en := range entries {
		v.Indices[i] = en.id
		v.Values[i] = en.w
	}
	return v
}

// tokenID returns the stable id for a token, growing the vocabulary on
// first sight.
func (e *StubSparseEncoder) tokenID(tok string) uint32 {
	e.mu.RLock()
	id, ok := e.vocab[tok]
	e.mu.RUnlock()
	if ok {
		return id
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.vocab[tok]; ok {
		return id
	}
	id = uint32(len(e.vocab))
	e.vocab[tok] = id
	return id
}

// VocabSize returns the current vocabulary size.
func (e *StubSparseEncoder) VocabSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.vocab)
}
