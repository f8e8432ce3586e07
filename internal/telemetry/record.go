// Package telemetry collects per-request records into a bounded ring
// with per-store aggregates, exports Prometheus metrics, and appends a
// durable subset of each record to a rotating JSONL query log.
package telemetry

import (
	"sync"
	"time"

	"github.com/moabualruz/rice-search/internal/query"
)

// StageLatencies are the per-stage timings of one request.
type StageLatencies struct {
	Sparse      time.Duration `json:"sparse"`
	Dense       time.Duration `json:"dense"`
	Fuse        time.Duration `json:"fuse"`
	RerankPass1 time.Duration `json:"rerank_pass1"`
	RerankPass2 time.Duration `json:"rerank_pass2"`
	PostRank    time.Duration `json:"post_rank"`
}

// StageCounts are candidate counts at each stage boundary.
type StageCounts struct {
	Sparse   int `json:"sparse"`
	Dense    int `json:"dense"`
	Fused    int `json:"fused"`
	Reranked int `json:"reranked"`
	Final    int `json:"final"`
}

// Record is the full telemetry record for one request.
type Record struct {
	RequestID    string           `json:"request_id"`
	ConnectionID string           `json:"connection_id,omitempty"`
	Store        string           `json:"store"`
	Version      string           `json:"version"`
	Query        string           `json:"query"`
	Normalized   string           `json:"normalized"`
	Intent       query.Intent     `json:"intent"`
	Difficulty   query.Difficulty `json:"difficulty"`
	Strategy     query.Strategy   `json:"strategy"`
	Latencies    StageLatencies   `json:"latencies"`
	Counts       StageCounts      `json:"counts"`
	Total        time.Duration    `json:"total"`
	ResultCount  int              `json:"result_count"`
	CacheHit     bool             `json:"cache_hit"`
	RerankOn     bool             `json:"rerank_enabled"`
	RerankSkip   bool             `json:"rerank_skipped"`
	SkipReason   string           `json:"rerank_skip_reason,omitempty"`
	RerankError  string           `json:"rerank_error,omitempty"`
	TopSignature string           `json:"top_signature,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Ring is a fixed-capacity FIFO buffer of recent records.
type Ring struct {
	mu       sync.RWMutex
	items    []Record
	head     int
	size     int
	capacity int
}

// NewRing creates a ring with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Ring{items: make([]Record, capacity), capacity: capacity}
}

// Add appends a record, evicting the oldest when full.
func (r *Ring) Add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.head] = rec
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Items returns the buffered records oldest-first.
func (r *Ring) Items() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.size == 0 {
		return []Record{}
	}
	out := make([]Record, r.size)
	if r.size < r.capacity {
		copy(out, r.items[:r.size])
	} else {
		copy(out, r.items[r.head:])
		copy(out[r.capacity-r.head:], r.items[:r.head])
	}
	return out
}

// Recent returns up to n most recent records, newest first.
func (r *Ring) Recent(n int) []Record {
	items := r.Items()
	if n <= 0 || n > len(items) {
		n = len(items)
	}
	out := make([]Record, 0, n)
	for i := len(items) - 1; i >= len(items)-n; i-- {
		out = append(out, items[i])
	}
	return out
}

// Size returns the number of buffered records.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}
