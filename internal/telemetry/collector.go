package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/moabualruz/rice-search/internal/query"
)

// StoreStats are the per-store aggregates.
type StoreStats struct {
	Total          int64                    `json:"total"`
	AvgLatency     time.Duration            `json:"avg_latency"`
	P50            time.Duration            `json:"p50"`
	P95            time.Duration            `json:"p95"`
	P99            time.Duration            `json:"p99"`
	CacheHitRate   float64                  `json:"cache_hit_rate"`
	RerankSkipRate float64                  `json:"rerank_skip_rate"`
	ZeroResults    int64                    `json:"zero_results"`
	Intents        map[query.Intent]int64   `json:"intents"`
	Strategies     map[query.Strategy]int64 `json:"strategies"`
}

// storeAgg is the mutable aggregate state for one store.
type storeAgg struct {
	total       int64
	latencySum  time.Duration
	latencies   []time.Duration // bounded sample for percentiles
	cacheHits   int64
	rerankSkips int64
	rerankRuns  int64
	zeroResults int64
	intents     map[query.Intent]int64
	strategies  map[query.Strategy]int64
}

// latencySampleCap bounds the percentile sample per store.
const latencySampleCap = 4096

// Backend optionally persists records outside the process.
type Backend interface {
	Persist(ctx context.Context, rec Record) error
}

// Collector aggregates telemetry records.
type Collector struct {
	ring    *Ring
	metrics *Metrics
	backend Backend
	logger  *slog.Logger

	mu     sync.RWMutex
	stores map[string]*storeAgg
}

// NewCollector creates a collector with a ring of the given capacity.
// metrics and backend may be nil.
func NewCollector(ringSize int, metrics *Metrics, backend Backend, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		ring:    NewRing(ringSize),
		metrics: metrics,
		backend: backend,
		logger:  logger,
		stores:  make(map[string]*storeAgg),
	}
}

// Record ingests one request record.
func (c *Collector) Record(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	c.ring.Add(rec)

	c.mu.Lock()
	agg, ok := c.stores[rec.Store]
	if !ok {
		agg = &storeAgg{
			intents:    make(map[query.Intent]int64),
			strategies: make(map[query.Strategy]int64),
		}
		c.stores[rec.Store] = agg
	}
	agg.total++
	agg.latencySum += rec.Total
	if len(agg.latencies) < latencySampleCap {
		agg.latencies = append(agg.latencies, rec.Total)
	} else {
		// Reservoir-free overwrite keeps the sample fresh.
		agg.latencies[int(agg.total)%latencySampleCap] = rec.Total
	}
	if rec.CacheHit {
		agg.cacheHits++
	}
	if rec.RerankOn {
		agg.rerankRuns++
		if rec.RerankSkip {
			agg.rerankSkips++
		}
	}
	if rec.ResultCount == 0 {
		agg.zeroResults++
	}
	agg.intents[rec.Intent]++
	agg.strategies[rec.Strategy]++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Observe(rec)
	}
	if c.backend != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := c.backend.Persist(ctx, rec); err != nil {
				c.logger.Warn("telemetry backend persist failed", slog.String("error", err.Error()))
			}
		}()
	}
}

// Stats returns aggregates for one store.
func (c *Collector) Stats(store string) StoreStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	agg, ok := c.stores[store]
	if !ok {
		return StoreStats{
			Intents:    map[query.Intent]int64{},
			Strategies: map[query.Strategy]int64{},
		}
	}
	return agg.snapshot()
}

// AllStats returns aggregates for every store.
func (c *Collector) AllStats() map[string]StoreStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]StoreStats, len(c.stores))
	for name, agg := range c.stores {
		out[name] = agg.snapshot()
	}
	return out
}

// Recent returns the n most recent records, newest first.
func (c *Collector) Recent(n int) []Record {
	return c.ring.Recent(n)
}

func (a *storeAgg) snapshot() StoreStats {
	st := StoreStats{
		Total:       a.total,
		ZeroResults: a.zeroResults,
		Intents:     make(map[query.Intent]int64, len(a.intents)),
		Strategies:  make(map[query.Strategy]int64, len(a.strategies)),
	}
	if a.total > 0 {
		st.AvgLatency = a.latencySum / time.Duration(a.total)
		st.CacheHitRate = float64(a.cacheHits) / float64(a.total)
	}
	if a.rerankRuns > 0 {
		st.RerankSkipRate = float64(a.rerankSkips) / float64(a.rerankRuns)
	}
	for k, v := range a.intents {
		st.Intents[k] = v
	}
	for k, v := range a.strategies {
		st.Strategies[k] = v
	}

	if len(a.latencies) > 0 {
		sorted := make([]time.Duration, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		st.P50 = percentile(sorted, 0.50)
		st.P95 = percentile(sorted, 0.95)
		st.P99 = percentile(sorted, 0.99)
	}
	return st
}

// percentile reads a sorted sample.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * q)
	return sorted[idx]
}
