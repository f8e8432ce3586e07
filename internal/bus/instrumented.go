package bus

import (
	"context"
	"sync"
	"time"
)

// TopicStats holds per-topic publish/deliver counters.
type TopicStats struct {
	Published      int64
	Delivered      int64
	HandlerErrors  int64
	HandlerLatency time.Duration // cumulative
}

// InstrumentedBus wraps a Bus recording per-topic publish counts and
// handler latency. Wrap handlers at subscribe time so latency is
// attributed to the topic regardless of handler identity.
type InstrumentedBus struct {
	inner Bus

	mu    sync.Mutex
	stats map[string]*TopicStats
}

// NewInstrumented wraps a bus with instrumentation.
func NewInstrumented(inner Bus) *InstrumentedBus {
	return &InstrumentedBus{
		inner: inner,
		stats: make(map[string]*TopicStats),
	}
}

// Publish implements Bus.
func (b *InstrumentedBus) Publish(topic string, payload any) {
	b.mu.Lock()
	b.topicStats(topic).Published++
	b.mu.Unlock()
	b.inner.Publish(topic, payload)
}

// Subscribe implements Bus.
func (b *InstrumentedBus) Subscribe(ctx context.Context, topic string, handler Handler) {
	b.inner.Subscribe(ctx, topic, func(ctx context.Context, ev Event) error {
		start := time.Now()
		err := handler(ctx, ev)
		elapsed := time.Since(start)

		b.mu.Lock()
		st := b.topicStats(topic)
		st.Delivered++
		st.HandlerLatency += elapsed
		if err != nil {
			st.HandlerErrors++
		}
		b.mu.Unlock()
		return err
	})
}

// Close implements Bus.
func (b *InstrumentedBus) Close() error {
	return b.inner.Close()
}

// Stats returns a snapshot of per-topic counters.
func (b *InstrumentedBus) Stats() map[string]TopicStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]TopicStats, len(b.stats))
	for topic, st := range b.stats {
		out[topic] = *st
	}
	return out
}

// topicStats must be called with the mutex held.
func (b *InstrumentedBus) topicStats(topic string) *TopicStats {
	st, ok := b.stats[topic]
	if !ok {
		st = &TopicStats{}
		b.stats[topic] = st
	}
	return st
}

var _ Bus = (*InstrumentedBus)(nil)
