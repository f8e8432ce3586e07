package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	got := make(chan Event, 1)
	b.Subscribe(context.Background(), TopicIndexProgress, func(_ context.Context, ev Event) error {
		got <- ev
		return nil
	})

	b.Publish(TopicIndexProgress, "payload")

	select {
	case ev := <-got:
		assert.Equal(t, TopicIndexProgress, ev.Topic)
		assert.Equal(t, "payload", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

// Per-topic FIFO relative to a single publisher.
func TestFIFOPerPublisher(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})

	b.Subscribe(context.Background(), "t", func(_ context.Context, ev Event) error {
		mu.Lock()
		seen = append(seen, ev.Payload.(int))
		if len(seen) == 10 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	for i := 0; i < 10; i++ {
		b.Publish("t", i)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("events not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		assert.Equal(t, i, v)
	}
}

func TestHandlerErrorDoesNotPropagate(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	delivered := make(chan struct{}, 2)
	b.Subscribe(context.Background(), "t", func(_ context.Context, _ Event) error {
		delivered <- struct{}{}
		return errors.New("handler failure")
	})

	// Publishing never fails or blocks on handler errors.
	b.Publish("t", 1)
	b.Publish("t", 2)

	for i := 0; i < 2; i++ {
		select {
		case <-delivered:
		case <-time.After(time.Second):
			t.Fatal("delivery stopped after handler error")
		}
	}
	assert.Eventually(t, func() bool { return b.HandlerErrors() == 2 }, time.Second, 10*time.Millisecond)
}

// A slow handler never blocks publishers; overflow drops the oldest
// queued event and counts it.
func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New(WithQueueSize(4))
	defer func() { _ = b.Close() }()

	block := make(chan struct{})
	b.Subscribe(context.Background(), "t", func(_ context.Context, _ Event) error {
		<-block
		return nil
	})

	start := time.Now()
	for i := 0; i < 50; i++ {
		b.Publish("t", i)
	}
	elapsed := time.Since(start)

	// Publishing 50 events into a queue of 4 must not block.
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Eventually(t, func() bool { return b.Dropped() > 0 }, time.Second, 10*time.Millisecond)
	close(block)
}

func TestSubscriptionEndsOnContextCancel(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	delivered := make(chan struct{}, 8)
	b.Subscribe(ctx, "t", func(_ context.Context, _ Event) error {
		delivered <- struct{}{}
		return nil
	})

	b.Publish("t", 1)
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("first event not delivered")
	}

	cancel()
	// The subscriber goroutine unregisters; later publishes go nowhere.
	assert.Eventually(t, func() bool {
		b.Publish("t", 2)
		select {
		case <-delivered:
			return false
		default:
			return true
		}
	}, time.Second, 20*time.Millisecond)
}

func TestCloseDrainsQueued(t *testing.T) {
	b := New(WithDrainTimeout(2 * time.Second))

	var mu sync.Mutex
	count := 0
	b.Subscribe(context.Background(), "t", func(_ context.Context, _ Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 20; i++ {
		b.Publish("t", i)
	}
	require.NoError(t, b.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, count)
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())
	b.Publish("t", 1) // must not panic
}

func TestInstrumentedBusCounts(t *testing.T) {
	b := NewInstrumented(New())
	defer func() { _ = b.Close() }()

	done := make(chan struct{}, 3)
	b.Subscribe(context.Background(), "t", func(_ context.Context, _ Event) error {
		done <- struct{}{}
		return nil
	})

	for i := 0; i < 3; i++ {
		b.Publish("t", i)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("not delivered")
		}
	}

	assert.Eventually(t, func() bool {
		st := b.Stats()["t"]
		return st.Published == 3 && st.Delivered == 3
	}, time.Second, 10*time.Millisecond)
}
