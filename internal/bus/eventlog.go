package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/moabualruz/rice-search/internal/logging"
)

// logEntry is the serialized form of one bus event.
type logEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
}

// LoggingBus wraps a Bus appending every published event as a JSON line
// to a rotating file. Enabled via config; disabled buses skip the wrap
// entirely.
type LoggingBus struct {
	inner  Bus
	writer *logging.RotatingWriter
	logger *slog.Logger
}

// NewLogging creates a logging bus writing to path with size-based
// rotation.
func NewLogging(inner Bus, path string, maxSizeMB, maxFiles int, logger *slog.Logger) (*LoggingBus, error) {
	writer, err := logging.NewRotatingWriter(path, maxSizeMB, maxFiles)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingBus{inner: inner, writer: writer, logger: logger}, nil
}

// Publish implements Bus. A payload that fails to marshal is logged as
// null rather than suppressing the event.
func (b *LoggingBus) Publish(topic string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("null")
	}
	line, err := json.Marshal(logEntry{
		Timestamp: time.Now().UTC(),
		Topic:     topic,
		Payload:   raw,
	})
	if err == nil {
		line = append(line, '\n')
		if _, werr := b.writer.Write(line); werr != nil {
			b.logger.Warn("event log write failed", slog.String("error", werr.Error()))
		}
	}
	b.inner.Publish(topic, payload)
}

// Subscribe implements Bus.
func (b *LoggingBus) Subscribe(ctx context.Context, topic string, handler Handler) {
	b.inner.Subscribe(ctx, topic, handler)
}

// Close implements Bus.
func (b *LoggingBus) Close() error {
	err := b.inner.Close()
	_ = b.writer.Sync()
	if cerr := b.writer.Close(); err == nil {
		err = cerr
	}
	return err
}

var _ Bus = (*LoggingBus)(nil)
