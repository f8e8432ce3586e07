package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/moabualruz/rice-search/internal/query"
)

// Query log defaults.
const (
	DefaultLogMaxSizeMB    = 64
	DefaultLogFlushEvery   = 2 * time.Second
	queryLogBufferSize     = 64 * 1024
	queryLogMaxRotations   = 9
)

// LogEntry is the durable subset of a telemetry record written to the
// query log. Entries round-trip: parsing a written line yields an equal
// entry.
type LogEntry struct {
	RequestID   string           `json:"request_id"`
	Store       string           `json:"store"`
	Version     string           `json:"version"`
	Query       string           `json:"query"`
	Normalized  string           `json:"normalized"`
	Intent      query.Intent     `json:"intent"`
	Difficulty  query.Difficulty `json:"difficulty"`
	Strategy    query.Strategy   `json:"strategy"`
	TotalMicros int64            `json:"total_us"`
	ResultCount int              `json:"result_count"`
	CacheHit    bool             `json:"cache_hit"`
	RerankSkip  bool             `json:"rerank_skipped"`
	Timestamp   time.Time        `json:"timestamp"`
}

// EntryFromRecord projects a telemetry record onto its durable subset.
func EntryFromRecord(rec Record) LogEntry {
	return LogEntry{
		RequestID:   rec.RequestID,
		Store:       rec.Store,
		Version:     rec.Version,
		Query:       rec.Query,
		Normalized:  rec.Normalized,
		Intent:      rec.Intent,
		Difficulty:  rec.Difficulty,
		Strategy:    rec.Strategy,
		TotalMicros: rec.Total.Microseconds(),
		ResultCount: rec.ResultCount,
		CacheHit:    rec.CacheHit,
		RerankSkip:  rec.RerankSkip,
		Timestamp:   rec.Timestamp.UTC().Truncate(time.Microsecond),
	}
}

// QueryLog appends entries to {dir}/{store}/{YYYY-MM-DD}.jsonl with
// buffered writes, periodic flushes and size-based rotation. Shutdown
// drains buffers synchronously.
type QueryLog struct {
	dir     string
	maxSize int64
	logger  *slog.Logger

	mu      sync.Mutex
	writers map[string]*dayWriter
	closed  bool

	flushStop chan struct{}
	flushDone chan struct{}
}

type dayWriter struct {
	path    string
	file    *os.File
	buf     *bufio.Writer
	written int64
}

// NewQueryLog creates the log and starts the periodic flusher.
func NewQueryLog(dir string, maxSizeMB int, logger *slog.Logger) (*QueryLog, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultLogMaxSizeMB
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create query-log directory: %w", err)
	}

	l := &QueryLog{
		dir:       dir,
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		logger:    logger,
		writers:   make(map[string]*dayWriter),
		flushStop: make(chan struct{}),
		flushDone: make(chan struct{}),
	}
	go l.flushLoop()
	return l, nil
}

// Append writes one entry to the store's current-day file.
func (l *QueryLog) Append(entry LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal query-log entry: %w", err)
	}
	line = append(line, '\n')

	key := entry.Store + "/" + entry.Timestamp.UTC().Format("2006-01-02")

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("query log is closed")
	}

	w, err := l.writerLocked(key, entry.Store, entry.Timestamp)
	if err != nil {
		return err
	}
	if w.written+int64(len(line)) > l.maxSize {
		if err := l.rotateLocked(key, w); err != nil {
			l.logger.Warn("query-log rotation failed", slog.String("error", err.Error()))
		} else {
			w, err = l.writerLocked(key, entry.Store, entry.Timestamp)
			if err != nil {
				return err
			}
		}
	}

	n, err := w.buf.Write(line)
	w.written += int64(n)
	return err
}

// writerLocked returns (opening if needed) the writer for a day key.
func (l *QueryLog) writerLocked(key, store string, ts time.Time) (*dayWriter, error) {
	if w, ok := l.writers[key]; ok {
		return w, nil
	}

	dir := filepath.Join(l.dir, store)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store query-log directory: %w", err)
	}
	path := filepath.Join(dir, ts.UTC().Format("2006-01-02")+".jsonl")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open query log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	w := &dayWriter{
		path:    path,
		file:    f,
		buf:     bufio.NewWriterSize(f, queryLogBufferSize),
		written: info.Size(),
	}
	l.writers[key] = w
	return w, nil
}

// rotateLocked shifts the current file to .1 (and .1 to .2, ...).
func (l *QueryLog) rotateLocked(key string, w *dayWriter) error {
	_ = w.buf.Flush()
	_ = w.file.Close()
	delete(l.writers, key)

	for i := queryLogMaxRotations - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", w.path, i)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, fmt.Sprintf("%s.%d", w.path, i+1))
		}
	}
	return os.Rename(w.path, w.path+".1")
}

// Flush flushes all buffered writers.
func (l *QueryLog) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.writers {
		if err := w.buf.Flush(); err != nil {
			l.logger.Warn("query-log flush failed", slog.String("error", err.Error()))
		}
	}
}

func (l *QueryLog) flushLoop() {
	defer close(l.flushDone)
	ticker := time.NewTicker(DefaultLogFlushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Flush()
		case <-l.flushStop:
			return
		}
	}
}

// Close drains buffers synchronously and closes all files.
func (l *QueryLog) Close() error {
	close(l.flushStop)
	<-l.flushDone

	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true

	var firstErr error
	for _, w := range l.writers {
		if err := w.buf.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.writers = map[string]*dayWriter{}
	return firstErr
}
