// Package wsingest implements the WebSocket streaming-ingest channel.
// Clients stream file frames; the server batches them, runs the index
// pipeline, and acknowledges each batch with the number of chunks
// queued. Frames are processed per-connection in order; replies are not
// serialized with frames. Disconnecting cancels the connection's
// in-flight batches.
package wsingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/moabualruz/rice-search/internal/app"
	"github.com/moabualruz/rice-search/internal/indexer"
	"github.com/moabualruz/rice-search/internal/registry"
)

// Batching and flow-control settings.
const (
	// batchSize flushes a batch when this many files have accumulated.
	batchSize = 16
	// batchLinger is the period at which a partial batch is flushed.
	batchLinger = 250 * time.Millisecond
	// maxPending is the per-connection queued-file bound; beyond it the
	// server sends a throttle notification instead of closing.
	maxPending = 256
	// writeTimeout bounds one frame write.
	writeTimeout = 10 * time.Second
	// pongWait is the read deadline refreshed by client traffic.
	pongWait = 90 * time.Second
)

// clientFrame is one inbound message.
type clientFrame struct {
	Type    string `json:"type"` // "file" | "ping"
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	// Store switches the connection's target store for this and later
	// frames; files already queued are indexed into the previous store
	// first. Empty keeps the current store (the ?store= query parameter,
	// else the default store).
	Store string `json:"store,omitempty"`
}

// serverFrame is one outbound message.
type serverFrame struct {
	Type         string `json:"type"` // "indexed" | "error" | "throttle" | "pong"
	BatchID      string `json:"batch_id,omitempty"`
	FilesCount   int    `json:"files_count,omitempty"`
	ChunksQueued int    `json:"chunks_queued,omitempty"`
	Code         string `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Handler upgrades HTTP requests into ingest sessions.
type Handler struct {
	app      *app.App
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the ingest handler.
func NewHandler(a *app.App, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		app:    a,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Local service: same-origin policy is the deployment's
			// concern.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// session is one connected ingest client.
type session struct {
	h      *Handler
	conn   *websocket.Conn
	connID string
	store  string

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	pending   []indexer.Document
	pendingMu sync.Mutex
	flush     chan struct{}
	wg        sync.WaitGroup
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	connID := r.Header.Get("X-Connection-ID")
	if connID == "" {
		connID = uuid.NewString()
	}
	store := r.URL.Query().Get("store")
	if store == "" {
		store = registry.DefaultStore
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		h:      h,
		conn:   conn,
		connID: connID,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
		flush:  make(chan struct{}, 1),
	}

	h.logger.Info("ingest connection opened",
		slog.String("connection_id", connID),
		slog.String("store", store))

	s.wg.Add(1)
	go s.batchLoop()

	s.readLoop()

	// Disconnect: cancel in-flight batches belonging to this connection.
	cancel()
	s.wg.Wait()
	_ = conn.Close()
	h.logger.Info("ingest connection closed", slog.String("connection_id", connID))
}

// readLoop processes frames in order.
func (s *session) readLoop() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.send(serverFrame{Type: "error", Code: "INVALID_FRAME", Message: err.Error()})
			continue
		}

		switch frame.Type {
		case "ping":
			s.send(serverFrame{Type: "pong"})
		case "file":
			s.enqueue(frame)
		default:
			s.send(serverFrame{Type: "error", Code: "UNKNOWN_TYPE",
				Message: fmt.Sprintf("unknown frame type %q", frame.Type)})
		}
	}
}

// enqueue adds one file to the pending batch, applying back-pressure.
func (s *session) enqueue(frame clientFrame) {
	if err := indexer.ValidatePath(frame.Path); err != nil {
		s.send(serverFrame{Type: "error", Code: "INVALID_PATH", Message: err.Error()})
		return
	}

	s.pendingMu.Lock()
	if len(s.pending) >= maxPending {
		s.pendingMu.Unlock()
		// Saturated: notify rather than close; the client retries.
		s.send(serverFrame{Type: "throttle"})
		return
	}
	if frame.Store != "" && frame.Store != s.store {
		s.pendingMu.Unlock()
		s.runBatch()
		s.pendingMu.Lock()
		s.store = frame.Store
	}
	s.pending = append(s.pending, indexer.Document{Path: frame.Path, Content: frame.Content})
	full := len(s.pending) >= batchSize
	s.pendingMu.Unlock()

	if full {
		select {
		case s.flush <- struct{}{}:
		default:
		}
	}
}

// batchLoop drains pending files into index batches.
func (s *session) batchLoop() {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.h.app.RecordBackgroundPanic()
			s.h.logger.Error("ingest batch loop panic",
				slog.String("connection_id", s.connID),
				slog.Any("panic", r))
		}
	}()
	ticker := time.NewTicker(batchLinger)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.flush:
			s.runBatch()
		case <-ticker.C:
			s.runBatch()
		}
	}
}

// runBatch indexes the accumulated files and acks the batch.
func (s *session) runBatch() {
	s.pendingMu.Lock()
	if len(s.pending) == 0 {
		s.pendingMu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	store := s.store
	s.pendingMu.Unlock()

	batchID := uuid.NewString()
	result, err := s.h.app.Indexer.Index(s.ctx, store, batch, indexer.Options{
		ConnectionID: s.connID,
	})
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.send(serverFrame{Type: "error", Code: "INDEX_FAILED", Message: err.Error()})
		return
	}

	s.send(serverFrame{
		Type:         "indexed",
		BatchID:      batchID,
		FilesCount:   len(batch),
		ChunksQueued: result.ChunksTotal,
	})
}

// send writes one frame; writes are serialized because acks race with
// pong replies.
func (s *session) send(frame serverFrame) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(frame); err != nil {
		s.h.logger.Debug("ingest write failed",
			slog.String("connection_id", s.connID),
			slog.String("error", err.Error()))
	}
}
