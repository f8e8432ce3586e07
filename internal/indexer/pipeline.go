// Package indexer implements the ingest pipeline: dedup-by-hash,
// chunking, batch encoding, upserting with retry, file tracking and
// progress events. Per-document failures never abort a batch; encoding
// failures fail the whole document.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/moabualruz/rice-search/internal/bus"
	"github.com/moabualruz/rice-search/internal/chunk"
	"github.com/moabualruz/rice-search/internal/ml"
	"github.com/moabualruz/rice-search/internal/registry"
	"github.com/moabualruz/rice-search/internal/rserr"
	"github.com/moabualruz/rice-search/internal/tracker"
	"github.com/moabualruz/rice-search/internal/vecengine"
)

// MaxContentBytes bounds one document's content.
const MaxContentBytes = 10 << 20 // 10 MiB

// Config bounds pipeline concurrency and batching.
type Config struct {
	// Workers bounds concurrent document processing.
	Workers int
	// EncodeBatch bounds texts per gateway call.
	EncodeBatch int
	// UpsertBatch bounds points per engine upsert.
	UpsertBatch int
	// MaxFilesPerStore bounds tracked files per store (0 = unbounded).
	MaxFilesPerStore int
	// Retry configures upsert retries on transient errors.
	Retry rserr.RetryConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     8,
		EncodeBatch: 32,
		UpsertBatch: 128,
		Retry:       rserr.DefaultRetryConfig(),
	}
}

// Document is one ingest input.
type Document struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

// Options modifies one Index call.
type Options struct {
	// Force reindexes documents whose content hash is unchanged.
	Force bool
	// ConnectionID scopes points to a streaming-ingest connection.
	ConnectionID string
	// Version targets a specific version instead of the active one.
	Version string
}

// DocError is one failed document.
type DocError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Result summarizes one Index call.
type Result struct {
	Indexed     int           `json:"indexed"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	ChunksTotal int           `json:"chunks_total"`
	Errors      []DocError    `json:"errors,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Progress is the payload of index.progress events.
type Progress struct {
	Store          string  `json:"store"`
	Percentage     float64 `json:"percentage"`
	FilesProcessed int     `json:"files_processed"`
	Total          int     `json:"total"`
}

// Pipeline is the ingest pipeline.
type Pipeline struct {
	engine   vecengine.Engine
	gateway  *ml.Gateway
	registry *registry.Registry
	tracker  *tracker.Tracker
	bus      bus.Bus
	config   Config
	logger   *slog.Logger

	pathLocks *keyedLock
}

// New creates a pipeline.
func New(engine vecengine.Engine, gateway *ml.Gateway, reg *registry.Registry, trk *tracker.Tracker, b bus.Bus, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.EncodeBatch <= 0 {
		cfg.EncodeBatch = DefaultConfig().EncodeBatch
	}
	if cfg.UpsertBatch <= 0 {
		cfg.UpsertBatch = DefaultConfig().UpsertBatch
	}
	return &Pipeline{
		engine:    engine,
		gateway:   gateway,
		registry:  reg,
		tracker:   trk,
		bus:       b,
		config:    cfg,
		logger:    logger,
		pathLocks: newKeyedLock(),
	}
}

// PointID derives the engine point UUID from a key. Index keys points by
// path and chunk id, so identical content under two paths stays two
// distinct sets of points.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

// resolveCollection resolves the store version and makes sure its
// collection exists, so operations against never-indexed stores see an
// empty collection instead of a missing one.
func (p *Pipeline) resolveCollection(ctx context.Context, store, version string) (*registry.Resolution, error) {
	res, err := p.registry.Resolve(store, version)
	if err != nil {
		return nil, err
	}
	if err := p.engine.EnsureCollection(ctx, vecengine.CollectionSpec{
		Name:     res.DenseName,
		DenseDim: res.Config.EmbeddingDim,
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Index runs the ingest pipeline over a batch of documents.
func (p *Pipeline) Index(ctx context.Context, store string, docs []Document, opts Options) (*Result, error) {
	start := time.Now()

	res, err := p.resolveCollection(ctx, store, opts.Version)
	if err != nil {
		return nil, err
	}

	if p.config.MaxFilesPerStore > 0 {
		if p.tracker.Count(store)+len(docs) > p.config.MaxFilesPerStore {
			return nil, rserr.Newf(rserr.CodeQuotaExceeded,
				"store %q would exceed %d tracked files", store, p.config.MaxFilesPerStore)
		}
	}

	chunker := chunk.New(chunk.Config{
		Strategy:     chunk.Strategy(res.Config.ChunkingStrategy),
		MaxLines:     res.Config.MaxChunkLines,
		OverlapLines: res.Config.OverlapLines,
	})

	result := &Result{}
	var mu sync.Mutex
	var upserts []*tracker.Record
	processed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)

	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			rec, chunks, err := p.indexOne(gctx, store, res, chunker, doc, opts)

			mu.Lock()
			defer mu.Unlock()
			processed++
			switch {
			case err != nil:
				result.Failed++
				result.Errors = append(result.Errors, DocError{Path: doc.Path, Error: err.Error()})
			case rec == nil:
				result.Skipped++
			default:
				result.Indexed++
				result.ChunksTotal += chunks
				upserts = append(upserts, rec)
			}
			p.publishProgress(store, processed, len(docs))
			return nil
		})
	}

	// Worker errors are collected per document; the group only fails on
	// context cancellation.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(upserts) > 0 {
		if err := p.tracker.Commit(store, upserts, nil); err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// indexOne processes one document. Returns (nil, 0, nil) when skipped.
func (p *Pipeline) indexOne(ctx context.Context, store string, res *registry.Resolution, chunker *chunk.Chunker, doc Document, opts Options) (*tracker.Record, int, error) {
	if err := ValidatePath(doc.Path); err != nil {
		return nil, 0, err
	}
	if len(doc.Content) > MaxContentBytes {
		return nil, 0, rserr.Newf(rserr.CodeContentTooBig,
			"content exceeds %d bytes", MaxContentBytes)
	}

	// Serialize per (store, path); distinct paths proceed in parallel.
	lockKey := store + "\x00" + doc.Path
	p.pathLocks.Lock(lockKey)
	defer p.pathLocks.Unlock(lockKey)

	docHash := chunk.HashContent([]byte(doc.Content))
	if prev := p.tracker.Get(store, doc.Path); prev != nil && prev.ContentHash == docHash && !opts.Force {
		return nil, 0, nil
	}

	chunks, err := chunker.Split(ctx, &chunk.Document{
		Path:     doc.Path,
		Content:  []byte(doc.Content),
		Language: doc.Language,
		Hash:     docHash,
	})
	if err != nil {
		return nil, 0, rserr.Wrap(rserr.CodeChunkingFailed, err)
	}
	if len(chunks) == 0 {
		// Nothing indexable; still tracked so sync sees the path.
		rec := &tracker.Record{
			Path:        doc.Path,
			ContentHash: docHash,
			Size:        int64(len(doc.Content)),
			IndexedAt:   time.Now().UTC(),
		}
		return rec, 0, nil
	}

	points, err := p.encode(ctx, store, chunks, doc, opts)
	if err != nil {
		// All-or-nothing per document: an encoding failure fails the
		// whole document.
		return nil, 0, rserr.Wrap(rserr.CodeEncodingFailed, err)
	}

	// Replace prior chunks for this path before upserting the new set so
	// stale spans do not linger when boundaries move.
	if prev := p.tracker.Get(store, doc.Path); prev != nil {
		if err := p.engine.DeleteByFilter(ctx, res.DenseName, vecengine.Filter{PathEquals: []string{doc.Path}}); err != nil {
			return nil, 0, err
		}
	}

	if err := p.upsert(ctx, res.DenseName, points); err != nil {
		return nil, 0, err
	}

	rec := &tracker.Record{
		Path:        doc.Path,
		ContentHash: docHash,
		Size:        int64(len(doc.Content)),
		IndexedAt:   time.Now().UTC(),
		ChunkCount:  len(chunks),
	}
	return rec, len(chunks), nil
}

// encode turns chunks into engine points, batching gateway calls.
func (p *Pipeline) encode(ctx context.Context, store string, chunks []*chunk.Chunk, doc Document, opts Options) ([]vecengine.Point, error) {
	points := make([]vecengine.Point, 0, len(chunks))
	now := time.Now().UTC()

	for start := 0; start < len(chunks); start += p.config.EncodeBatch {
		end := start + p.config.EncodeBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		dense, err := p.gateway.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		sparse, err := p.gateway.SparseEncode(ctx, texts)
		if err != nil {
			return nil, err
		}

		for i, c := range batch {
			points = append(points, vecengine.Point{
				ID:     PointID(doc.Path + "\x00" + c.ID),
				Dense:  dense[i],
				Sparse: sparse[i],
				Payload: vecengine.Payload{
					Store:        store,
					Path:         doc.Path,
					Language:     c.Language,
					Content:      c.Content,
					Symbols:      c.Symbols,
					StartLine:    c.StartLine,
					EndLine:      c.EndLine,
					DocHash:      c.DocHash,
					ChunkHash:    c.ContentHash,
					IndexedAt:    now,
					ConnectionID: opts.ConnectionID,
				},
			})
		}
	}
	return points, nil
}

// upsert writes points in bounded sub-batches with retry on transient
// errors.
func (p *Pipeline) upsert(ctx context.Context, collection string, points []vecengine.Point) error {
	for start := 0; start < len(points); start += p.config.UpsertBatch {
		end := start + p.config.UpsertBatch
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]

		err := rserr.Retry(ctx, p.config.Retry, func() error {
			return p.engine.Upsert(ctx, collection, batch)
		})
		if err != nil {
			return rserr.Wrap(rserr.CodeIndexFailed, err)
		}
	}
	return nil
}

func (p *Pipeline) publishProgress(store string, processed, total int) {
	if p.bus == nil || total == 0 {
		return
	}
	p.bus.Publish(bus.TopicIndexProgress, Progress{
		Store:          store,
		Percentage:     float64(processed) / float64(total) * 100,
		FilesProcessed: processed,
		Total:          total,
	})
}

// Delete removes all points whose path equals any entry and drops the
// tracker records.
func (p *Pipeline) Delete(ctx context.Context, store string, paths []string) (int, error) {
	res, err := p.resolveCollection(ctx, store, "")
	if err != nil {
		return 0, err
	}

	removed := 0
	var deletes []string
	for _, path := range paths {
		if err := ValidatePath(path); err != nil {
			return removed, err
		}
		if p.tracker.Get(store, path) != nil {
			removed++
		}
		deletes = append(deletes, path)
	}
	if len(deletes) == 0 {
		return 0, nil
	}

	if err := p.engine.DeleteByFilter(ctx, res.DenseName, vecengine.Filter{PathEquals: deletes}); err != nil {
		return 0, err
	}
	if err := p.tracker.Commit(store, nil, deletes); err != nil {
		return 0, err
	}
	return removed, nil
}

// DeleteByPrefix removes points and tracker entries under a path prefix.
func (p *Pipeline) DeleteByPrefix(ctx context.Context, store, prefix string) (int, error) {
	if prefix == "" {
		return 0, rserr.Validation("path prefix must not be empty")
	}
	res, err := p.resolveCollection(ctx, store, "")
	if err != nil {
		return 0, err
	}

	var matched []string
	for _, path := range p.tracker.Paths(store) {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			matched = append(matched, path)
		}
	}

	if err := p.engine.DeleteByFilter(ctx, res.DenseName, vecengine.Filter{PathPrefix: prefix}); err != nil {
		return 0, err
	}
	if len(matched) > 0 {
		if err := p.tracker.Commit(store, nil, matched); err != nil {
			return 0, err
		}
	}
	return len(matched), nil
}

// Sync deletes tracked paths missing from currentPaths and returns the
// removal count.
func (p *Pipeline) Sync(ctx context.Context, store string, currentPaths []string) (int, error) {
	res, err := p.resolveCollection(ctx, store, "")
	if err != nil {
		return 0, err
	}

	stale := p.tracker.Paths(store)
	currentSet := make(map[string]bool, len(currentPaths))
	for _, path := range currentPaths {
		currentSet[path] = true
	}
	var toDelete []string
	for _, path := range stale {
		if !currentSet[path] {
			toDelete = append(toDelete, path)
		}
	}
	if len(toDelete) == 0 {
		return 0, nil
	}

	if err := p.engine.DeleteByFilter(ctx, res.DenseName, vecengine.Filter{PathEquals: toDelete}); err != nil {
		return 0, err
	}
	removed, err := p.tracker.Sync(store, currentPaths)
	if err != nil {
		return 0, err
	}
	return len(removed), nil
}

// Reindex re-encodes every indexed chunk of a store with the current
// embedding backend, upserting in place. Content comes from stored
// payloads; the tracker is untouched.
func (p *Pipeline) Reindex(ctx context.Context, store string, opts Options) (*Result, error) {
	start := time.Now()
	res, err := p.resolveCollection(ctx, store, opts.Version)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	cursor := ""
	for {
		points, next, err := p.engine.Scroll(ctx, res.DenseName, vecengine.Filter{}, p.config.UpsertBatch, cursor)
		if err != nil {
			return nil, err
		}
		if len(points) == 0 {
			break
		}

		texts := make([]string, len(points))
		for i, pt := range points {
			texts[i] = pt.Payload.Content
		}
		dense, err := p.gateway.Embed(ctx, texts)
		if err != nil {
			return nil, rserr.Wrap(rserr.CodeEncodingFailed, err)
		}
		sparse, err := p.gateway.SparseEncode(ctx, texts)
		if err != nil {
			return nil, rserr.Wrap(rserr.CodeEncodingFailed, err)
		}
		for i := range points {
			points[i].Dense = dense[i]
			points[i].Sparse = sparse[i]
			points[i].Payload.IndexedAt = time.Now().UTC()
		}

		if err := p.upsert(ctx, res.DenseName, points); err != nil {
			return nil, err
		}
		result.ChunksTotal += len(points)

		if next == "" {
			break
		}
		cursor = next
	}

	result.Indexed = p.tracker.Count(store)
	result.Duration = time.Since(start)
	return result, nil
}

// Stats reports engine-side counts for a store's active version.
func (p *Pipeline) Stats(ctx context.Context, store string) (files, chunks int, err error) {
	res, err := p.resolveCollection(ctx, store, "")
	if err != nil {
		return 0, 0, err
	}
	n, err := p.engine.Count(ctx, res.DenseName, vecengine.Filter{})
	if err != nil {
		return 0, 0, err
	}
	return p.tracker.Count(store), n, nil
}

// CheckConsistency compares tracker chunk counts with engine counts and
// returns a drift description, or empty when consistent.
func (p *Pipeline) CheckConsistency(ctx context.Context, store string) (string, error) {
	files, engineChunks, err := p.Stats(ctx, store)
	if err != nil {
		return "", err
	}
	trackerChunks := 0
	for _, path := range p.tracker.Paths(store) {
		if rec := p.tracker.Get(store, path); rec != nil {
			trackerChunks += rec.ChunkCount
		}
	}
	if trackerChunks != engineChunks {
		return fmt.Sprintf("store %q: tracker has %d chunks over %d files, engine has %d",
			store, trackerChunks, files, engineChunks), nil
	}
	return "", nil
}
