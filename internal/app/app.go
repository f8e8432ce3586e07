// Package app wires the subsystems together and owns the process
// lifecycle: startup, readiness, graceful drain with in-flight
// tracking, and detailed health.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/moabualruz/rice-search/internal/bus"
	"github.com/moabualruz/rice-search/internal/config"
	"github.com/moabualruz/rice-search/internal/indexer"
	"github.com/moabualruz/rice-search/internal/ml"
	"github.com/moabualruz/rice-search/internal/registry"
	"github.com/moabualruz/rice-search/internal/search"
	"github.com/moabualruz/rice-search/internal/telemetry"
	"github.com/moabualruz/rice-search/internal/tracker"
	"github.com/moabualruz/rice-search/internal/vecengine"
	"github.com/moabualruz/rice-search/pkg/version"
)

// DrainTimeout bounds graceful shutdown.
const DrainTimeout = 15 * time.Second

// panicCooldown is how long readiness stays down after a background
// panic before the supervisor is expected to have restarted us.
const panicCooldown = 30 * time.Second

// App is the composed application.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Bus       bus.Bus
	Registry  *registry.Registry
	Tracker   *tracker.Tracker
	Engine    vecengine.Engine
	Gateway   *ml.Gateway
	Indexer   *indexer.Pipeline
	Search    *search.Service
	Collector *telemetry.Collector
	Metrics   *telemetry.Metrics
	QueryLog  *telemetry.QueryLog
	// PromRegistry is this instance's metrics registry; /metrics serves
	// it.
	PromRegistry *prometheus.Registry

	lock     *flock.Flock
	baseBus  *bus.EventBus
	inFlight atomic.Int64
	draining atomic.Bool
	// panicAt is the unix-nano time of the last background panic, 0 when
	// healthy.
	panicAt atomic.Int64

	cleanups []func()
}

// New builds the application from config.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &App{Config: cfg, Logger: logger}

	// One server per data dir.
	a.lock = flock.New(cfg.LockFile())
	locked, err := a.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire data-dir lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("data dir %s is locked by another process", cfg.DataDir)
	}

	// Event bus, instrumented, optionally logging to disk.
	base := bus.New(bus.WithLogger(logger))
	a.baseBus = base
	var b bus.Bus = bus.NewInstrumented(base)
	if cfg.Telemetry.EventLogEnabled {
		lb, err := bus.NewLogging(b, cfg.EventLogFile(), 10, 3, logger)
		if err != nil {
			return nil, err
		}
		b = lb
	}
	a.Bus = b

	naming := registry.Naming{Prefix: cfg.CollectionPrefix}
	reg, err := registry.New(cfg.StoresDir(), naming, logger)
	if err != nil {
		return nil, err
	}
	a.Registry = reg

	trk, err := tracker.New(cfg.TrackerDir())
	if err != nil {
		return nil, err
	}
	a.Tracker = trk

	engine, err := buildEngine(cfg)
	if err != nil {
		return nil, err
	}
	a.Engine = engine

	gateway, err := ml.NewGateway(buildMLConfig(cfg), logger)
	if err != nil {
		return nil, err
	}
	a.Gateway = gateway

	a.PromRegistry = prometheus.NewRegistry()
	a.Metrics = telemetry.NewMetricsWithRegistry("ricesearch", a.PromRegistry)

	var backend telemetry.Backend
	if cfg.Telemetry.RedisEnabled {
		rb, err := telemetry.NewRedisBackend(cfg.Telemetry.RedisAddr, cfg.Telemetry.RedisPassword, cfg.Telemetry.RedisDB, "ricesearch")
		if err != nil {
			// A missing telemetry backend degrades, it does not fail
			// startup.
			logger.Warn("redis telemetry backend unavailable", slog.String("error", err.Error()))
		} else {
			backend = rb
			a.cleanups = append(a.cleanups, func() { _ = rb.Close() })
		}
	}
	a.Collector = telemetry.NewCollector(cfg.Telemetry.RingSize, a.Metrics, backend, logger)

	qlog, err := telemetry.NewQueryLog(cfg.QueryLogDir(), cfg.Telemetry.QueryLogMaxMB, logger)
	if err != nil {
		return nil, err
	}
	a.QueryLog = qlog

	a.Indexer = indexer.New(engine, gateway, reg, trk, b, indexer.Config{
		Workers:          cfg.Index.Workers,
		EncodeBatch:      cfg.Index.EncodeBatch,
		UpsertBatch:      cfg.Index.UpsertBatch,
		MaxFilesPerStore: cfg.Index.MaxFilesPerStore,
		Retry:            indexer.DefaultConfig().Retry,
	}, logger)

	a.Search = search.New(reg, gateway, engine, a.Collector, qlog, b, buildSearchConfig(cfg), logger)

	// Default store with one active version on first use.
	vcfg := registry.DefaultVersionConfig()
	vcfg.EmbeddingModel = gateway.EmbedModelID()
	vcfg.EmbeddingDim = gateway.Dimensions()
	if _, err := reg.EnsureDefault(vcfg); err != nil {
		return nil, err
	}

	// Startup consistency check over active versions; drift raises an
	// alert on the bus in addition to the log line.
	for _, st := range reg.List() {
		if st.Active() == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if drift, err := a.Indexer.CheckConsistency(ctx, st.Name); err == nil && drift != "" {
			logger.Warn("index drift detected", slog.String("detail", drift))
			a.Bus.Publish(bus.TopicAlertTriggered, map[string]string{
				"kind":   "index_drift",
				"store":  st.Name,
				"detail": drift,
			})
		}
		cancel()
	}

	// Capability readiness snapshot for progress consumers.
	healthCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	a.Bus.Publish(bus.TopicModelProgress, gateway.Health(healthCtx))
	cancel()

	return a, nil
}

func buildEngine(cfg *config.Config) (vecengine.Engine, error) {
	switch cfg.Engine.Type {
	case "", "local":
		return vecengine.NewLocalEngine(), nil
	case "qdrant":
		return vecengine.NewQdrantEngine(cfg.Engine.DSN)
	default:
		return nil, fmt.Errorf("unknown engine type %q", cfg.Engine.Type)
	}
}

func buildMLConfig(cfg *config.Config) ml.Config {
	m := ml.DefaultConfig()
	m.Embed = ml.CapabilityConfig{Backend: ml.Backend(cfg.ML.EmbedBackend), Policy: ml.FailurePolicy(cfg.ML.EmbedPolicy)}
	m.Sparse = ml.CapabilityConfig{Backend: ml.Backend(cfg.ML.SparseBackend), Policy: ml.FailurePolicy(cfg.ML.SparsePolicy)}
	m.Rerank = ml.CapabilityConfig{Backend: ml.Backend(cfg.ML.RerankBackend), Policy: ml.FailurePolicy(cfg.ML.RerankPolicy)}
	m.Classify = ml.CapabilityConfig{Backend: ml.Backend(cfg.ML.ClassifyBackend), Policy: ml.FailurePolicy(cfg.ML.ClassifyPolicy)}
	m.Remote = ml.RemoteConfig{
		BaseURL:    cfg.ML.RemoteURL,
		Model:      cfg.ML.RemoteModel,
		Dimensions: cfg.ML.EmbeddingDim,
	}
	if cfg.ML.CacheSize > 0 {
		m.CacheSize = cfg.ML.CacheSize
	}
	if cfg.ML.EmbeddingDim > 0 {
		m.StaticDims = cfg.ML.EmbeddingDim
	}
	if cfg.ML.SparseTopK > 0 {
		m.SparseTopK = cfg.ML.SparseTopK
	}
	return m
}

func buildSearchConfig(cfg *config.Config) search.Config {
	sc := search.DefaultConfig()
	if cfg.Search.PrefetchLimit > 0 {
		sc.PrefetchLimit = cfg.Search.PrefetchLimit
	}
	if cfg.Search.FusionK > 0 {
		sc.FusionK = cfg.Search.FusionK
	}
	sc.DelegateNativeFusion = cfg.Search.DelegateNativeFusion
	if cfg.Search.RerankPass1TopK > 0 {
		sc.Rerank.Pass1TopK = cfg.Search.RerankPass1TopK
	}
	if cfg.Search.RerankPass2TopM > 0 {
		sc.Rerank.Pass2TopM = cfg.Search.RerankPass2TopM
	}
	if cfg.Search.DedupThreshold > 0 {
		sc.PostRank.DedupThreshold = cfg.Search.DedupThreshold
	}
	if cfg.Search.DiversityLambda > 0 {
		sc.PostRank.DiversityLambda = cfg.Search.DiversityLambda
	}
	return sc
}

// TrackRequest registers one in-flight request; the returned func
// releases it.
func (a *App) TrackRequest() func() {
	a.inFlight.Add(1)
	a.Metrics.InFlight.Inc()
	return func() {
		a.inFlight.Add(-1)
		a.Metrics.InFlight.Dec()
	}
}

// InFlight returns the current in-flight request count.
func (a *App) InFlight() int64 {
	return a.inFlight.Load()
}

// Draining reports whether shutdown has begun.
func (a *App) Draining() bool {
	return a.draining.Load()
}

// RecordBackgroundPanic trips the process-health flag; readiness flips
// to 503 for the cooldown window.
func (a *App) RecordBackgroundPanic() {
	a.panicAt.Store(time.Now().UnixNano())
	a.Metrics.PanicsTotal.Inc()
}

// Ready reports readiness: false while draining, while ML is unhealthy,
// or during the post-panic cooldown.
func (a *App) Ready(ctx context.Context) bool {
	if a.draining.Load() {
		return false
	}
	if at := a.panicAt.Load(); at != 0 && time.Since(time.Unix(0, at)) < panicCooldown {
		return false
	}
	return a.Gateway.Health(ctx).Healthy()
}

// HealthReport is the detailed health payload.
type HealthReport struct {
	Status    string            `json:"status"`
	Version   version.BuildInfo `json:"version"`
	Engine    string            `json:"engine"`
	EngineErr string            `json:"engine_error,omitempty"`
	ML        ml.Health         `json:"ml"`
	Stores    int               `json:"stores"`
	InFlight  int64             `json:"in_flight"`
	Draining  bool              `json:"draining"`
}

// Health builds the detailed health report.
func (a *App) Health(ctx context.Context) HealthReport {
	// Overflow drops surface as a gauge alongside the report.
	a.Metrics.BusDropped.Set(float64(a.baseBus.Dropped()))

	r := HealthReport{
		Version:  version.GetInfo(),
		ML:       a.Gateway.Health(ctx),
		Stores:   len(a.Registry.List()),
		InFlight: a.inFlight.Load(),
		Draining: a.draining.Load(),
	}

	engineVersion, err := a.Engine.Health(ctx)
	r.Engine = engineVersion
	if err != nil {
		r.EngineErr = err.Error()
	}

	switch {
	case err != nil || !r.ML.Healthy():
		r.Status = "degraded"
	case a.draining.Load():
		r.Status = "draining"
	default:
		r.Status = "ok"
	}
	return r
}

// Shutdown begins the drain: readiness flips immediately, in-flight
// requests get until DrainTimeout, then buffers flush and resources
// close.
func (a *App) Shutdown(ctx context.Context) error {
	a.draining.Store(true)
	a.Logger.Info("shutdown started", slog.Int64("in_flight", a.inFlight.Load()))

	deadline := time.Now().Add(DrainTimeout)
	for a.inFlight.Load() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	if n := a.inFlight.Load(); n > 0 {
		a.Logger.Warn("drain deadline exceeded", slog.Int64("abandoned", n))
	}

	var firstErr error
	if err := a.Bus.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.QueryLog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.Engine.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, fn := range a.cleanups {
		fn()
	}
	if a.lock != nil {
		_ = a.lock.Unlock()
	}
	a.Logger.Info("shutdown complete")
	return firstErr
}
