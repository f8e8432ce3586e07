// Package config loads the server configuration: defaults, optional
// YAML file, and flag overrides applied by the CLI. Unknown YAML keys
// are rejected at parse time.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EngineConfig selects the vector engine implementation.
type EngineConfig struct {
	// Type is "local" or "qdrant".
	Type string `yaml:"type"`
	// DSN is the qdrant endpoint, e.g. http://localhost:6334.
	DSN string `yaml:"dsn"`
}

// MLConfig selects capability backends.
type MLConfig struct {
	EmbedBackend    string `yaml:"embed_backend"`    // in-process-stub | remote-http | gpu-accelerated
	SparseBackend   string `yaml:"sparse_backend"`
	RerankBackend   string `yaml:"rerank_backend"`
	ClassifyBackend string `yaml:"classify_backend"`

	EmbedPolicy    string `yaml:"embed_policy"` // fallback-stub | error | circuit-breaker
	SparsePolicy   string `yaml:"sparse_policy"`
	RerankPolicy   string `yaml:"rerank_policy"`
	ClassifyPolicy string `yaml:"classify_policy"`

	RemoteURL      string `yaml:"remote_url"`
	RemoteModel    string `yaml:"remote_model"`
	EmbeddingDim   int    `yaml:"embedding_dim"`
	CacheSize      int    `yaml:"cache_size"`
	SparseTopK     int    `yaml:"sparse_top_k"`
}

// IndexConfig bounds the ingest pipeline.
type IndexConfig struct {
	Workers          int `yaml:"workers"`
	EncodeBatch      int `yaml:"encode_batch"`
	UpsertBatch      int `yaml:"upsert_batch"`
	MaxFilesPerStore int `yaml:"max_files_per_store"`
}

// SearchConfig tunes the query pipeline.
type SearchConfig struct {
	PrefetchLimit        int     `yaml:"prefetch_limit"`
	FusionK              int     `yaml:"fusion_k"`
	DelegateNativeFusion bool    `yaml:"delegate_native_fusion"`
	RerankPass1TopK      int     `yaml:"rerank_pass1_top_k"`
	RerankPass2TopM      int     `yaml:"rerank_pass2_top_m"`
	DedupThreshold       float64 `yaml:"dedup_threshold"`
	DiversityLambda      float64 `yaml:"diversity_lambda"`
}

// TelemetryConfig configures observability.
type TelemetryConfig struct {
	RingSize        int    `yaml:"ring_size"`
	QueryLogMaxMB   int    `yaml:"query_log_max_mb"`
	RedisEnabled    bool   `yaml:"redis_enabled"`
	RedisAddr       string `yaml:"redis_addr"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	EventLogEnabled bool   `yaml:"event_log_enabled"`
}

// Config is the root configuration.
type Config struct {
	DataDir          string          `yaml:"data_dir"`
	HTTPAddr         string          `yaml:"http_addr"`
	GRPCAddr         string          `yaml:"grpc_addr"`
	CollectionPrefix string          `yaml:"collection_prefix"`
	LogLevel         string          `yaml:"log_level"`
	Engine           EngineConfig    `yaml:"engine"`
	ML               MLConfig        `yaml:"ml"`
	Index            IndexConfig     `yaml:"index"`
	Search           SearchConfig    `yaml:"search"`
	Telemetry        TelemetryConfig `yaml:"telemetry"`
}

// Default returns the zero-config defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:          filepath.Join(home, ".ricesearch"),
		HTTPAddr:         ":8680",
		GRPCAddr:         ":8681",
		CollectionPrefix: "rice_",
		LogLevel:         "info",
		Engine:           EngineConfig{Type: "local"},
		ML: MLConfig{
			EmbedBackend:    "in-process-stub",
			SparseBackend:   "in-process-stub",
			RerankBackend:   "in-process-stub",
			ClassifyBackend: "in-process-stub",
			EmbedPolicy:     "error",
			SparsePolicy:    "error",
			RerankPolicy:    "fallback-stub",
			ClassifyPolicy:  "fallback-stub",
			EmbeddingDim:    256,
		},
		Search: SearchConfig{
			DelegateNativeFusion: true,
		},
		Telemetry: TelemetryConfig{
			RingSize:      1000,
			QueryLogMaxMB: 64,
		},
	}
}

// Load reads a YAML config file over the defaults. Unknown keys fail.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Paths derived from DataDir.

// StoresDir is the registry root.
func (c *Config) StoresDir() string { return filepath.Join(c.DataDir, "stores") }

// TrackerDir is the file-tracker root.
func (c *Config) TrackerDir() string { return filepath.Join(c.DataDir, "file-tracker") }

// QueryLogDir is the query-log root.
func (c *Config) QueryLogDir() string { return filepath.Join(c.DataDir, "query-logs") }

// LogFile is the server log path.
func (c *Config) LogFile() string { return filepath.Join(c.DataDir, "logs", "server.log") }

// EventLogFile is the bus event log path.
func (c *Config) EventLogFile() string { return filepath.Join(c.DataDir, "logs", "events.log") }

// LockFile is the data-dir advisory lock path.
func (c *Config) LockFile() string { return filepath.Join(c.DataDir, "ricesearch.lock") }
