// Package registry manages named stores and their immutable index
// versions. Each store persists as one JSON metadata file under
// {data_dir}/stores/{store}/metadata.json, written atomically.
package registry

import (
	"fmt"
	"time"
)

// VersionStatus is the lifecycle state of a store version.
type VersionStatus string

const (
	// StatusBuilding is a version being filled; at most one per store.
	StatusBuilding VersionStatus = "building"
	// StatusReady is a fully-built version eligible for promotion.
	StatusReady VersionStatus = "ready"
	// StatusActive is the version served for default reads and writes;
	// exactly one per store with >= 1 version.
	StatusActive VersionStatus = "active"
	// StatusDeprecated is a former active version kept for in-flight readers.
	StatusDeprecated VersionStatus = "deprecated"
)

// VersionConfig is the per-version index configuration, immutable after
// the version reaches ready.
type VersionConfig struct {
	EmbeddingModel   string `json:"embedding_model"`
	EmbeddingDim     int    `json:"embedding_dim"`
	ChunkingStrategy string `json:"chunking_strategy"` // structural | lines | bytes
	MaxChunkLines    int    `json:"max_chunk_lines"`
	OverlapLines     int    `json:"overlap_lines"`
}

// DefaultVersionConfig returns the config used for implicitly created
// versions.
func DefaultVersionConfig() VersionConfig {
	return VersionConfig{
		EmbeddingModel:   "static-hash-256",
		EmbeddingDim:     256,
		ChunkingStrategy: "structural",
		MaxChunkLines:    120,
		OverlapLines:     10,
	}
}

// Version is one immutable index snapshot of a store.
type Version struct {
	ID        string        `json:"id"` // v1, v2, ... numerically increasing
	Status    VersionStatus `json:"status"`
	Config    VersionConfig `json:"config"`
	CreatedAt time.Time     `json:"created_at"`
	ReadyAt   *time.Time    `json:"ready_at,omitempty"`
}

// Store is a named tenant with an ordered history of versions.
type Store struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ActiveID    string     `json:"active_version,omitempty"`
	Versions    []*Version `json:"versions"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Active returns the active version, or nil.
func (s *Store) Active() *Version {
	return s.Find(s.ActiveID)
}

// Find returns the version with the given id, or nil.
func (s *Store) Find(id string) *Version {
	for _, v := range s.Versions {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// Resolution maps a logical (store, version) onto physical index names
// and the version's config.
type Resolution struct {
	Store     string
	VersionID string
	DenseName string
	SparseName string
	Config    VersionConfig
}

// Naming resolves (store, version) to physical collection names.
// The mapping is a pure function: "{prefix}{store}_{version}".
type Naming struct {
	Prefix string
}

// Dense returns the dense collection name for a store version.
func (n Naming) Dense(store, version string) string {
	return fmt.Sprintf("%s%s_%s", n.Prefix, store, version)
}

// Sparse returns the sparse index name for a store version.
// Dense and sparse share the collection namespace; the sparse side is
// suffixed so engines with separate index spaces stay collision-free.
func (n Naming) Sparse(store, version string) string {
	return fmt.Sprintf("%s%s_%s_sparse", n.Prefix, store, version)
}
