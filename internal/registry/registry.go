package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio"

	"github.com/moabualruz/rice-search/internal/rserr"
)

// DefaultStore is the store created on first use when none exists.
const DefaultStore = "default"

// storeNameRe validates store names: alphanumeric head, then [-_] allowed.
var storeNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// MaxStoreNameLen bounds store names.
const MaxStoreNameLen = 64

// ValidateStoreName checks a store name against the naming rules.
func ValidateStoreName(name string) error {
	if name == "" || len(name) > MaxStoreNameLen {
		return rserr.Newf(rserr.CodeInvalidStore, "store name length must be 1-%d", MaxStoreNameLen)
	}
	if !storeNameRe.MatchString(name) {
		return rserr.Newf(rserr.CodeInvalidStore, "store name %q must match %s", name, storeNameRe.String())
	}
	return nil
}

// Registry persists store metadata and serializes per-store mutations.
// Reads return deep-copied snapshots taken under the store's lock.
type Registry struct {
	dir    string // {data_dir}/stores
	naming Naming
	logger *slog.Logger

	mu     sync.RWMutex            // guards stores map shape
	stores map[string]*storeState
}

type storeState struct {
	mu   sync.Mutex // serializes read-modify-write per store
	data *Store
}

// New creates a registry rooted at dir and reloads metadata from disk.
// Malformed metadata files are quarantined with a .corrupt suffix, not
// silently accepted.
func New(dir string, naming Naming, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		dir:    dir,
		naming: naming,
		logger: logger,
		stores: make(map[string]*storeState),
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create stores directory: %w", err)
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// reload scans the stores directory and loads each metadata file.
func (r *Registry) reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read stores directory: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		path := r.metadataPath(name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read store metadata %s: %w", path, err)
		}

		var st Store
		if err := json.Unmarshal(data, &st); err != nil || st.Name != name {
			quarantine := path + ".corrupt"
			_ = os.Rename(path, quarantine)
			r.logger.Error("quarantined malformed store metadata",
				slog.String("store", name),
				slog.String("moved_to", quarantine))
			continue
		}
		r.stores[name] = &storeState{data: &st}
	}
	return nil
}

func (r *Registry) metadataPath(store string) string {
	return filepath.Join(r.dir, store, "metadata.json")
}

// persist writes the store metadata atomically (temp + rename).
// Must be called with the store's lock held.
func (r *Registry) persist(st *Store) error {
	if err := os.MkdirAll(filepath.Join(r.dir, st.Name), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store metadata: %w", err)
	}
	if err := renameio.WriteFile(r.metadataPath(st.Name), data, 0o644); err != nil {
		return fmt.Errorf("write store metadata: %w", err)
	}
	return nil
}

// state returns the storeState for name, or a NotFound error.
func (r *Registry) state(name string) (*storeState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stores[name]
	if !ok {
		return nil, rserr.NotFound(rserr.CodeStoreNotFound, "store", name)
	}
	return st, nil
}

// snapshot deep-copies a store for lock-free reads.
func snapshot(st *Store) *Store {
	out := *st
	out.Versions = make([]*Version, len(st.Versions))
	for i, v := range st.Versions {
		vc := *v
		out.Versions[i] = &vc
	}
	return &out
}

// Create creates a new empty store.
func (r *Registry) Create(name, description string) (*Store, error) {
	if err := ValidateStoreName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stores[name]; exists {
		return nil, rserr.Conflict(rserr.CodeStoreExists, "store %q already exists", name)
	}

	st := &Store{
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	state := &storeState{data: st}
	if err := r.persist(st); err != nil {
		return nil, err
	}
	r.stores[name] = state
	return snapshot(st), nil
}

// EnsureDefault initializes the default store with one active version on
// first use. Safe to call repeatedly.
func (r *Registry) EnsureDefault(cfg VersionConfig) (*Store, error) {
	if st, err := r.Get(DefaultStore); err == nil {
		if st.Active() != nil {
			return st, nil
		}
	} else {
		if _, cerr := r.Create(DefaultStore, "default store"); cerr != nil {
			return nil, cerr
		}
	}

	v, err := r.CreateVersion(DefaultStore, cfg)
	if err != nil {
		return nil, err
	}
	if err := r.MarkReady(DefaultStore, v.ID); err != nil {
		return nil, err
	}
	if err := r.Promote(DefaultStore, v.ID); err != nil {
		return nil, err
	}
	return r.Get(DefaultStore)
}

// Get returns a snapshot of the named store.
func (r *Registry) Get(name string) (*Store, error) {
	st, err := r.state(name)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return snapshot(st.data), nil
}

// List returns snapshots of all stores sorted by name.
func (r *Registry) List() []*Store {
	r.mu.RLock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := make([]*Store, 0, len(names))
	for _, name := range names {
		if st, err := r.Get(name); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// Delete removes a store and its metadata. The store must have no active
// version unless force is set.
func (r *Registry) Delete(name string, force bool) error {
	st, err := r.state(name)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if !force && st.data.ActiveID != "" {
		st.mu.Unlock()
		return rserr.Conflict(rserr.CodeDeleteActive, "store %q has an active version", name)
	}
	st.mu.Unlock()

	r.mu.Lock()
	delete(r.stores, name)
	r.mu.Unlock()

	return os.RemoveAll(filepath.Join(r.dir, name))
}

// nextVersionID computes the next version id (v1, v2, ...): the highest
// numeric suffix in use plus one.
func nextVersionID(st *Store) string {
	max := 0
	for _, v := range st.Versions {
		if n, err := strconv.Atoi(strings.TrimPrefix(v.ID, "v")); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("v%d", max+1)
}

// CreateVersion appends a new version in building status.
// At most one building version may exist per store.
func (r *Registry) CreateVersion(store string, cfg VersionConfig) (*Version, error) {
	if cfg.EmbeddingModel == "" || cfg.EmbeddingDim <= 0 {
		return nil, rserr.Newf(rserr.CodeInvalidConfig, "embedding model and dimension are required")
	}
	switch cfg.ChunkingStrategy {
	case "structural", "lines", "bytes":
	default:
		return nil, rserr.Newf(rserr.CodeInvalidConfig, "unknown chunking strategy %q", cfg.ChunkingStrategy)
	}

	st, err := r.state(store)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	for _, v := range st.data.Versions {
		if v.Status == StatusBuilding {
			return nil, rserr.Conflict(rserr.CodeBuildInProgress,
				"store %q already has building version %s", store, v.ID)
		}
	}

	v := &Version{
		ID:        nextVersionID(st.data),
		Status:    StatusBuilding,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
	}
	st.data.Versions = append(st.data.Versions, v)
	if err := r.persist(st.data); err != nil {
		st.data.Versions = st.data.Versions[:len(st.data.Versions)-1]
		return nil, err
	}
	vc := *v
	return &vc, nil
}

// MarkReady transitions a building version to ready.
func (r *Registry) MarkReady(store, versionID string) error {
	return r.mutateVersion(store, versionID, func(v *Version) error {
		if v.Status != StatusBuilding {
			return rserr.Conflict(rserr.CodeVersionState,
				"version %s is %s, expected building", v.ID, v.Status)
		}
		now := time.Now().UTC()
		v.Status = StatusReady
		v.ReadyAt = &now
		return nil
	})
}

// Promote atomically makes a ready version active, demoting the previous
// active version to deprecated. Promotion fails if the version is not
// ready.
func (r *Registry) Promote(store, versionID string) error {
	st, err := r.state(store)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	v := st.data.Find(versionID)
	if v == nil {
		return rserr.NotFound(rserr.CodeVersionNotFound, "version", versionID)
	}
	if v.Status != StatusReady {
		return rserr.Conflict(rserr.CodeVersionState,
			"cannot promote version %s with status %s", versionID, v.Status)
	}

	prevActive := st.data.ActiveID
	if prev := st.data.Find(prevActive); prev != nil {
		prev.Status = StatusDeprecated
	}
	v.Status = StatusActive
	st.data.ActiveID = versionID

	if err := r.persist(st.data); err != nil {
		// Roll back the in-memory swap so state matches disk.
		v.Status = StatusReady
		st.data.ActiveID = prevActive
		if prev := st.data.Find(prevActive); prev != nil {
			prev.Status = StatusActive
		}
		return err
	}
	return nil
}

// Deprecate transitions a non-active version to deprecated.
func (r *Registry) Deprecate(store, versionID string) error {
	return r.mutateVersion(store, versionID, func(v *Version) error {
		if v.Status == StatusActive {
			return rserr.Conflict(rserr.CodeVersionState, "cannot deprecate the active version")
		}
		v.Status = StatusDeprecated
		return nil
	})
}

// DeleteVersion removes a non-active version from the history.
func (r *Registry) DeleteVersion(store, versionID string) error {
	st, err := r.state(store)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	idx := -1
	for i, v := range st.data.Versions {
		if v.ID == versionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return rserr.NotFound(rserr.CodeVersionNotFound, "version", versionID)
	}
	if st.data.Versions[idx].Status == StatusActive {
		return rserr.Conflict(rserr.CodeDeleteActive, "cannot delete the active version")
	}

	removed := st.data.Versions[idx]
	st.data.Versions = append(st.data.Versions[:idx], st.data.Versions[idx+1:]...)
	if err := r.persist(st.data); err != nil {
		st.data.Versions = append(st.data.Versions[:idx],
			append([]*Version{removed}, st.data.Versions[idx:]...)...)
		return err
	}
	return nil
}

// mutateVersion applies fn to one version under the store lock and
// persists on success.
func (r *Registry) mutateVersion(store, versionID string, fn func(*Version) error) error {
	st, err := r.state(store)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	v := st.data.Find(versionID)
	if v == nil {
		return rserr.NotFound(rserr.CodeVersionNotFound, "version", versionID)
	}

	before := *v
	if err := fn(v); err != nil {
		return err
	}
	if err := r.persist(st.data); err != nil {
		*v = before
		return err
	}
	return nil
}

// Resolve maps (store, version?) onto physical index names and version
// config. An empty versionID resolves to the active version.
func (r *Registry) Resolve(store, versionID string) (*Resolution, error) {
	st, err := r.Get(store)
	if err != nil {
		return nil, err
	}

	var v *Version
	if versionID == "" {
		v = st.Active()
		if v == nil {
			return nil, rserr.NotFound(rserr.CodeVersionNotFound, "active version for store", store)
		}
	} else {
		v = st.Find(versionID)
		if v == nil {
			return nil, rserr.NotFound(rserr.CodeVersionNotFound, "version", versionID)
		}
	}

	return &Resolution{
		Store:      store,
		VersionID:  v.ID,
		DenseName:  r.naming.Dense(store, v.ID),
		SparseName: r.naming.Sparse(store, v.ID),
		Config:     v.Config,
	}, nil
}
