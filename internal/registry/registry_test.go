package registry

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(t.TempDir(), Naming{Prefix: "rice_"}, nil)
	require.NoError(t, err)
	return r
}

func TestValidateStoreName(t *testing.T) {
	tests := []struct {
		name    string
		store   string
		wantErr bool
	}{
		{"simple", "demo", false},
		{"with dash", "my-store", false},
		{"with underscore", "my_store", false},
		{"digit head", "1store", false},
		{"empty", "", true},
		{"leading dash", "-store", true},
		{"leading underscore", "_store", true},
		{"space", "my store", true},
		{"too long", string(make([]byte, 65)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStoreName(tt.store)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry(t)

	st, err := r.Create("demo", "a demo store")
	require.NoError(t, err)
	assert.Equal(t, "demo", st.Name)
	assert.Empty(t, st.Versions)

	got, err := r.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "a demo store", got.Description)

	_, err = r.Get("missing")
	assert.Error(t, err)
}

func TestCreateDuplicateConflicts(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("demo", "")
	require.NoError(t, err)
	_, err = r.Create("demo", "")
	assert.Error(t, err)
}

func TestVersionLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("demo", "")
	require.NoError(t, err)

	cfg := DefaultVersionConfig()
	v1, err := r.CreateVersion("demo", cfg)
	require.NoError(t, err)
	assert.Equal(t, "v1", v1.ID)
	assert.Equal(t, StatusBuilding, v1.Status)

	// A second building version is rejected.
	_, err = r.CreateVersion("demo", cfg)
	assert.Error(t, err)

	// Promote before ready fails.
	assert.Error(t, r.Promote("demo", "v1"))

	require.NoError(t, r.MarkReady("demo", "v1"))
	require.NoError(t, r.Promote("demo", "v1"))

	st, err := r.Get("demo")
	require.NoError(t, err)
	require.NotNil(t, st.Active())
	assert.Equal(t, "v1", st.Active().ID)
}

func TestPromoteDemotesPrevious(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("demo", "")
	require.NoError(t, err)

	cfg := DefaultVersionConfig()
	for _, id := range []string{"v1", "v2"} {
		v, err := r.CreateVersion("demo", cfg)
		require.NoError(t, err)
		assert.Equal(t, id, v.ID)
		require.NoError(t, r.MarkReady("demo", v.ID))
		require.NoError(t, r.Promote("demo", v.ID))
	}

	st, err := r.Get("demo")
	require.NoError(t, err)

	// Exactly one active version.
	active := 0
	for _, v := range st.Versions {
		if v.Status == StatusActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, "v2", st.ActiveID)
	assert.Equal(t, StatusDeprecated, st.Find("v1").Status)
}

func TestDeleteActiveVersionRejected(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("demo", "")
	require.NoError(t, err)
	v, err := r.CreateVersion("demo", DefaultVersionConfig())
	require.NoError(t, err)
	require.NoError(t, r.MarkReady("demo", v.ID))
	require.NoError(t, r.Promote("demo", v.ID))

	assert.Error(t, r.DeleteVersion("demo", v.ID))
	assert.Error(t, r.Deprecate("demo", v.ID))
}

func TestDeleteDeprecatedVersion(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("demo", "")
	require.NoError(t, err)

	cfg := DefaultVersionConfig()
	for range 2 {
		v, err := r.CreateVersion("demo", cfg)
		require.NoError(t, err)
		require.NoError(t, r.MarkReady("demo", v.ID))
		require.NoError(t, r.Promote("demo", v.ID))
	}

	require.NoError(t, r.DeleteVersion("demo", "v1"))
	st, err := r.Get("demo")
	require.NoError(t, err)
	assert.Len(t, st.Versions, 1)

	// Version ids keep increasing numerically past deletions.
	v3, err := r.CreateVersion("demo", cfg)
	require.NoError(t, err)
	assert.Equal(t, "v3", v3.ID)
}

func TestResolveNaming(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("demo", "")
	require.NoError(t, err)
	v, err := r.CreateVersion("demo", DefaultVersionConfig())
	require.NoError(t, err)
	require.NoError(t, r.MarkReady("demo", v.ID))
	require.NoError(t, r.Promote("demo", v.ID))

	res, err := r.Resolve("demo", "")
	require.NoError(t, err)
	assert.Equal(t, "rice_demo_v1", res.DenseName)
	assert.Equal(t, "rice_demo_v1_sparse", res.SparseName)
	assert.Equal(t, "v1", res.VersionID)
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, Naming{Prefix: "rice_"}, nil)
	require.NoError(t, err)

	_, err = r.Create("demo", "persisted")
	require.NoError(t, err)
	v, err := r.CreateVersion("demo", DefaultVersionConfig())
	require.NoError(t, err)
	require.NoError(t, r.MarkReady("demo", v.ID))
	require.NoError(t, r.Promote("demo", v.ID))

	// A fresh registry over the same dir sees the same state.
	r2, err := New(dir, Naming{Prefix: "rice_"}, nil)
	require.NoError(t, err)
	st, err := r2.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "persisted", st.Description)
	require.NotNil(t, st.Active())
	assert.Equal(t, "v1", st.Active().ID)
}

func TestMalformedMetadataQuarantined(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "broken"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken", "metadata.json"), []byte("{not json"), 0o644))

	r, err := New(dir, Naming{}, nil)
	require.NoError(t, err)

	_, err = r.Get("broken")
	assert.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "broken", "metadata.json.corrupt"))
	assert.NoError(t, statErr)
}

func TestEnsureDefault(t *testing.T) {
	r := newTestRegistry(t)

	st, err := r.EnsureDefault(DefaultVersionConfig())
	require.NoError(t, err)
	require.NotNil(t, st.Active())

	// Idempotent.
	st2, err := r.EnsureDefault(DefaultVersionConfig())
	require.NoError(t, err)
	assert.Equal(t, st.Active().ID, st2.Active().ID)
}

func TestConcurrentVersionMutations(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("demo", "")
	require.NoError(t, err)

	// Concurrent create attempts: exactly one building version wins per
	// round trip; the registry never ends up with two.
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.CreateVersion("demo", DefaultVersionConfig())
		}()
	}
	wg.Wait()

	st, err := r.Get("demo")
	require.NoError(t, err)
	building := 0
	for _, v := range st.Versions {
		if v.Status == StatusBuilding {
			building++
		}
	}
	assert.Equal(t, 1, building)
}
