package descriptorcache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/modbuild/internal/artifact"
	"git.home.luguber.info/inful/modbuild/internal/jpms"
	"git.home.luguber.info/inful/modbuild/internal/metrics"
	"git.home.luguber.info/inful/modbuild/internal/platform"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

func testPlatform(t *testing.T) *platform.Platform {
	t.Helper()
	p, err := platform.Parse([]byte(`
release: 21
modules:
  - name: java.base
    exports:
      java.lang: []
`), "test")
	require.NoError(t, err)
	return p
}

func storeFixture(t *testing.T) (*Store, *artifact.Distribution, *artifact.Distribution) {
	t.Helper()
	dir := t.TempDir()
	dep := &artifact.Distribution{
		Name: "DEP", Suite: "s", Path: filepath.Join(dir, "dep.jar"),
		ModuleInfo: &artifact.ModuleInfoSpec{Name: "com.dep"},
	}
	dist := &artifact.Distribution{
		Name: "MAIN", Suite: "s", Path: filepath.Join(dir, "main.jar"),
		ModuleInfo: &artifact.ModuleInfoSpec{Name: "com.main"},
		DistDeps:   []string{"s:DEP"},
	}
	reg := artifact.NewRegistry()
	require.NoError(t, reg.Add(dep))
	require.NoError(t, reg.Add(dist))
	return NewStore(reg, testPlatform(t), nil, metrics.NoopRecorder{}), dist, dep
}

func depDescriptor(dep *artifact.Distribution) *jpms.ModuleDescriptor {
	jmd := jpms.NewDescriptor("com.dep", jpms.Origin{Dist: dep})
	jmd.JarPath = dep.Path
	jmd.Packages.Add("com.dep.api")
	jmd.Exports["com.dep.api"] = sets.New[string]()
	return jmd
}

func mainDescriptor(store *Store, dist, dep *artifact.Distribution) *jpms.ModuleDescriptor {
	base, _ := store.Platform.Module("java.base")
	jmd := jpms.NewDescriptor("com.main", jpms.Origin{Dist: dist})
	jmd.JarPath = dist.Path
	jmd.Packages.Add("com.main.api")
	jmd.Packages.Add("com.main.impl")
	jmd.Exports["com.main.api"] = sets.New("com.friend")
	jmd.Requires["com.dep"] = sets.New(jpms.ModTransitive)
	jmd.Requires["java.base"] = sets.New[string]()
	jmd.ConcealedRequires["java.base"] = sets.New("jdk.internal.misc")
	jmd.Uses.Add("com.main.spi.Service")
	jmd.Provides["com.main.spi.Service"] = sets.New("com.main.impl.Impl")
	jmd.ModulePath = []*jpms.ModuleDescriptor{depDescriptor(dep), base}
	return jmd
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, dist, dep := storeFixture(t)
	ctx := context.Background()
	require.NoError(t, store.Save(depDescriptor(dep)))
	src := mainDescriptor(store, dist, dep)
	require.NoError(t, store.Save(src))

	// A fresh store forces the file path rather than the memo.
	fresh := NewStore(store.Registry, store.Platform, nil, metrics.NoopRecorder{})
	loaded, err := fresh.Load(ctx, dist, true)
	require.NoError(t, err)

	assert.Equal(t, "com.main", loaded.Name)
	assert.Equal(t, dist.Path, loaded.JarPath)
	assert.Equal(t, src.Exports, loaded.Exports)
	assert.Equal(t, src.Requires, loaded.Requires)
	assert.Equal(t, src.ConcealedRequires, loaded.ConcealedRequires)
	assert.Equal(t, src.Provides, loaded.Provides)
	assert.True(t, src.Uses.Equal(loaded.Uses))
	assert.True(t, src.Packages.Equal(loaded.Packages))

	require.Len(t, loaded.ModulePath, 2)
	names := []string{loaded.ModulePath[0].Name, loaded.ModulePath[1].Name}
	assert.ElementsMatch(t, []string{"com.dep", "java.base"}, names)
	assert.Same(t, dist, loaded.Origin.Dist)
}

func TestLoadRelocatedOutput(t *testing.T) {
	store, dist, dep := storeFixture(t)
	ctx := context.Background()
	require.NoError(t, store.Save(depDescriptor(dep)))
	require.NoError(t, store.Save(mainDescriptor(store, dist, dep)))

	// Move jar and descriptor together; the relative jar path must follow.
	moved := filepath.Join(t.TempDir(), "relocated")
	require.NoError(t, os.MkdirAll(moved, 0o755))
	for _, name := range []string{"main.jar.descriptor", "dep.jar.descriptor"} {
		data, err := os.ReadFile(filepath.Join(filepath.Dir(dist.Path), name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(moved, name), data, 0o644))
	}
	dist.Path = filepath.Join(moved, "main.jar")
	dep.Path = filepath.Join(moved, "dep.jar")

	fresh := NewStore(store.Registry, store.Platform, nil, metrics.NoopRecorder{})
	loaded, err := fresh.Load(ctx, dist, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(moved, "main.jar"), loaded.JarPath)
}

func TestLoadMissing(t *testing.T) {
	store, dist, _ := storeFixture(t)
	ctx := context.Background()

	jmd, err := store.Load(ctx, dist, false)
	require.NoError(t, err)
	assert.Nil(t, jmd)

	_, err = store.Load(ctx, dist, true)
	assert.Error(t, err)
}

func TestCreatedAndInvalidate(t *testing.T) {
	store, dist, dep := storeFixture(t)
	assert.False(t, store.Created(dist))

	require.NoError(t, store.Save(depDescriptor(dep)))
	src := mainDescriptor(store, dist, dep)
	require.NoError(t, store.Put(dist, src))
	assert.True(t, store.Created(dist))

	store.Invalidate(dist)
	assert.False(t, store.Created(dist))
	jmd, err := store.Load(context.Background(), dist, false)
	require.NoError(t, err)
	assert.Nil(t, jmd)
}

func TestAlternativesSiblingFiles(t *testing.T) {
	store, dist, dep := storeFixture(t)
	ctx := context.Background()
	require.NoError(t, store.Save(depDescriptor(dep)))

	alt := jpms.NewDescriptor("com.main", jpms.Origin{Dist: dist})
	alt.JarPath = altJar(dist.Path)
	alt.Packages.Add("com.main.api")
	alt.Exports["com.main.api"] = sets.New[string]()
	alt.Alternatives = map[string]*jpms.ModuleDescriptor{"open": nil}
	require.NoError(t, store.Save(alt))
	// The self-alternative marker routes the save to the sibling file.
	assert.FileExists(t, filepath.Join(filepath.Dir(dist.Path), "main-open.jar.descriptor"))

	main := mainDescriptor(store, dist, dep)
	main.Alternatives = map[string]*jpms.ModuleDescriptor{"open": alt}
	require.NoError(t, store.Save(main))

	fresh := NewStore(store.Registry, store.Platform, nil, metrics.NoopRecorder{})
	loaded, err := fresh.Load(ctx, dist, true)
	require.NoError(t, err)
	require.Contains(t, loaded.Alternatives, "open")
	require.NotNil(t, loaded.Alternatives["open"])
	assert.True(t, loaded.Alternatives["open"].Exports["com.main.api"].Equal(sets.New[string]()))
}

func TestSaveConcurrentWriters(t *testing.T) {
	store, dist, dep := storeFixture(t)
	require.NoError(t, store.Save(depDescriptor(dep)))
	src := mainDescriptor(store, dist, dep)

	// Each writer publishes its own complete temp file; whichever rename
	// lands last, a reader must never see partial bytes.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Save(src))
		}()
	}
	wg.Wait()

	fresh := NewStore(store.Registry, store.Platform, nil, metrics.NoopRecorder{})
	loaded, err := fresh.Load(context.Background(), dist, true)
	require.NoError(t, err)
	assert.Equal(t, "com.main", loaded.Name)

	entries, err := os.ReadDir(filepath.Dir(dist.Path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}
}

func TestSaveSkipsNonDistributions(t *testing.T) {
	store, _, _ := storeFixture(t)
	jmd := jpms.NewDescriptor("java.base", jpms.Origin{PlatformRelease: 21})
	assert.NoError(t, store.Save(jmd))
}

func altJar(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + "-alt" + ext
}
