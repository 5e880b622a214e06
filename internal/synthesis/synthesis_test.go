package synthesis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/modbuild/internal/artifact"
	"git.home.luguber.info/inful/modbuild/internal/descriptorcache"
	"git.home.luguber.info/inful/modbuild/internal/jpms"
	"git.home.luguber.info/inful/modbuild/internal/metrics"
	"git.home.luguber.info/inful/modbuild/internal/platform"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

// fakeTools stands in for javac and jmod. The javac stand-in drops a
// module-info.class into the staging directory the way the real compiler
// would.
type fakeTools struct {
	destDir   string
	javacRuns int
	jmodArgs  [][]string
}

func (f *fakeTools) Run(_ context.Context, tool string, args ...string) (string, error) {
	switch filepath.Base(tool) {
	case "javac":
		f.javacRuns++
		return "", os.WriteFile(filepath.Join(f.destDir, "module-info.class"), []byte("class"), 0o644)
	case "jmod":
		f.jmodArgs = append(f.jmodArgs, args)
		return "", nil
	default:
		return "", fmt.Errorf("unexpected tool %s", tool)
	}
}

type noDeps struct{}

func (noDeps) Descriptor(a artifact.Artifact) (*jpms.ModuleDescriptor, error) {
	return nil, fmt.Errorf("unexpected descriptor request for %s", a.ID())
}
func (noDeps) Available(artifact.Artifact) bool { return false }

func synthPlatform(t *testing.T, jmodsDir string) *platform.Platform {
	t.Helper()
	p, err := platform.Parse([]byte(`
release: 21
javac: javac
java: java
jmod: jmod
jmodsDir: `+jmodsDir+`
modules:
  - name: java.base
    exports:
      java.lang: []
    packages:
      - jdk.internal.misc
  - name: java.logging
    exports:
      java.util.logging: []
`), "test")
	require.NoError(t, err)
	return p
}

func synthFixture(t *testing.T) (*Synthesizer, *artifact.Distribution, *Archive, *fakeTools) {
	t.Helper()
	dir := t.TempDir()
	jmodsDir := filepath.Join(dir, "jmods")
	require.NoError(t, os.MkdirAll(jmodsDir, 0o755))

	dist := &artifact.Distribution{
		Name: "APP", Suite: "s", Path: filepath.Join(dir, "app.jar"),
		ModuleInfo: &artifact.ModuleInfoSpec{
			Name:    "com.app",
			Exports: []string{"com.app.api"},
			Uses:    []string{"com.app.spi.Handler"},
			RequiresConcealed: map[string]any{
				"java.base": []any{"jdk.internal.misc"},
			},
		},
		ProjectIDs: []string{"s:main"},
	}
	project := &artifact.Project{
		Name: "main", Suite: "s",
		Packages:         []string{"com.app.api", "com.app.impl"},
		ImportedPackages: []string{"java.util.logging"},
	}
	reg := artifact.NewRegistry()
	require.NoError(t, reg.Add(dist))
	require.NoError(t, reg.Add(project))

	staging := dist.Path + ".staging"
	archive := &Archive{StagingDir: staging, Entries: map[string]string{}}
	for rel, content := range map[string]string{
		"com/app/api/Api.class":                 "api",
		"com/app/impl/Impl.class":               "impl",
		"META-INF/services/com.app.spi.Handler": "com.app.impl.Impl\n",
	} {
		archive.Entries[rel] = writeStaged(t, staging, rel, content)
	}

	p := synthPlatform(t, jmodsDir)
	tools := &fakeTools{destDir: staging}
	s := &Synthesizer{
		Registry:   reg,
		Platform:   p,
		Store:      descriptorcache.NewStore(reg, p, nil, metrics.NoopRecorder{}),
		Runner:     tools,
		Source:     noDeps{},
		Metrics:    metrics.NoopRecorder{},
		TargetOS:   "linux",
		TargetArch: "amd64",
	}
	return s, dist, archive, tools
}

func TestSynthesizeSingleVersion(t *testing.T) {
	s, dist, archive, tools := synthFixture(t)

	jmd, err := s.Synthesize(context.Background(), dist, archive)
	require.NoError(t, err)
	require.NotNil(t, jmd)

	assert.Equal(t, "com.app", jmd.Name)
	assert.True(t, jmd.Packages.Equal(sets.New("com.app.api", "com.app.impl")))
	assert.True(t, jmd.Exports["com.app.api"].Equal(sets.New[string]()))
	assert.NotContains(t, jmd.Exports, "com.app.impl")
	assert.True(t, jmd.Uses.Has("com.app.spi.Handler"))
	assert.True(t, jmd.Provides["com.app.spi.Handler"].Equal(sets.New("com.app.impl.Impl")))
	assert.True(t, jmd.ConcealedRequires["java.base"].Equal(sets.New("jdk.internal.misc")))
	// java.util.logging is imported without a declared requires; the
	// missing entry is added automatically.
	assert.True(t, jmd.Requires["java.logging"].Equal(sets.New[string]()))

	// One baseline descriptor, compiled once, packaged once.
	assert.Equal(t, 1, tools.javacRuns)
	require.Len(t, tools.jmodArgs, 1)
	assert.Equal(t, "create", tools.jmodArgs[0][0])
	assert.Contains(t, tools.jmodArgs[0], "--target-platform=linux-amd64")
	assert.Contains(t, tools.jmodArgs[0], filepath.Join(filepath.Dir(dist.Path), "com.app.jmod"))

	// module-info.class is staged for packaging and the sources are gone.
	staged, ok := archive.Entries["module-info.class"]
	require.True(t, ok)
	assert.FileExists(t, staged)
	assert.NoFileExists(t, filepath.Join(archive.StagingDir, "module-info.java"))
	assert.NoFileExists(t, filepath.Join(archive.StagingDir, "module-info.class"))

	// The services directory is back after jmod packaging hid it.
	assert.DirExists(t, filepath.Join(archive.StagingDir, "META-INF", "services"))

	// The descriptor is persisted next to the jar.
	assert.FileExists(t, dist.Path+".descriptor")
	loaded, err := s.Store.Load(context.Background(), dist, true)
	require.NoError(t, err)
	assert.Equal(t, "com.app", loaded.Name)
}

func TestSynthesizeMultiRelease(t *testing.T) {
	s, dist, archive, tools := synthFixture(t)
	dist.MultiRelease = true
	overlay := writeStaged(t, archive.StagingDir, "META-INF/versions/11/com/app/impl/Impl.class", "impl11")
	archive.Entries["META-INF/versions/11/com/app/impl/Impl.class"] = overlay

	jmd, err := s.Synthesize(context.Background(), dist, archive)
	require.NoError(t, err)
	require.NotNil(t, jmd)

	// A common baseline plus one versioned descriptor.
	assert.Equal(t, 2, tools.javacRuns)
	assert.Len(t, tools.jmodArgs, 1)
	assert.Contains(t, archive.Entries, "module-info.class")
	assert.Contains(t, archive.Entries, "META-INF/versions/11/module-info.class")

	// The overlay flattening was undone after each version.
	base, err := os.ReadFile(filepath.Join(archive.StagingDir, "com", "app", "impl", "Impl.class"))
	require.NoError(t, err)
	assert.Equal(t, "impl", string(base))
}

func TestSynthesizeAlternatives(t *testing.T) {
	s, dist, archive, tools := synthFixture(t)
	dist.AltModuleInfos = map[string]*artifact.ModuleInfoSpec{
		"closed": {Name: "com.app"},
	}

	jmd, err := s.Synthesize(context.Background(), dist, archive)
	require.NoError(t, err)
	require.NotNil(t, jmd)

	require.Contains(t, jmd.Alternatives, "closed")
	alt := jmd.Alternatives["closed"]
	require.NotNil(t, alt)
	// The alternative has its own exports (none declared here) and jar.
	assert.Empty(t, alt.Exports)
	assert.Equal(t, altJarPath(dist.Path, "closed"), alt.JarPath)
	assert.Equal(t, dist.Path, jmd.JarPath)

	// Alternative and main are both compiled and packaged.
	assert.Equal(t, 2, tools.javacRuns)
	assert.Len(t, tools.jmodArgs, 2)
	// The alternative descriptor lands in a sibling cache file.
	assert.FileExists(t, filepath.Join(filepath.Dir(dist.Path), "app-closed.jar.descriptor"))
}

func TestSynthesizeImportScanning(t *testing.T) {
	s, dist, archive, _ := synthFixture(t)
	dist.UseSourceImports = true
	dist.ModuleInfo.RequiresConcealed = nil
	a, err := s.Registry.MustGet("s:main")
	require.NoError(t, err)
	project := a.(*artifact.Project)
	project.ImportedPackages = []string{"java.util.logging", "jdk.internal.misc"}

	jmd, err := s.Synthesize(context.Background(), dist, archive)
	require.NoError(t, err)
	require.NotNil(t, jmd)

	// Imports are the source of truth in this mode: an exported package
	// becomes a plain requires, a concealed one a concealedRequires entry.
	require.Contains(t, jmd.ConcealedRequires, "java.base")
	assert.True(t, jmd.ConcealedRequires["java.base"].Equal(sets.New("jdk.internal.misc")))
	assert.Contains(t, jmd.Requires, "java.base")
	assert.True(t, jmd.Requires["java.logging"].Equal(sets.New[string]()))
}

func TestSynthesizeNonModule(t *testing.T) {
	s, _, archive, _ := synthFixture(t)
	plain := &artifact.Distribution{Name: "PLAIN", Suite: "s", Path: "/out/plain.jar"}
	jmd, err := s.Synthesize(context.Background(), plain, archive)
	require.NoError(t, err)
	assert.Nil(t, jmd)
}

func TestSynthesizeExportOfMissingPackageDir(t *testing.T) {
	s, dist, archive, _ := synthFixture(t)
	require.NoError(t, os.RemoveAll(filepath.Join(archive.StagingDir, "com", "app", "api")))

	_, err := s.Synthesize(context.Background(), dist, archive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "com.app.api")
}
