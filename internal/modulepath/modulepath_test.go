package modulepath

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/modbuild/internal/artifact"
	"git.home.luguber.info/inful/modbuild/internal/jpms"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

type fakeSource struct {
	descs map[string]*jpms.ModuleDescriptor
}

func (f *fakeSource) Descriptor(a artifact.Artifact) (*jpms.ModuleDescriptor, error) {
	jmd, ok := f.descs[a.ID()]
	if !ok {
		return nil, fmt.Errorf("no descriptor for %s", a.ID())
	}
	return jmd, nil
}

func (f *fakeSource) Available(a artifact.Artifact) bool {
	_, ok := f.descs[a.ID()]
	return ok
}

func desc(name string, requires map[string][]string) *jpms.ModuleDescriptor {
	jmd := jpms.NewDescriptor(name, jpms.Origin{PlatformRelease: 21})
	for dep, mods := range requires {
		jmd.Requires[dep] = sets.New(mods...)
	}
	return jmd
}

// pathFixture builds:
//
//	dist s:ROOT (com.root) -> dist s:A, excluded lib s:excl, project s:rp
//	dist s:A (com.a, requires transitive com.b) -> dist s:B
//	dist s:B (com.b)
//	project s:rp -> dist s:C, lib s:plib (bundled, never on the path)
//	dist s:C (com.c)
func pathFixture(t *testing.T) (*artifact.Registry, *artifact.Distribution, *fakeSource) {
	t.Helper()
	reg := artifact.NewRegistry()
	root := &artifact.Distribution{
		Name: "ROOT", Suite: "s", Path: "/out/root.jar",
		ModuleInfo:   &artifact.ModuleInfoSpec{Name: "com.root"},
		DistDeps:     []string{"s:A"},
		ExcludedLibs: []string{"s:excl"},
		ProjectIDs:   []string{"s:rp"},
	}
	for _, a := range []artifact.Artifact{
		root,
		&artifact.Distribution{Name: "A", Suite: "s", Path: "/out/a.jar",
			ModuleInfo: &artifact.ModuleInfoSpec{Name: "com.a"}, DistDeps: []string{"s:B"}},
		&artifact.Distribution{Name: "B", Suite: "s", Path: "/out/b.jar",
			ModuleInfo: &artifact.ModuleInfoSpec{Name: "com.b"}},
		&artifact.Distribution{Name: "C", Suite: "s", Path: "/out/c.jar",
			ModuleInfo: &artifact.ModuleInfoSpec{Name: "com.c"}},
		&artifact.Project{Name: "rp", Suite: "s", DepNames: []string{"s:C", "s:plib"}},
		&artifact.Library{Name: "excl", Suite: "s", Path: "/libs/excl.jar"},
		&artifact.Library{Name: "plib", Suite: "s", Path: "/libs/plib.jar"},
	} {
		require.NoError(t, reg.Add(a))
	}
	source := &fakeSource{descs: map[string]*jpms.ModuleDescriptor{
		"s:A":    desc("com.a", map[string][]string{"com.b": {jpms.ModTransitive}}),
		"s:B":    desc("com.b", nil),
		"s:C":    desc("com.c", nil),
		"s:excl": desc("excl.auto", nil),
		"s:plib": desc("plib.auto", nil),
	}}
	return reg, root, source
}

func entryByID(entries []*Entry, id string) *Entry {
	for _, e := range entries {
		if e.Artifact.ID() == id {
			return e
		}
	}
	return nil
}

func TestEntriesResolution(t *testing.T) {
	reg, root, source := pathFixture(t)
	entries, err := Entries(reg, []artifact.Artifact{root}, source, jpms.ModTransitive,
		Options{IncludeProjects: true})
	require.NoError(t, err)

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Artifact.ID()
	}
	// The root itself is excluded, s:plib is bundled, s:C arrives through
	// the project pass.
	assert.ElementsMatch(t, []string{"s:A", "s:B", "s:C", "s:excl"}, ids)

	a := entryByID(entries, "s:A")
	require.Contains(t, a.Direct, "s:ROOT")
	// The root's descriptor is mid-synthesis, so its requires default.
	assert.Empty(t, a.Direct["s:ROOT"])
	assert.Empty(t, a.Indirect)

	b := entryByID(entries, "s:B")
	require.Contains(t, b.Direct, "s:A")
	// A re-exports com.b, so B is readable transitively.
	assert.True(t, b.Direct["s:A"].Has(jpms.ModTransitive))
	assert.True(t, b.Indirect.Has(jpms.ModTransitive))

	c := entryByID(entries, "s:C")
	// The project edge is attributed to the declaring distribution.
	require.Contains(t, c.Direct, "s:ROOT")
	assert.Empty(t, c.Indirect)
}

func TestEntriesWithoutProjectPass(t *testing.T) {
	reg, root, source := pathFixture(t)
	entries, err := Entries(reg, []artifact.Artifact{root}, source, jpms.ModTransitive, Options{})
	require.NoError(t, err)
	assert.Nil(t, entryByID(entries, "s:C"), "project-only dependencies need the second pass")
	assert.NotNil(t, entryByID(entries, "s:A"))
}

func TestEntriesIncludeSelf(t *testing.T) {
	reg, root, source := pathFixture(t)
	entries, err := Entries(reg, []artifact.Artifact{root}, source, jpms.ModTransitive,
		Options{IncludeSelf: true, IncludeProjects: true})
	require.NoError(t, err)
	assert.NotNil(t, entryByID(entries, "s:ROOT"))
}

func TestEntriesExcludes(t *testing.T) {
	reg, root, source := pathFixture(t)
	entries, err := Entries(reg, []artifact.Artifact{root}, source, jpms.ModTransitive,
		Options{IncludeProjects: true, Excludes: []string{"s:A"}})
	require.NoError(t, err)
	assert.Nil(t, entryByID(entries, "s:A"))
	// B is only reachable through A.
	assert.Nil(t, entryByID(entries, "s:B"))
}

func TestEntriesRootExcludedIsError(t *testing.T) {
	reg, root, source := pathFixture(t)
	_, err := Entries(reg, []artifact.Artifact{root}, source, jpms.ModTransitive,
		Options{Excludes: []string{"s:ROOT"}})
	assert.Error(t, err)
}

func TestEntriesEmptyRoots(t *testing.T) {
	reg, _, source := pathFixture(t)
	entries, err := Entries(reg, nil, source, jpms.ModTransitive, Options{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
