// Package descriptorcache persists synthesized module descriptors next to
// their distribution jars so later builds and downstream resolutions can
// reuse them without re-synthesizing.
//
// Cross-references to other descriptors are stored as textual keys
// ("dist:<suite>:<name>", "lib:<suite>:<name>", or a bare platform module
// name) and resolved against the registry on load. The jar path is stored
// relative to the cache file so a relocated output directory stays
// coherent.
package descriptorcache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/modbuild/internal/artifact"
	"git.home.luguber.info/inful/modbuild/internal/automodule"
	"git.home.luguber.info/inful/modbuild/internal/errors"
	"git.home.luguber.info/inful/modbuild/internal/jpms"
	"git.home.luguber.info/inful/modbuild/internal/metrics"
	"git.home.luguber.info/inful/modbuild/internal/platform"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

const (
	distKeyPrefix = "dist:"
	libKeyPrefix  = "lib:"
)

// record is the on-disk JSON shape of a descriptor.
type record struct {
	Name              string              `json:"name"`
	Exports           map[string][]string `json:"exports,omitempty"`
	Requires          map[string][]string `json:"requires,omitempty"`
	ConcealedRequires map[string][]string `json:"concealedRequires,omitempty"`
	Uses              []string            `json:"uses,omitempty"`
	Opens             map[string][]string `json:"opens,omitempty"`
	Provides          map[string][]string `json:"provides,omitempty"`
	Packages          []string            `json:"packages,omitempty"`
	JarPath           string              `json:"jarPath,omitempty"`
	Dist              string              `json:"dist,omitempty"`
	ModulePath        []string            `json:"modulePath,omitempty"`
	// Alternatives maps an alternative name to true when a sibling cache
	// file holds its descriptor, or false when this record is itself that
	// alternative.
	Alternatives map[string]bool `json:"alternatives,omitempty"`
}

// Store loads and saves distribution descriptors.
type Store struct {
	Registry *artifact.Registry
	Platform *platform.Platform
	Libs     *automodule.Loader
	Metrics  metrics.Recorder

	memo map[string]*jpms.ModuleDescriptor
}

// NewStore creates a store with an empty memo.
func NewStore(reg *artifact.Registry, p *platform.Platform, libs *automodule.Loader, rec metrics.Recorder) *Store {
	return &Store{Registry: reg, Platform: p, Libs: libs, Metrics: rec, memo: map[string]*jpms.ModuleDescriptor{}}
}

// Path returns the cache file for a distribution's main descriptor.
func Path(dist *artifact.Distribution) string { return dist.Path + ".descriptor" }

// altPath derives the cache file of an alternative descriptor from the
// main one: foo.jar.descriptor becomes foo-<alt>.jar.descriptor.
func altPath(mainPath, altName string) string {
	const suffix = ".jar.descriptor"
	if strings.HasSuffix(mainPath, suffix) {
		return mainPath[:len(mainPath)-len(suffix)] + "-" + altName + suffix
	}
	return strings.TrimSuffix(mainPath, ".descriptor") + "-" + altName + ".descriptor"
}

// Created reports whether a saved descriptor exists for the distribution.
func (s *Store) Created(dist *artifact.Distribution) bool {
	if _, ok := s.memo[dist.ID()]; ok {
		return true
	}
	_, err := os.Stat(Path(dist))
	return err == nil
}

// Invalidate drops the memoized descriptor and the cache files for a
// distribution, forcing the next Load to miss.
func (s *Store) Invalidate(dist *artifact.Distribution) {
	delete(s.memo, dist.ID())
	os.Remove(Path(dist))
	if dist.ModuleInfo != nil {
		for altName := range dist.AltModuleInfos {
			os.Remove(altPath(Path(dist), altName))
		}
	}
}

// Put memoizes and persists a freshly synthesized descriptor.
func (s *Store) Put(dist *artifact.Distribution, jmd *jpms.ModuleDescriptor) error {
	if err := s.Save(jmd); err != nil {
		return err
	}
	s.memo[dist.ID()] = jmd
	return nil
}

// Load returns the saved descriptor for a distribution. When no
// descriptor has been created yet, required selects between an error and
// (nil, nil).
func (s *Store) Load(ctx context.Context, dist *artifact.Distribution, required bool) (*jpms.ModuleDescriptor, error) {
	if jmd, ok := s.memo[dist.ID()]; ok {
		return jmd, nil
	}
	jmd, err := s.loadFile(ctx, dist, Path(dist), required)
	if err != nil || jmd == nil {
		return nil, err
	}
	s.memo[dist.ID()] = jmd
	return jmd, nil
}

func (s *Store) loadFile(ctx context.Context, dist *artifact.Distribution, path string, required bool) (*jpms.ModuleDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if s.Metrics != nil {
				s.Metrics.IncDescriptorCacheMiss()
			}
			if required {
				return nil, errors.ConfigError("%s does not exist", path)
			}
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "reading descriptor "+path)
	}
	if s.Metrics != nil {
		s.Metrics.IncDescriptorCacheHit()
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, errors.SeverityFatal, "decoding descriptor "+path)
	}

	jmd := jpms.NewDescriptor(rec.Name, jpms.Origin{Dist: dist})
	for pkg, targets := range rec.Exports {
		jmd.Exports[pkg] = sets.New(targets...)
	}
	for dep, modifiers := range rec.Requires {
		jmd.Requires[dep] = sets.New(modifiers...)
	}
	for dep, packages := range rec.ConcealedRequires {
		jmd.ConcealedRequires[dep] = sets.New(packages...)
	}
	for pkg, targets := range rec.Opens {
		jmd.Opens[pkg] = sets.New(targets...)
	}
	for service, providers := range rec.Provides {
		jmd.Provides[service] = sets.New(providers...)
	}
	jmd.Uses.AddAll(sets.New(rec.Uses...))
	jmd.Packages.AddAll(sets.New(rec.Packages...))
	if rec.JarPath != "" {
		if filepath.IsAbs(rec.JarPath) {
			jmd.JarPath = rec.JarPath
		} else {
			jmd.JarPath = filepath.Join(filepath.Dir(path), rec.JarPath)
		}
	}

	for _, key := range rec.ModulePath {
		entry, err := s.resolveKey(ctx, key)
		if err != nil {
			return nil, err
		}
		jmd.ModulePath = append(jmd.ModulePath, entry)
	}

	if len(rec.Alternatives) > 0 {
		jmd.Alternatives = map[string]*jpms.ModuleDescriptor{}
		for altName, persisted := range rec.Alternatives {
			if !persisted {
				// This record is itself the alternative.
				jmd.Alternatives[altName] = nil
				continue
			}
			alt, err := s.loadFile(ctx, dist, altPath(path, altName), required)
			if err != nil {
				return nil, err
			}
			jmd.Alternatives[altName] = alt
		}
	}
	return jmd, nil
}

// resolveKey turns a persisted module path key back into a descriptor.
func (s *Store) resolveKey(ctx context.Context, key string) (*jpms.ModuleDescriptor, error) {
	switch {
	case strings.HasPrefix(key, distKeyPrefix):
		a, err := s.Registry.MustGet(strings.TrimPrefix(key, distKeyPrefix))
		if err != nil {
			return nil, err
		}
		dep, ok := a.(*artifact.Distribution)
		if !ok {
			return nil, errors.ConfigError("descriptor module path key %s does not name a distribution", key)
		}
		return s.Load(ctx, dep, true)
	case strings.HasPrefix(key, libKeyPrefix):
		a, err := s.Registry.MustGet(strings.TrimPrefix(key, libKeyPrefix))
		if err != nil {
			return nil, err
		}
		lib, ok := a.(*artifact.Library)
		if !ok {
			return nil, errors.ConfigError("descriptor module path key %s does not name a library", key)
		}
		return s.Libs.Describe(ctx, lib)
	default:
		m, ok := s.Platform.Module(key)
		if !ok {
			return nil, errors.ConfigError("descriptor references unknown platform module %s", key)
		}
		return m, nil
	}
}

// Save persists a descriptor next to its distribution jar. Descriptors
// without a distribution origin (platform modules, libraries) are not
// saved. The descriptor itself is never mutated; the record is an
// independent copy.
func (s *Store) Save(jmd *jpms.ModuleDescriptor) error {
	dist := jmd.Origin.Dist
	if dist == nil {
		return nil
	}
	path := Path(dist)
	if altName := selfAlternativeName(jmd); altName != "" {
		path = altPath(path, altName)
	}

	rec := record{
		Name:              jmd.Name,
		Exports:           setMapToSorted(jmd.Exports),
		Requires:          setMapToSorted(jmd.Requires),
		ConcealedRequires: setMapToSorted(jmd.ConcealedRequires),
		Uses:              sets.SortedStrings(jmd.Uses),
		Opens:             setMapToSorted(jmd.Opens),
		Provides:          setMapToSorted(jmd.Provides),
		Packages:          sets.SortedStrings(jmd.Packages),
		Dist:              dist.ID(),
	}
	if jmd.JarPath != "" {
		rel, err := filepath.Rel(filepath.Dir(path), jmd.JarPath)
		if err != nil {
			rel = jmd.JarPath
		}
		rec.JarPath = rel
	}
	for _, m := range jmd.ModulePath {
		rec.ModulePath = append(rec.ModulePath, descriptorKey(m))
	}
	if len(jmd.Alternatives) > 0 {
		rec.Alternatives = map[string]bool{}
		for altName, alt := range jmd.Alternatives {
			rec.Alternatives[altName] = alt != nil
		}
	}

	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.SeverityFatal, "encoding descriptor for "+jmd.Name)
	}
	// Each writer gets a private temp file; last rename wins and readers
	// never observe a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "writing descriptor "+path)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "writing descriptor "+path)
	}
	tmp.Chmod(0o644)
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "writing descriptor "+path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "renaming descriptor "+path)
	}
	return nil
}

// selfAlternativeName returns the alternative name when jmd is itself an
// alternative descriptor (a single alternatives entry with no value).
func selfAlternativeName(jmd *jpms.ModuleDescriptor) string {
	if len(jmd.Alternatives) != 1 {
		return ""
	}
	for name, v := range jmd.Alternatives {
		if v == nil {
			return name
		}
	}
	return ""
}

// descriptorKey is the persisted reference for a module path entry.
func descriptorKey(m *jpms.ModuleDescriptor) string {
	switch {
	case m.Origin.Dist != nil:
		return distKeyPrefix + m.Origin.Dist.ID()
	case m.Origin.Lib != nil:
		return libKeyPrefix + m.Origin.Lib.ID()
	default:
		return m.Name
	}
}

func setMapToSorted(m map[string]sets.Set[string]) map[string][]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = sets.SortedStrings(v)
	}
	return out
}
