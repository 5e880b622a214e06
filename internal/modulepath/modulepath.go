// Package modulepath computes which artifacts must appear on the module
// path for a given root set, and with what requires modifiers each entry
// is reachable.
package modulepath

import (
	"git.home.luguber.info/inful/modbuild/internal/artifact"
	"git.home.luguber.info/inful/modbuild/internal/errors"
	"git.home.luguber.info/inful/modbuild/internal/jpms"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

// DescriptorSource supplies module descriptors for artifacts during
// resolution. Resolution and descriptor synthesis are mutually recursive
// (a root's own descriptor is being synthesized while its module path is
// computed), so availability is queried separately.
type DescriptorSource interface {
	// Descriptor returns the descriptor of a module-providing artifact.
	Descriptor(a artifact.Artifact) (*jpms.ModuleDescriptor, error)
	// Available reports whether Descriptor can be answered for a without
	// triggering synthesis.
	Available(a artifact.Artifact) bool
}

// Entry is one module path entry for a root set.
//
// Direct maps the ID of each artifact that directly depends on this entry
// to the modifiers of its requires directive (nil for the synthetic root
// backedge whose requires are not yet known). Indirect is non-empty when
// the entry is reachable via requires-transitive edges from other module
// path entries, carrying exactly the transitive keyword in that case.
type Entry struct {
	Artifact artifact.Artifact
	Direct   map[string]sets.Set[string]
	Indirect sets.Set[string]
}

// Options control Entries.
type Options struct {
	// IncludeSelf includes root artifacts themselves in the result.
	IncludeSelf bool
	// IncludeProjects runs a second pass that also walks the projects of
	// the root distributions, discovering module dependencies only
	// reachable through project edges.
	IncludeProjects bool
	// Excludes are artifact IDs pruned from the walk entirely.
	Excludes []string
}

// Entries computes the transitive set of artifacts that must be on the
// module path for roots, each with the artifacts that directly require it
// and its indirect transitive modifiers.
//
// Explicit requires-transitive edges in already-synthesized descriptors
// count as additional dependency edges: declared dependencies need not
// repeat what a dependency already re-exports.
func Entries(reg *artifact.Registry, roots []artifact.Artifact, source DescriptorSource, transitiveKeyword string, opts Options) ([]*Entry, error) {
	if len(roots) == 0 {
		return nil, nil
	}
	inRoots := map[string]bool{}
	for _, r := range roots {
		inRoots[r.ID()] = true
	}
	excluded := map[string]bool{}
	for _, id := range opts.Excludes {
		if inRoots[id] {
			return nil, errors.ConfigError("module path root %s is also excluded", id)
		}
		excluded[id] = true
	}

	// The root distribution's own descriptor is usually mid-synthesis and
	// cannot be consulted; its requires default and are overridden later
	// by the explicit attributes.
	unavailableRootDist := func(a artifact.Artifact) bool {
		d, ok := a.(*artifact.Distribution)
		if !ok || !inRoots[a.ID()] {
			return false
		}
		return len(roots) == 1 || !source.Available(d)
	}

	// dst ID -> src ID -> default modifiers recorded while walking.
	backedgesByDep := map[string]map[string]sets.Set[string]{}
	// module name -> src ID -> modifiers, from explicit requires-transitive.
	backedgesByName := map[string]map[string]sets.Set[string]{}
	srcByID := map[string]artifact.Artifact{}

	var entries []*Entry
	entryIndex := map[string]*Entry{}
	var visitErr error

	visitEdge := func(src, dst artifact.Artifact, edge *artifact.Edge) {
		if edge == nil {
			return
		}
		if _, ok := dst.(*artifact.Project); ok {
			return
		}
		srcMod := src
		if p, isProj := src.(*artifact.Project); isProj {
			if owner := reg.DeclaringModuleDistribution(p); owner != nil {
				srcMod = owner
			}
		}
		srcs := backedgesByDep[dst.ID()]
		if srcs == nil {
			srcs = map[string]sets.Set[string]{}
			backedgesByDep[dst.ID()] = srcs
		}
		if srcs[srcMod.ID()] == nil {
			srcs[srcMod.ID()] = sets.New[string]()
		}
		srcByID[srcMod.ID()] = srcMod
	}

	preVisit := func(visitProjects bool) func(dst artifact.Artifact, edge *artifact.Edge) bool {
		return func(dst artifact.Artifact, edge *artifact.Edge) bool {
			if excluded[dst.ID()] {
				return false
			}
			if inRoots[dst.ID()] {
				return true
			}
			if edge != nil {
				if _, isLib := dst.(*artifact.Library); isLib {
					// Libraries are bundled into distributions by default;
					// only excluded ones stand alone on the module path.
					switch edge.Src.(type) {
					case *artifact.Distribution:
						return edge.Kind == artifact.EdgeExcluded
					case *artifact.Project:
						return false
					}
				}
				if _, srcIsDist := edge.Src.(*artifact.Distribution); srcIsDist {
					if _, dstIsProj := dst.(*artifact.Project); dstIsProj {
						// Only projects of the root distributions matter;
						// visited distributions contribute descriptors.
						_, srcIsDep := backedgesByDep[edge.Src.ID()]
						return visitProjects && !srcIsDep
					}
				}
			}
			return true
		}
	}

	visit := func(dep artifact.Artifact, edge *artifact.Edge) {
		if visitErr != nil {
			return
		}
		if !opts.IncludeSelf && inRoots[dep.ID()] {
			return
		}
		if !dep.ProvidesModule() {
			return
		}
		if _, exists := entryIndex[dep.ID()]; !exists {
			e := &Entry{Artifact: dep, Direct: map[string]sets.Set[string]{}}
			for srcID := range backedgesByDep[dep.ID()] {
				e.Direct[srcID] = nil
			}
			entryIndex[dep.ID()] = e
			entries = append(entries, e)
		}
		if !unavailableRootDist(dep) {
			jmd, err := source.Descriptor(dep)
			if err != nil {
				visitErr = err
				return
			}
			for name, modifiers := range jmd.Requires {
				if modifiers.Has(transitiveKeyword) {
					if backedgesByName[name] == nil {
						backedgesByName[name] = map[string]sets.Set[string]{}
					}
					backedgesByName[name][dep.ID()] = modifiers
					srcByID[dep.ID()] = dep
				}
			}
		}
	}

	walk := func(visitProjects bool) error {
		return artifact.WalkDeps(reg, roots, artifact.Visitor{
			PreVisit:  preVisit(visitProjects),
			Visit:     visit,
			VisitEdge: visitEdge,
		}, artifact.EdgeAnnotationProcessor, artifact.EdgeBuildOnly)
	}
	// Module information should come from distributions; projects are only
	// walked in the second pass to catch dependencies missing from the
	// declared distribution dependencies.
	if err := walk(false); err != nil {
		return nil, err
	}
	if visitErr != nil {
		return nil, visitErr
	}
	if opts.IncludeProjects {
		if err := walk(true); err != nil {
			return nil, err
		}
		if visitErr != nil {
			return nil, visitErr
		}
	}

	resolveDirect := func(dep artifact.Artifact, srcID string, defaultRequires sets.Set[string]) (sets.Set[string], error) {
		src := srcByID[srcID]
		if src == nil || !src.ProvidesModule() {
			return nil, nil
		}
		if unavailableRootDist(src) {
			if defaultRequires != nil {
				return defaultRequires, nil
			}
			return backedgesByDep[dep.ID()][srcID], nil
		}
		dstDesc, err := source.Descriptor(dep)
		if err != nil {
			return nil, err
		}
		srcDesc, err := source.Descriptor(src)
		if err != nil {
			return nil, err
		}
		return srcDesc.Requires[dstDesc.Name], nil
	}

	for _, e := range entries {
		srcs := map[string]sets.Set[string]{}
		for srcID := range e.Direct {
			srcs[srcID] = backedgesByDep[e.Artifact.ID()][srcID]
		}
		if d, isDist := e.Artifact.(*artifact.Distribution); isDist {
			for srcID, modifiers := range backedgesByName[d.ModuleName()] {
				if existing, ok := srcs[srcID]; ok && existing != nil {
					srcs[srcID] = existing.Union(modifiers)
				} else {
					srcs[srcID] = modifiers
				}
			}
		}
		e.Direct = map[string]sets.Set[string]{}
		e.Indirect = sets.New[string]()
		for srcID, defaults := range srcs {
			resolved, err := resolveDirect(e.Artifact, srcID, defaults)
			if err != nil {
				return nil, err
			}
			e.Direct[srcID] = resolved
			if resolved.Has(transitiveKeyword) {
				e.Indirect.Add(transitiveKeyword)
			}
		}
	}
	return entries, nil
}
