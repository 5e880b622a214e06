// Package jpms models Java Platform Module System descriptors and the
// resolution rules between them: package visibility, implied readability
// through requires-transitive edges, and concealed-package widening.
package jpms

import (
	"fmt"
	"path/filepath"

	"git.home.luguber.info/inful/modbuild/internal/artifact"
	"git.home.luguber.info/inful/modbuild/internal/errors"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

// Requires modifiers. The transitive keyword is configurable per target
// platform (platform.Platform.TransitiveRequiresKeyword); ModTransitive is
// only the default spelling.
const (
	ModTransitive = "transitive"
	ModStatic     = "static"
)

// Visibility of a package in a module with respect to an importer.
type Visibility int

const (
	VisibilityAbsent Visibility = iota
	VisibilityExported
	VisibilityConcealed
)

func (v Visibility) String() string {
	switch v {
	case VisibilityExported:
		return "exported"
	case VisibilityConcealed:
		return "concealed"
	default:
		return "absent"
	}
}

// Origin identifies where a descriptor came from: a distribution, a
// library, or the target platform itself. Exactly one of the fields is set.
type Origin struct {
	Dist            *artifact.Distribution
	Lib             *artifact.Library
	PlatformRelease int // > 0 for a platform module of that release
}

// IsPlatform reports whether the descriptor belongs to the target platform.
func (o Origin) IsPlatform() bool { return o.PlatformRelease > 0 }

func (o Origin) validate(name string) error {
	n := 0
	if o.Dist != nil {
		n++
	}
	if o.Lib != nil {
		n++
	}
	if o.PlatformRelease > 0 {
		n++
	}
	if n != 1 {
		return errors.ConfigError("module %s must have exactly one of a distribution, library, or platform origin", name)
	}
	return nil
}

// ModuleDescriptor describes one Java module. It closely mirrors
// java.lang.module.ModuleDescriptor.
//
// Exports and Opens map a package to the set of target modules; an empty
// set denotes an unqualified export/open. Requires maps a module name to
// its modifier set. ConcealedRequires maps a module name to the concealed
// packages of that module this one reads without a matching export.
//
// ModulePath is a lookup list, not an ownership relation: descriptors are
// owned by a name-keyed registry and reference each other by pointer here
// only for convenience during resolution.
type ModuleDescriptor struct {
	Name              string
	Exports           map[string]sets.Set[string]
	Requires          map[string]sets.Set[string]
	ConcealedRequires map[string]sets.Set[string]
	Uses              sets.Set[string]
	Opens             map[string]sets.Set[string]
	Provides          map[string]sets.Set[string]
	Packages          sets.Set[string]

	JarPath      string
	Origin       Origin
	ModulePath   []*ModuleDescriptor
	Alternatives map[string]*ModuleDescriptor
}

// NewDescriptor constructs a descriptor and checks its structural
// invariants: a valid origin and exports that are a subset of the defined
// packages. When Packages is nil, the exported packages are used.
func NewDescriptor(name string, origin Origin) *ModuleDescriptor {
	return &ModuleDescriptor{
		Name:              name,
		Exports:           map[string]sets.Set[string]{},
		Requires:          map[string]sets.Set[string]{},
		ConcealedRequires: map[string]sets.Set[string]{},
		Uses:              sets.New[string](),
		Opens:             map[string]sets.Set[string]{},
		Provides:          map[string]sets.Set[string]{},
		Packages:          sets.New[string](),
		Origin:            origin,
	}
}

// Validate checks the descriptor invariants.
func (m *ModuleDescriptor) Validate() error {
	if m.Name == "" {
		return errors.ConfigError("module descriptor has no name")
	}
	if err := m.Origin.validate(m.Name); err != nil {
		return err
	}
	for pkg := range m.Exports {
		if !m.Packages.Has(pkg) {
			return errors.ConfigError("module %s exports package %s which it does not define", m.Name, pkg)
		}
	}
	return nil
}

// ExportedPackages returns the set of exported package names.
func (m *ModuleDescriptor) ExportedPackages() sets.Set[string] {
	out := sets.New[string]()
	for pkg := range m.Exports {
		out.Add(pkg)
	}
	return out
}

// Conceals returns the packages defined but not exported by this module.
// Always recomputed from Packages and Exports, never stored.
func (m *ModuleDescriptor) Conceals() sets.Set[string] {
	return m.Packages.Minus(m.ExportedPackages())
}

// PackageVisibility returns the visibility of pkg in this module with
// respect to importer ("" denotes the unnamed module). A qualified export
// that does not name the importer counts as concealed.
func (m *ModuleDescriptor) PackageVisibility(pkg, importer string) Visibility {
	if targets, ok := m.Exports[pkg]; ok {
		if len(targets) == 0 || targets.Has(importer) {
			return VisibilityExported
		}
		return VisibilityConcealed
	}
	if m.Packages.Has(pkg) {
		return VisibilityConcealed
	}
	return VisibilityAbsent
}

// LookupPackage searches modulepath for the module defining pkg and its
// visibility to importer. Returns (nil, VisibilityAbsent) when no module
// on the path defines the package.
func LookupPackage(modulepath []*ModuleDescriptor, pkg, importer string) (*ModuleDescriptor, Visibility) {
	for _, jmd := range modulepath {
		if vis := jmd.PackageVisibility(pkg, importer); vis != VisibilityAbsent {
			return jmd, vis
		}
	}
	return nil, VisibilityAbsent
}

// ExportKey identifies one required widening: a concealed package of a module.
type ExportKey struct {
	Module  string
	Package string
}

func (k ExportKey) String() string { return k.Module + "/" + k.Package }

// CollectRequiredExports adds this module's concealed requires to
// required, keyed by (module, package) and valued by the descriptors that
// need the widening. The aggregate is what later becomes --add-exports
// flags at run time.
func (m *ModuleDescriptor) CollectRequiredExports(required map[ExportKey]sets.Set[string]) {
	for module, packages := range m.ConcealedRequires {
		for pkg := range packages {
			key := ExportKey{Module: module, Package: pkg}
			if required[key] == nil {
				required[key] = sets.New[string]()
			}
			required[key].Add(m.Name)
		}
	}
}

// JmodPath returns the path of the .jmod file for this descriptor. For a
// distribution-derived module the file sits next to the distribution jar;
// platform modules live in the platform's jmods directory.
func (m *ModuleDescriptor) JmodPath(jmodsDir, altName string) string {
	switch {
	case m.Origin.Dist != nil:
		qualifier := ""
		if altName != "" {
			qualifier = "_" + altName
		}
		return filepath.Join(filepath.Dir(m.Origin.Dist.Path), m.Name+qualifier+".jmod")
	case m.JarPath != "":
		return filepath.Join(filepath.Dir(m.JarPath), m.Name+".jmod")
	default:
		return filepath.Join(jmodsDir, m.Name+".jmod")
	}
}

func (m *ModuleDescriptor) String() string {
	return fmt.Sprintf("module:%s", m.Name)
}
