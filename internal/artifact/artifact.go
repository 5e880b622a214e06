// Package artifact models the build artifacts the module engine operates
// on: jar distributions, third-party libraries, and source projects, plus
// the dependency graph between them.
//
// The artifact kinds form a closed tagged union discriminated once at the
// graph-walk boundary; capability queries (ProvidesModule,
// DefinedPackages, RuntimeRequires) replace per-call-site type switches.
package artifact

import "fmt"

// Kind discriminates the closed set of artifact types.
type Kind int

const (
	KindDistribution Kind = iota
	KindLibrary
	KindProject
)

func (k Kind) String() string {
	switch k {
	case KindDistribution:
		return "distribution"
	case KindLibrary:
		return "library"
	default:
		return "project"
	}
}

// Artifact is the closed interface over distributions, libraries, and
// projects.
type Artifact interface {
	// ID is the registry key: "<suite>:<name>".
	ID() string
	ArtifactName() string
	Kind() Kind

	// ProvidesModule reports whether the artifact can appear on a module
	// path under its own name (a module-defining distribution, or any
	// library, which can at worst become an automatic module).
	ProvidesModule() bool

	// DefinedPackages are the Java packages whose classes the artifact
	// contains.
	DefinedPackages() []string

	// RuntimeRequires are module names needed only at run time; they
	// become requires static edges.
	RuntimeRequires() []string

	// DepIDs are the IDs of direct dependencies together with edge kinds.
	DepIDs() []Dep
}

// EdgeKind classifies a dependency edge.
type EdgeKind int

const (
	EdgeDefault EdgeKind = iota
	// EdgeAnnotationProcessor marks compile-time annotation processor
	// dependencies; never module-relevant.
	EdgeAnnotationProcessor
	// EdgeBuildOnly marks tool/build dependencies; never module-relevant.
	EdgeBuildOnly
	// EdgeExcluded marks a library excluded from a distribution's archive;
	// such libraries still appear on the module path as separate modules.
	EdgeExcluded
)

// Dep is one outgoing dependency declaration.
type Dep struct {
	ID   string
	Kind EdgeKind
}

// ModuleInfoSpec is the explicit descriptor control attached to a
// distribution. All fields are optional except Name.
type ModuleInfoSpec struct {
	Name string `yaml:"name"`
	// Exports entries: "pkg", "pkg.*", "<package-info>", "pkg to mod1,mod2".
	Exports []string `yaml:"exports"`
	// Opens entries use the same grammar minus the sentinel.
	Opens []string `yaml:"opens"`
	// Requires entries: "name" or "transitive name" / "static name";
	// explicit modifiers override the resolver's defaults.
	Requires []string `yaml:"requires"`
	Uses     []string `yaml:"uses"`
	// RequiresConcealed: module (optionally "name@<range>") to "*" or
	// package list (each optionally suffixed "?").
	RequiresConcealed map[string]any `yaml:"requiresConcealed"`
	// IgnoredServiceTypes are service types whose META-INF/services files
	// are skipped when computing provides.
	IgnoredServiceTypes []string `yaml:"ignoredServiceTypes"`
}

// Distribution is a packaged jar built from constituent projects and
// libraries. A distribution defines a module when ModuleInfo is present.
type Distribution struct {
	Name  string `yaml:"name"`
	Suite string `yaml:"suite"`
	// Path of the distribution jar; the staged (exploded) archive contents
	// live in a sibling directory owned by the packaging collaborator.
	Path       string          `yaml:"path"`
	ModuleInfo *ModuleInfoSpec `yaml:"moduleInfo"`
	// AltModuleInfos are alternate module-info variants; only exports may
	// differ from the main ModuleInfo.
	AltModuleInfos map[string]*ModuleInfoSpec `yaml:"altModuleInfos"`
	// DistDeps name dependency distributions/libraries (IDs).
	DistDeps []string `yaml:"distDependencies"`
	// ExcludedLibs name libraries excluded from the archive but required
	// on the module path.
	ExcludedLibs []string `yaml:"exclude"`
	// ProjectIDs name the constituent projects bundled into the archive.
	ProjectIDs []string `yaml:"projects"`
	// MultiRelease marks the archive as a multi-release jar.
	MultiRelease bool `yaml:"multiRelease"`
	// UseSourceImports selects import scanning instead of declared
	// requires/requiresConcealed attributes (compatibility switch).
	UseSourceImports bool `yaml:"useSourceImports"`
}

func (d *Distribution) ID() string           { return d.Suite + ":" + d.Name }
func (d *Distribution) ArtifactName() string { return d.Name }
func (d *Distribution) Kind() Kind           { return KindDistribution }
func (d *Distribution) ProvidesModule() bool { return d.ModuleName() != "" }

// ModuleName returns the declared module name, or "" when the
// distribution does not define a module.
func (d *Distribution) ModuleName() string {
	if d.ModuleInfo == nil {
		return ""
	}
	return d.ModuleInfo.Name
}

func (d *Distribution) DefinedPackages() []string { return nil }
func (d *Distribution) RuntimeRequires() []string { return nil }

func (d *Distribution) DepIDs() []Dep {
	deps := make([]Dep, 0, len(d.DistDeps)+len(d.ExcludedLibs)+len(d.ProjectIDs))
	for _, id := range d.DistDeps {
		deps = append(deps, Dep{ID: id, Kind: EdgeDefault})
	}
	for _, id := range d.ExcludedLibs {
		deps = append(deps, Dep{ID: id, Kind: EdgeExcluded})
	}
	for _, id := range d.ProjectIDs {
		deps = append(deps, Dep{ID: id, Kind: EdgeDefault})
	}
	return deps
}

// DescriptorPath is the descriptor cache file for this distribution.
func (d *Distribution) DescriptorPath() string { return d.Path + ".descriptor" }

// Library is a prebuilt third-party jar. Libraries without a module-info
// participate as automatic modules.
type Library struct {
	Name  string `yaml:"name"`
	Suite string `yaml:"suite"`
	Path  string `yaml:"path"`
	// ModuleName overrides automatic module name derivation.
	ModuleName string   `yaml:"moduleName"`
	Packages   []string `yaml:"packages"`
	// Requires / RequiresConcealed mirror the distribution attributes for
	// libraries repackaged into a module.
	Requires          []string       `yaml:"requires"`
	RequiresConcealed map[string]any `yaml:"requiresConcealed"`
	RuntimeDeps       []string       `yaml:"runtimeDeps"`
	Uses              []string       `yaml:"uses"`
	// Exports entries use the distribution export grammar; only meaningful
	// for libraries repackaged with an explicit module-info.
	Exports []string `yaml:"exports"`
}

func (l *Library) ID() string                { return l.Suite + ":" + l.Name }
func (l *Library) ArtifactName() string      { return l.Name }
func (l *Library) Kind() Kind                { return KindLibrary }
func (l *Library) ProvidesModule() bool      { return true }
func (l *Library) DefinedPackages() []string { return l.Packages }
func (l *Library) RuntimeRequires() []string { return l.RuntimeDeps }
func (l *Library) DepIDs() []Dep             { return nil }

// Project is a compiled source project; its class output is bundled into
// a distribution. Projects never appear on a module path themselves.
type Project struct {
	Name  string `yaml:"name"`
	Suite string `yaml:"suite"`
	// OutputDir holds the compiled classes and resources.
	OutputDir string   `yaml:"outputDir"`
	Packages  []string `yaml:"packages"`
	// PackageInfoPackages are the packages carrying a package-info.java
	// doc unit, selected by the <package-info> export sentinel.
	PackageInfoPackages []string `yaml:"packageInfoPackages"`
	// ImportedPackages are the foreign packages the sources import,
	// produced by the compiler's dependency analysis.
	ImportedPackages []string `yaml:"imports"`
	Uses             []string `yaml:"uses"`
	RuntimeDeps      []string `yaml:"runtimeDeps"`
	// Requires / RequiresConcealed declared module usage (used when the
	// owning distribution does not scan imports).
	Requires          []string       `yaml:"requires"`
	RequiresConcealed map[string]any `yaml:"requiresConcealed"`
	Exports           []string       `yaml:"exports"`
	// MultiReleaseVersion > 0 places the project's output under the
	// versioned overlay for that platform release.
	MultiReleaseVersion int      `yaml:"multiReleaseJarVersion"`
	DepNames            []string `yaml:"dependencies"`
	APDeps              []string `yaml:"annotationProcessors"`
}

func (p *Project) ID() string                { return p.Suite + ":" + p.Name }
func (p *Project) ArtifactName() string      { return p.Name }
func (p *Project) Kind() Kind                { return KindProject }
func (p *Project) ProvidesModule() bool      { return false }
func (p *Project) DefinedPackages() []string { return p.Packages }
func (p *Project) RuntimeRequires() []string { return p.RuntimeDeps }

func (p *Project) DepIDs() []Dep {
	deps := make([]Dep, 0, len(p.DepNames)+len(p.APDeps))
	for _, id := range p.DepNames {
		deps = append(deps, Dep{ID: id, Kind: EdgeDefault})
	}
	for _, id := range p.APDeps {
		deps = append(deps, Dep{ID: id, Kind: EdgeAnnotationProcessor})
	}
	return deps
}

// Registry owns all artifacts of a build, keyed by ID. Descriptors and
// module paths reference artifacts through the registry rather than
// holding ownership of each other.
type Registry struct {
	byID map[string]Artifact
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: map[string]Artifact{}}
}

// Add registers an artifact. Duplicate IDs are an error.
func (r *Registry) Add(a Artifact) error {
	if _, exists := r.byID[a.ID()]; exists {
		return fmt.Errorf("duplicate artifact %s", a.ID())
	}
	r.byID[a.ID()] = a
	return nil
}

// Get returns the artifact with the given ID.
func (r *Registry) Get(id string) (Artifact, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// MustGet returns the artifact or an error naming the missing ID.
func (r *Registry) MustGet(id string) (Artifact, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown artifact %s", id)
	}
	return a, nil
}

// All returns every registered artifact in unspecified order.
func (r *Registry) All() []Artifact {
	out := make([]Artifact, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a)
	}
	return out
}

// Distributions returns all registered distributions.
func (r *Registry) Distributions() []*Distribution {
	var out []*Distribution
	for _, a := range r.byID {
		if d, ok := a.(*Distribution); ok {
			out = append(out, d)
		}
	}
	return out
}
