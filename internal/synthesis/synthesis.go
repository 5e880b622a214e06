// Package synthesis builds a module descriptor for a distribution,
// compiles its module-info.class for every multi-release version, and
// packages the matching .jmod.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/modbuild/internal/artifact"
	"git.home.luguber.info/inful/modbuild/internal/automodule"
	"git.home.luguber.info/inful/modbuild/internal/compliance"
	"git.home.luguber.info/inful/modbuild/internal/descriptorcache"
	"git.home.luguber.info/inful/modbuild/internal/errors"
	"git.home.luguber.info/inful/modbuild/internal/jpms"
	"git.home.luguber.info/inful/modbuild/internal/metrics"
	"git.home.luguber.info/inful/modbuild/internal/modulepath"
	"git.home.luguber.info/inful/modbuild/internal/observability"
	"git.home.luguber.info/inful/modbuild/internal/platform"
	"git.home.luguber.info/inful/modbuild/internal/toolrunner"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

// Synthesizer turns distributions into Java modules.
type Synthesizer struct {
	Registry *artifact.Registry
	Platform *platform.Platform
	Store    *descriptorcache.Store
	Libs     *automodule.Loader
	Runner   toolrunner.Runner
	Source   modulepath.DescriptorSource
	Metrics  metrics.Recorder

	// TargetOS and TargetArch stamp the ModuleTarget attribute of created
	// jmods ("linux", "amd64", ...).
	TargetOS   string
	TargetArch string
}

// Synthesize creates the Java module for a distribution: it computes the
// descriptor, compiles module-info.class for every descriptor version of
// the archive, packages the .jmod, and persists the descriptor. Returns
// (nil, nil) when the distribution does not define a module.
func (s *Synthesizer) Synthesize(ctx context.Context, dist *artifact.Distribution, archive *Archive) (*jpms.ModuleDescriptor, error) {
	moduleName := dist.ModuleName()
	if moduleName == "" {
		return nil, nil
	}
	ctx = observability.WithModule(observability.WithArtifact(ctx, dist.Name), moduleName)
	start := time.Now()
	jmd, err := s.synthesize(ctx, dist, archive, "")
	if s.Metrics != nil {
		s.Metrics.ObserveSynthesisDuration(moduleName, time.Since(start))
		if err != nil {
			s.Metrics.IncSynthesisOutcome(metrics.OutcomeFailed)
		} else {
			s.Metrics.IncSynthesisOutcome(metrics.OutcomeSuccess)
		}
	}
	return jmd, err
}

func (s *Synthesizer) synthesize(ctx context.Context, dist *artifact.Distribution, archive *Archive, altName string) (*jpms.ModuleDescriptor, error) {
	moduleName := dist.ModuleName()
	moduleInfo := dist.ModuleInfo
	moduleJar := dist.Path

	// Alternative descriptors differ from the main one only in exports.
	var altInfo *artifact.ModuleInfoSpec
	alternatives := map[string]*jpms.ModuleDescriptor{}
	if altName != "" {
		if archive.Exploded {
			return nil, errors.ConfigError("alternative module descriptors are not supported for exploded distribution %s", dist.Name)
		}
		altInfo = dist.AltModuleInfos[altName]
		if altInfo == nil {
			return nil, errors.ConfigError("distribution %s has no alternative module descriptor named %s", dist.Name, altName)
		}
		if err := validateAltInfo(altInfo, altName, dist); err != nil {
			return nil, err
		}
		moduleJar = altJarPath(dist.Path, altName)
		alternatives[altName] = nil
	} else if !archive.Exploded {
		altNames := make([]string, 0, len(dist.AltModuleInfos))
		for name := range dist.AltModuleInfos {
			altNames = append(altNames, name)
		}
		sort.Strings(altNames)
		for _, name := range altNames {
			altJmd, err := s.synthesize(ctx, dist, archive, name)
			if err != nil {
				return nil, err
			}
			alternatives[name] = altJmd
		}
	}

	observability.InfoContext(ctx, "Building Java module",
		slog.String("jar", filepath.Base(moduleJar)),
		slog.String("from", dist.ID()))

	exports := map[string]sets.Set[string]{}
	requires := map[string]sets.Set[string]{}
	opens := map[string]sets.Set[string]{}
	concealedRequires := map[string]sets.Set[string]{}
	baseUses := sets.New[string]()

	// Module path resolution also yields the default requires: a direct
	// dependency is read plainly, an inherited requires-transitive
	// dependency is read with implied readability made explicit, and
	// everything else sits on the path without being readable.
	entries, err := modulepath.Entries(s.Registry, []artifact.Artifact{dist}, s.Source, s.Platform.TransitiveKeyword,
		modulepath.Options{IncludeSelf: false, IncludeProjects: true})
	if err != nil {
		return nil, err
	}
	var modulePath []*jpms.ModuleDescriptor
	for _, e := range entries {
		direct, isDirect := e.Direct[dist.ID()]
		var modifiers sets.Set[string]
		reads := true
		switch {
		case isDirect:
			modifiers = direct
		case len(e.Indirect) > 0:
			modifiers = e.Indirect
		default:
			reads = false
			observability.DebugContext(ctx, "Skipping implicit non-readable module path dependency",
				slog.String("dependency", e.Artifact.ID()))
		}

		var jmd *jpms.ModuleDescriptor
		switch dep := e.Artifact.(type) {
		case *artifact.Distribution:
			jmd, err = s.Source.Descriptor(dep)
		case *artifact.Library:
			jmd, err = s.Libs.Describe(ctx, dep)
		default:
			return nil, errors.ConfigError("%s cannot depend on %s as it does not define a module", dist.Name, e.Artifact.ArtifactName())
		}
		if err != nil {
			return nil, err
		}
		modulePath = append(modulePath, jmd)
		if reads {
			if modifiers == nil {
				modifiers = sets.New[string]()
			}
			requires[jmd.Name] = modifiers.Clone()
		}
	}
	allModules := append(append([]*jpms.ModuleDescriptor{}, modulePath...), s.Platform.Modules()...)

	moduleDeps, err := s.Registry.ArchivedDeps(dist)
	if err != nil {
		return nil, err
	}
	var projects []*artifact.Project
	var libraries []*artifact.Library
	modulePackages := sets.New[string]()
	for _, dep := range moduleDeps {
		switch d := dep.(type) {
		case *artifact.Project:
			projects = append(projects, d)
		case *artifact.Library:
			libraries = append(libraries, d)
		}
		modulePackages.AddAll(sets.New(dep.DefinedPackages()...))
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ID() < projects[j].ID() })
	sort.Slice(libraries, func(i, j int) bool { return libraries[i].ID() < libraries[j].ID() })

	ignoredServiceTypes := sets.New[string]()
	if moduleInfo != nil {
		// Explicit requires entries override the modifiers picked up from
		// module path resolution.
		if err := applyRequiresSpecs(moduleInfo.Requires, requires); err != nil {
			return nil, err
		}
		if err := checkUses(moduleInfo.Uses, dist.Name); err != nil {
			return nil, err
		}
		baseUses.AddAll(sets.New(moduleInfo.Uses...))

		exportSpecs := moduleInfo.Exports
		if altInfo != nil {
			exportSpecs = altInfo.Exports
		}
		if err := processExports(exportSpecs, exports, modulePackages, modulePackages, nil, moduleName); err != nil {
			return nil, err
		}
		if err := processOpens(moduleInfo.Opens, opens, modulePackages, moduleName); err != nil {
			return nil, err
		}
		ignoredServiceTypes.AddAll(sets.New(moduleInfo.IgnoredServiceTypes...))

		if len(moduleInfo.RequiresConcealed) > 0 {
			spec, err := parseConcealedSpec(moduleInfo.RequiresConcealed, dist.Name)
			if err != nil {
				return nil, err
			}
			if err := jpms.ValidateConcealedRequires(ctx, allModules, spec, concealedRequires, "", s.Platform.Release, s.Metrics); err != nil {
				return nil, err
			}
		}
	}

	for _, project := range projects {
		if err := s.applyProject(ctx, project, dist, moduleName, moduleInfo == nil,
			requires, concealedRequires, exports, baseUses, modulePackages, allModules); err != nil {
			return nil, err
		}
	}

	// In import-scanning compatibility mode library attributes are not
	// consulted; the project imports already cover what the module reads.
	if !dist.UseSourceImports {
		for _, library := range libraries {
			if err := s.applyLibrary(ctx, library, moduleInfo == nil, requires, concealedRequires, exports, baseUses, modulePackages, moduleName); err != nil {
				return nil, err
			}
		}
	}

	// Every module we read concealed packages from must also be required.
	for module := range concealedRequires {
		if module == "java.base" {
			continue
		}
		if _, ok := requires[module]; !ok {
			requires[module] = sets.New[string]()
		}
	}

	versioned, versions, toRemove, err := classifyEntries(archive, s.Platform.Release)
	if err != nil {
		return nil, err
	}
	labels := descriptorVersions(versions, archive.Exploded, s.Platform.Release)
	jmodLabel := jmodVersion(versions, archive.Exploded, s.Platform.Release)
	destDir := archive.StagingDir

	var jmd *jpms.ModuleDescriptor
	for _, label := range labels {
		intVersion := -1
		if label != versionCommon {
			intVersion, _ = strconv.Atoi(label)
		}

		rest := &restorer{}
		if !archive.Exploded {
			// Flatten the overlays for this version into the baseline tree
			// so javac sees one coherent class directory.
			for _, ve := range versioned {
				if ve.version > intVersion {
					continue
				}
				if err := rest.syncFile(ve.staged, filepath.Join(destDir, filepath.FromSlash(ve.unversionedName))); err != nil {
					rest.restore()
					return nil, err
				}
			}
		}

		uses := baseUses.Clone()
		provides, err := scanServices(destDir, ignoredServiceTypes, uses)
		if err != nil {
			rest.restore()
			return nil, err
		}

		exportsClean, err := s.cleanExports(exports, destDir, projects, moduleName)
		if err != nil {
			rest.restore()
			return nil, err
		}
		requiresClean, err := s.cleanRequires(requires)
		if err != nil {
			rest.restore()
			return nil, err
		}

		jmd = jpms.NewDescriptor(moduleName, jpms.Origin{Dist: dist})
		jmd.Exports = exportsClean
		jmd.Requires = requiresClean
		jmd.ConcealedRequires = concealedRequires
		jmd.Uses = uses
		jmd.Opens = opens
		jmd.Provides = provides
		jmd.Packages = modulePackages.Clone()
		jmd.JarPath = moduleJar
		jmd.ModulePath = modulePath
		if len(alternatives) > 0 {
			jmd.Alternatives = alternatives
		}
		if err := jmd.Validate(); err != nil {
			rest.restore()
			return nil, err
		}

		moduleInfoJava := filepath.Join(destDir, "module-info.java")
		if err := os.WriteFile(moduleInfoJava, []byte(jmd.AsModuleInfo(true)), 0o644); err != nil {
			rest.restore()
			return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "writing "+moduleInfoJava)
		}
		if err := s.compileModuleInfo(ctx, jmd, destDir, moduleInfoJava, label, modulePath, requiresClean, concealedRequires, moduleName); err != nil {
			rest.restore()
			return nil, err
		}

		if label == jmodLabel {
			if err := s.createJmod(ctx, jmd, destDir, altName); err != nil {
				rest.restore()
				return nil, err
			}
		}

		switch {
		case archive.Exploded:
			// The exploded tree is the deliverable; module-info.class
			// stays where javac put it.
		case altName == "":
			arcname := "module-info.class"
			if label != versionCommon {
				arcname = versionedPrefix + label + "/module-info.class"
			}
			staged := archive.StagingDir + ".module-info." + label + ".class"
			if err := os.Rename(filepath.Join(destDir, "module-info.class"), staged); err != nil {
				rest.restore()
				return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "staging module-info.class")
			}
			archive.Entries[arcname] = staged
		default:
			// Alternative jars are assembled by the packaging step; only
			// the descriptor and jmod are produced here.
			os.Remove(filepath.Join(destDir, "module-info.class"))
		}
		os.Remove(moduleInfoJava)
		rest.restore()
	}

	if altName == "" {
		for arcname := range toRemove {
			delete(archive.Entries, arcname)
		}
		if err := s.Store.Put(dist, jmd); err != nil {
			return nil, err
		}
	} else if err := s.Store.Save(jmd); err != nil {
		return nil, err
	}
	return jmd, nil
}

// applyProject folds one constituent project into the module's
// attributes: uses, runtime requires, declared requires and concealed
// requires, plus the missing-requires check against imported packages.
// With useSourceImports set, declared attributes are ignored and the
// imports alone determine requires and concealed requires.
func (s *Synthesizer) applyProject(ctx context.Context, project *artifact.Project, dist *artifact.Distribution, moduleName string, defaultExports bool,
	requires, concealedRequires, exports map[string]sets.Set[string], baseUses, modulePackages sets.Set[string], allModules []*jpms.ModuleDescriptor) error {
	if err := checkUses(project.Uses, project.Name); err != nil {
		return err
	}
	baseUses.AddAll(sets.New(project.Uses...))
	for _, m := range project.RuntimeDeps {
		if requires[m] == nil {
			requires[m] = sets.New[string]()
		}
		requires[m].Add(jpms.ModStatic)
	}

	if defaultExports {
		// Without a moduleInfo attribute, a project exports what it
		// declares, defaulting to all of its packages.
		specs := project.Exports
		if len(specs) == 0 {
			specs = project.Packages
		}
		projectPackages := sets.New(project.Packages...)
		if err := processExports(specs, exports, projectPackages, modulePackages, project, moduleName); err != nil {
			return err
		}
	}

	if dist.UseSourceImports {
		// Compatibility mode: the declared "requires" and
		// "requiresConcealed" attributes are ignored and the import
		// statements of the sources determine what modules are required
		// and what concealed packages are used.
		imported := append([]string(nil), project.ImportedPackages...)
		sort.Strings(imported)
		for _, pkg := range imported {
			if modulePackages.Has(pkg) {
				continue
			}
			module, visibility := jpms.LookupPackage(allModules, pkg, moduleName)
			if module == nil || module.Name == moduleName {
				continue
			}
			if _, ok := requires[module.Name]; !ok {
				requires[module.Name] = sets.New[string]()
			}
			if visibility != jpms.VisibilityExported {
				if concealedRequires[module.Name] == nil {
					concealedRequires[module.Name] = sets.New[string]()
				}
				concealedRequires[module.Name].Add(pkg)
			}
		}
		return nil
	}

	if len(project.RequiresConcealed) > 0 {
		spec, err := parseConcealedSpec(project.RequiresConcealed, project.Name)
		if err != nil {
			return err
		}
		if err := jpms.ValidateConcealedRequires(ctx, allModules, spec, concealedRequires, "", s.Platform.Release, s.Metrics); err != nil {
			return err
		}
	}
	for _, module := range project.Requires {
		if _, ok := requires[module]; !ok {
			requires[module] = sets.New[string]()
		}
	}

	// Check for missing requires based on imported packages. Packages
	// defined by the module itself are skipped, which also covers modules
	// that upgrade an existing platform module.
	type missing struct {
		module   *jpms.ModuleDescriptor
		byVis    map[jpms.Visibility][]string
		visOrder []jpms.Visibility
	}
	var missingRequires []*missing
	missingIndex := map[string]*missing{}
	imported := append([]string(nil), project.ImportedPackages...)
	sort.Strings(imported)
	for _, pkg := range imported {
		if modulePackages.Has(pkg) {
			continue
		}
		module, visibility := jpms.LookupPackage(allModules, pkg, moduleName)
		if module == nil || module.Name == moduleName || module.Name == "java.base" {
			continue
		}
		if _, ok := requires[module.Name]; ok {
			continue
		}
		if _, ok := concealedRequires[module.Name]; ok {
			continue
		}
		if module.Origin.IsPlatform() {
			// No explicit requires found; the module may still be readable
			// through the transitive closure of what is required, e.g.
			// requires jdk.management implies requires transitive
			// java.management.
			closure, err := jpms.ClosureFromRequires(requires, allModules, s.Platform.TransitiveKeyword)
			if err != nil {
				return err
			}
			if _, readable := closure[module.Name]; readable {
				observability.DebugContext(ctx, "Module required for imported package found in transitive closure",
					slog.String("required", module.Name),
					slog.String("package", pkg))
				continue
			}
		}
		m := missingIndex[module.Name]
		if m == nil {
			m = &missing{module: module, byVis: map[jpms.Visibility][]string{}}
			missingIndex[module.Name] = m
			missingRequires = append(missingRequires, m)
		}
		if _, ok := m.byVis[visibility]; !ok {
			m.visOrder = append(m.visOrder, visibility)
		}
		m.byVis[visibility] = append(m.byVis[visibility], pkg)
	}

	// Automatically add missing requires, but warn: silent healing hides
	// configuration drift.
	if len(missingRequires) > 0 {
		var names []string
		for _, m := range missingRequires {
			if _, ok := requires[m.module.Name]; !ok {
				requires[m.module.Name] = sets.New[string]()
			}
			names = append(names, `"`+m.module.Name+`"`)

			var reads []string
			for _, vis := range m.visOrder {
				reads = append(reads, fmt.Sprintf("%s package(s): %s", vis, strings.Join(m.byVis[vis], ", ")))
			}
			observability.WarnContext(ctx, "Module requires another module in order to read packages",
				slog.String("required", m.module.Name),
				slog.String("reads", strings.Join(reads, ", and ")))
		}
		sort.Strings(names)
		observability.WarnContext(ctx, `Automatically included missing "requires"; declare them explicitly as "requires" or as dependencies of the distribution, or as "requires transitive" in any of its transitive dependencies`,
			slog.String("distribution", dist.ID()),
			slog.String("requires", strings.Join(names, ", ")))
		if s.Metrics != nil {
			s.Metrics.IncAdvisory("missing-requires")
		}
	}

	return nil
}

// applyLibrary folds one repackaged library into the module's attributes.
// Concealed requires of a library can only target platform modules.
func (s *Synthesizer) applyLibrary(ctx context.Context, library *artifact.Library, noModuleInfo bool,
	requires, concealedRequires, exports map[string]sets.Set[string], baseUses, modulePackages sets.Set[string], moduleName string) error {
	baseUses.AddAll(sets.New(library.Uses...))
	for _, m := range library.RuntimeDeps {
		if requires[m] == nil {
			requires[m] = sets.New[string]()
		}
		requires[m].Add(jpms.ModStatic)
	}
	if len(library.RequiresConcealed) > 0 {
		spec, err := parseConcealedSpec(library.RequiresConcealed, library.Name)
		if err != nil {
			return err
		}
		if err := jpms.ValidateConcealedRequires(ctx, s.Platform.Modules(), spec, concealedRequires, "", s.Platform.Release, s.Metrics); err != nil {
			return err
		}
	}
	for _, module := range library.Requires {
		if _, ok := requires[module]; !ok {
			requires[module] = sets.New[string]()
		}
	}
	if len(library.Exports) > 0 {
		libraryPackages := sets.New(library.Packages...)
		if err := processExports(library.Exports, exports, libraryPackages, modulePackages, nil, moduleName); err != nil {
			return err
		}
	}
	if noModuleInfo {
		observability.WarnContext(ctx, "Module re-packages a library but has no moduleInfo attribute; library packages are not auto-exported",
			slog.String("library", library.ID()))
	}
	return nil
}

// cleanExports drops nothing: every exported package must exist as a
// directory in the staging tree. Exports of modular multi-release jars
// must be identical across versions, so a package defined only by a
// versioned project cannot be exported.
func (s *Synthesizer) cleanExports(exports map[string]sets.Set[string], destDir string, projects []*artifact.Project, moduleName string) (map[string]sets.Set[string], error) {
	clean := make(map[string]sets.Set[string], len(exports))
	for pkg, targets := range exports {
		packageDir := filepath.Join(destDir, filepath.FromSlash(strings.ReplaceAll(pkg, ".", "/")))
		if _, err := os.Stat(packageDir); err != nil {
			owner := "an unknown project"
			for _, p := range projects {
				for _, defined := range p.Packages {
					if defined == pkg {
						owner = fmt.Sprintf("%s with multiReleaseJarVersion=%d", p.Name, p.MultiReleaseVersion)
					}
				}
			}
			return nil, errors.ConsistencyError("%s does not exist; modular multi-release JARs cannot export packages defined only by versioned projects: %s is defined by %s", packageDir, pkg, owner)
		}
		clean[pkg] = targets
	}
	return clean, nil
}

// cleanRequires resolves version-scoped requires entries ("name@range")
// against the target platform release, dropping entries outside it.
func (s *Synthesizer) cleanRequires(requires map[string]sets.Set[string]) (map[string]sets.Set[string], error) {
	clean := make(map[string]sets.Set[string], len(requires))
	for spec, modifiers := range requires {
		name, scope, err := compliance.SplitVersionedName(spec)
		if err != nil {
			return nil, err
		}
		if !scope.IsZero() && !scope.Contains(s.Platform.Release) {
			continue
		}
		clean[name] = modifiers
	}
	return clean, nil
}

// compileModuleInfo compiles module-info.java into the staging directory
// with the platform's compiler. The platform's packaged modules are put
// on the module path instead of the implicit system image so a module may
// override a non-upgradeable platform module.
func (s *Synthesizer) compileModuleInfo(ctx context.Context, jmd *jpms.ModuleDescriptor, destDir, moduleInfoJava, label string,
	modulePath []*jpms.ModuleDescriptor, requiresClean, concealedRequires map[string]sets.Set[string], moduleName string) error {
	release := "9"
	if label != versionCommon {
		release = label
	}
	args := []string{"-d", destDir, "-target", release, "-source", release, "--system=none"}

	if len(requiresClean) > 0 {
		names := make([]string, 0, len(requiresClean))
		for name := range requiresClean {
			names = append(names, name)
		}
		sort.Strings(names)
		args = append(args, "--limit-modules="+strings.Join(names, ","))
	}

	var pathEntries []string
	for _, m := range modulePath {
		if m.JarPath != "" {
			pathEntries = append(pathEntries, m.JarPath)
		}
	}
	jmods, err := os.ReadDir(s.Platform.JmodsDir)
	if err != nil {
		return errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "missing directory containing JMOD files: "+s.Platform.JmodsDir)
	}
	for _, de := range jmods {
		if strings.HasSuffix(de.Name(), ".jmod") {
			pathEntries = append(pathEntries, filepath.Join(s.Platform.JmodsDir, de.Name()))
		}
	}
	if len(pathEntries) > 0 {
		args = append(args, "--module-path="+strings.Join(pathEntries, string(os.PathListSeparator)))
	}

	for _, module := range sortedModuleKeys(concealedRequires) {
		for _, pkg := range sets.SortedStrings(concealedRequires[module]) {
			args = append(args, "--add-exports="+module+"/"+pkg+"="+moduleName)
		}
	}

	// Suppress the bootclasspath warning for old -source values and the
	// unknown-module warning for qualified exports to modules built
	// separately.
	args = append(args, "-Xlint:-options,-module", moduleInfoJava)

	argFile, cleanup, err := toolrunner.WriteArgFile(args)
	if err != nil {
		return err
	}
	defer cleanup()
	_, err = s.Runner.Run(ctx, s.Platform.Javac, "@"+argFile)
	return err
}

func validateAltInfo(alt *artifact.ModuleInfoSpec, altName string, dist *artifact.Distribution) error {
	if dist.ModuleInfo == nil {
		return errors.ConfigError(`alternative module descriptor %q of %s found but the required "moduleInfo" attribute is missing`, altName, dist.Name)
	}
	if len(alt.Opens) > 0 || len(alt.Requires) > 0 || len(alt.Uses) > 0 || len(alt.RequiresConcealed) > 0 || len(alt.IgnoredServiceTypes) > 0 {
		return errors.ConfigError(`alternative module descriptor %q of %s may only override "exports"`, altName, dist.Name)
	}
	return nil
}

// altJarPath derives the jar path of an alternative module: foo.jar
// becomes foo-<alt>.jar.
func altJarPath(path, altName string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + altName + ext
}

func sortedModuleKeys(m map[string]sets.Set[string]) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
