// Package build orchestrates module synthesis across a registry of
// artifacts: dependency ordering, parallel execution, descriptor lookup,
// and build-record keeping.
package build

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/modbuild/internal/artifact"
	"git.home.luguber.info/inful/modbuild/internal/automodule"
	"git.home.luguber.info/inful/modbuild/internal/descriptorcache"
	"git.home.luguber.info/inful/modbuild/internal/errors"
	"git.home.luguber.info/inful/modbuild/internal/jpms"
	"git.home.luguber.info/inful/modbuild/internal/metrics"
	"git.home.luguber.info/inful/modbuild/internal/observability"
	"git.home.luguber.info/inful/modbuild/internal/platform"
	"git.home.luguber.info/inful/modbuild/internal/state"
	"git.home.luguber.info/inful/modbuild/internal/synthesis"
	"git.home.luguber.info/inful/modbuild/internal/toolrunner"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

// Service wires the synthesis collaborators together for a build run.
type Service struct {
	Registry *artifact.Registry
	Platform *platform.Platform
	Store    *descriptorcache.Store
	Libs     *automodule.Loader
	Synth    *synthesis.Synthesizer
	State    *state.Store
	Metrics  metrics.Recorder
}

// Options configure a service.
type Options struct {
	ModulesDir string
	TargetOS   string
	TargetArch string
	Runner     toolrunner.Runner
	State      *state.Store
	Metrics    metrics.Recorder
}

// New assembles a service. The descriptor source handed to the module
// path resolver reads saved descriptors only; build ordering guarantees
// dependencies are synthesized before their dependents ask for them.
func New(reg *artifact.Registry, p *platform.Platform, opts Options) *Service {
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	runner := opts.Runner
	if runner == nil {
		runner = &toolrunner.ExecRunner{Metrics: rec}
	}
	libs := &automodule.Loader{Dir: opts.ModulesDir, Platform: p, Runner: runner, Metrics: rec}
	store := descriptorcache.NewStore(reg, p, libs, rec)
	svc := &Service{
		Registry: reg,
		Platform: p,
		Store:    store,
		Libs:     libs,
		State:    opts.State,
		Metrics:  rec,
	}
	svc.Synth = &synthesis.Synthesizer{
		Registry:   reg,
		Platform:   p,
		Store:      store,
		Libs:       libs,
		Runner:     runner,
		Source:     &storedSource{svc: svc},
		Metrics:    rec,
		TargetOS:   opts.TargetOS,
		TargetArch: opts.TargetArch,
	}
	return svc
}

// storedSource resolves descriptors from the cache and from library
// description, never triggering synthesis. A missing distribution
// descriptor is an ordering bug surfaced as a config error.
type storedSource struct {
	svc *Service

	mu  sync.RWMutex
	ctx context.Context
}

// bind attaches the run context used for logging inside descriptor
// resolution. The first binding of a run wins.
func (s *storedSource) bind(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		s.ctx = ctx
	}
}

func (s *storedSource) context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func (s *storedSource) Descriptor(a artifact.Artifact) (*jpms.ModuleDescriptor, error) {
	switch dep := a.(type) {
	case *artifact.Distribution:
		return s.svc.Store.Load(s.context(), dep, true)
	case *artifact.Library:
		return s.svc.Libs.Describe(s.context(), dep)
	default:
		return nil, errors.ConfigError("%s does not define a module", a.ID())
	}
}

func (s *storedSource) Available(a artifact.Artifact) bool {
	switch dep := a.(type) {
	case *artifact.Distribution:
		return s.svc.Store.Created(dep)
	case *artifact.Library:
		return true
	default:
		return false
	}
}

// archiveFor stages a distribution's archive for synthesis. A jar
// distribution uses the staged directory next to the jar; a directory
// path is an exploded distribution.
func (s *Service) archiveFor(dist *artifact.Distribution) (*synthesis.Archive, error) {
	stagingDir := dist.Path + ".staging"
	exploded := false
	if info, err := os.Stat(dist.Path); err == nil && info.IsDir() {
		stagingDir = dist.Path
		exploded = true
	}
	if _, err := os.Stat(stagingDir); err != nil {
		return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "distribution "+dist.ID()+" has no staged contents at "+stagingDir)
	}
	a := &synthesis.Archive{StagingDir: stagingDir, Entries: map[string]string{}, Exploded: exploded}
	err := filepath.WalkDir(stagingDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(stagingDir, path)
		if relErr != nil {
			return relErr
		}
		a.Entries[filepath.ToSlash(rel)] = path
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "scanning staged contents of "+dist.ID())
	}
	return a, nil
}

// moduleDistributions returns the module-defining distributions of the
// registry in a stable order.
func (s *Service) moduleDistributions() []*artifact.Distribution {
	var dists []*artifact.Distribution
	for _, d := range s.Registry.Distributions() {
		if d.ModuleName() != "" {
			dists = append(dists, d)
		}
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i].ID() < dists[j].ID() })
	return dists
}

// BuildOrder groups module-defining distributions into dependency levels:
// every distribution in a level depends only on distributions in earlier
// levels. Cycles between distributions are a configuration error.
func (s *Service) BuildOrder(dists []*artifact.Distribution) ([][]*artifact.Distribution, error) {
	inSet := map[string]*artifact.Distribution{}
	for _, d := range dists {
		inSet[d.ID()] = d
	}
	depth := map[string]int{}
	visiting := map[string]bool{}

	var measure func(d *artifact.Distribution) (int, error)
	measure = func(d *artifact.Distribution) (int, error) {
		if dth, ok := depth[d.ID()]; ok {
			return dth, nil
		}
		if visiting[d.ID()] {
			return 0, errors.ConfigError("distribution dependency cycle involving %s", d.ID())
		}
		visiting[d.ID()] = true
		defer delete(visiting, d.ID())
		max := 0
		for _, dep := range d.DistDeps {
			child, ok := inSet[dep]
			if !ok {
				continue
			}
			dth, err := measure(child)
			if err != nil {
				return 0, err
			}
			if dth+1 > max {
				max = dth + 1
			}
		}
		depth[d.ID()] = max
		return max, nil
	}

	levels := [][]*artifact.Distribution{}
	for _, d := range dists {
		dth, err := measure(d)
		if err != nil {
			return nil, err
		}
		for len(levels) <= dth {
			levels = append(levels, nil)
		}
		levels[dth] = append(levels[dth], d)
	}
	return levels, nil
}

// Build synthesizes one distribution (its dependencies must already have
// descriptors) and records the outcome.
func (s *Service) Build(ctx context.Context, dist *artifact.Distribution, force bool) (*jpms.ModuleDescriptor, error) {
	runID := observability.GetContext(ctx).RunID
	if runID == "" {
		runID = uuid.NewString()
		ctx = observability.WithRunID(ctx, runID)
	}
	if src, ok := s.Synth.Source.(*storedSource); ok {
		src.bind(ctx)
	}

	if force {
		s.Store.Invalidate(dist)
	} else if s.Store.Created(dist) {
		observability.DebugContext(ctx, "Descriptor already created, skipping synthesis",
			slog.String("distribution", dist.ID()))
		return s.Store.Load(ctx, dist, true)
	}

	archive, err := s.archiveFor(dist)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	jmd, err := s.Synth.Synthesize(ctx, dist, archive)
	s.record(ctx, state.BuildRecord{
		RunID:      runID,
		ArtifactID: dist.ID(),
		Module:     dist.ModuleName(),
		StartedAt:  started,
		Duration:   time.Since(started),
		Outcome:    outcomeOf(err),
		Error:      errText(err),
	})
	return jmd, err
}

// BuildAll synthesizes every module-defining distribution in dependency
// order, running each level's independent distributions in parallel.
func (s *Service) BuildAll(ctx context.Context, parallelism int, force bool) error {
	ctx = observability.WithRunID(ctx, uuid.NewString())
	if parallelism < 1 {
		parallelism = 1
	}
	levels, err := s.BuildOrder(s.moduleDistributions())
	if err != nil {
		return err
	}
	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelism)
		for _, dist := range level {
			dist := dist
			g.Go(func() error {
				_, err := s.Build(gctx, dist, force)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, rec state.BuildRecord) {
	if s.State == nil {
		return
	}
	if err := s.State.Record(ctx, rec); err != nil {
		observability.WarnContext(ctx, "Failed to persist build record",
			slog.String("artifact", rec.ArtifactID),
			slog.String("error", err.Error()))
	}
}

func outcomeOf(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Describe resolves a module name or artifact ID to its descriptor:
// platform modules, saved distribution descriptors, and libraries all
// answer.
func (s *Service) Describe(ctx context.Context, name string) (*jpms.ModuleDescriptor, error) {
	if m, ok := s.Platform.Module(name); ok {
		return m, nil
	}
	if a, ok := s.Registry.Get(name); ok {
		switch dep := a.(type) {
		case *artifact.Distribution:
			return s.Store.Load(ctx, dep, true)
		case *artifact.Library:
			return s.Libs.Describe(ctx, dep)
		}
		return nil, errors.ConfigError("%s does not define a module", name)
	}
	// Fall back to matching declared module names of distributions.
	for _, d := range s.Registry.Distributions() {
		if d.ModuleName() == name {
			return s.Store.Load(ctx, d, true)
		}
	}
	return nil, errors.ConfigError("unknown module or artifact %s", name)
}

// observableModules collects every descriptor visible to resolution:
// saved distribution modules, libraries, and the platform's modules.
func (s *Service) observableModules(ctx context.Context) ([]*jpms.ModuleDescriptor, error) {
	var out []*jpms.ModuleDescriptor
	for _, d := range s.moduleDistributions() {
		if !s.Store.Created(d) {
			continue
		}
		jmd, err := s.Store.Load(ctx, d, true)
		if err != nil {
			return nil, err
		}
		out = append(out, jmd)
	}
	for _, a := range s.Registry.All() {
		if lib, ok := a.(*artifact.Library); ok {
			jmd, err := s.Libs.Describe(ctx, lib)
			if err != nil {
				return nil, err
			}
			out = append(out, jmd)
		}
	}
	out = append(out, s.Platform.Modules()...)
	return out, nil
}

// Closure computes the transitive closure of the given root module names
// over everything observable. When transitiveOnly is set, only
// requires-transitive edges are followed.
func (s *Service) Closure(ctx context.Context, roots []string, transitiveOnly bool) ([]string, error) {
	observable, err := s.observableModules(ctx)
	if err != nil {
		return nil, err
	}
	var pred jpms.EdgePredicate
	if transitiveOnly {
		pred = jpms.TransitiveOnly(s.Platform.TransitiveKeyword)
	}
	closure, err := jpms.ClosureFromNames(roots, observable, pred)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(closure))
	for name := range closure {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RequiredExports aggregates the concealed requires of the named
// distributions (all module-defining ones when names is empty) into the
// --add-exports flags a launcher needs.
func (s *Service) RequiredExports(ctx context.Context, names []string) (map[jpms.ExportKey]sets.Set[string], error) {
	var dists []*artifact.Distribution
	if len(names) == 0 {
		dists = s.moduleDistributions()
	} else {
		for _, name := range names {
			a, err := s.Registry.MustGet(name)
			if err != nil {
				return nil, err
			}
			d, ok := a.(*artifact.Distribution)
			if !ok || d.ModuleName() == "" {
				return nil, errors.ConfigError("%s does not define a module", name)
			}
			dists = append(dists, d)
		}
	}
	var descriptors []*jpms.ModuleDescriptor
	for _, d := range dists {
		jmd, err := s.Store.Load(ctx, d, true)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, jmd)
	}
	return jpms.RequiredExports(descriptors), nil
}

// Validate checks the registry and descriptors without running any
// external tools: dependency references resolve, module names are valid,
// alternative descriptors only override exports, and requiresConcealed
// attributes parse.
func (s *Service) Validate(ctx context.Context) []error {
	var problems []error
	for _, a := range s.Registry.All() {
		for _, dep := range a.DepIDs() {
			if _, ok := s.Registry.Get(dep.ID); !ok {
				problems = append(problems, errors.ConfigError("%s depends on unknown artifact %s", a.ID(), dep.ID))
			}
		}
	}
	for _, d := range s.Registry.Distributions() {
		if d.ModuleInfo == nil {
			if len(d.AltModuleInfos) > 0 {
				problems = append(problems, errors.ConfigError(`distribution %s declares alternative module descriptors but no "moduleInfo"`, d.ID()))
			}
			continue
		}
		if !automodule.IsValidModuleName(d.ModuleName()) {
			problems = append(problems, errors.ConfigError("distribution %s declares invalid module name %q", d.ID(), d.ModuleName()))
		}
		for altName, alt := range d.AltModuleInfos {
			if len(alt.Opens) > 0 || len(alt.Requires) > 0 || len(alt.Uses) > 0 || len(alt.RequiresConcealed) > 0 || len(alt.IgnoredServiceTypes) > 0 {
				problems = append(problems, errors.ConfigError(`alternative module descriptor %q of %s may only override "exports"`, altName, d.ID()))
			}
		}
	}
	for _, a := range s.Registry.All() {
		if lib, ok := a.(*artifact.Library); ok {
			if _, err := automodule.ModuleName(lib); err != nil {
				problems = append(problems, err)
			}
		}
	}
	return problems
}
