package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/modbuild/internal/artifact"
	"git.home.luguber.info/inful/modbuild/internal/build"
	"git.home.luguber.info/inful/modbuild/internal/config"
	"git.home.luguber.info/inful/modbuild/internal/jpms"
	"git.home.luguber.info/inful/modbuild/internal/metrics"
	"git.home.luguber.info/inful/modbuild/internal/platform"
	"git.home.luguber.info/inful/modbuild/internal/state"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

var CLI struct {
	Suite    []string `short:"s" help:"Suite file path (repeatable)" default:"suite.yaml"`
	Platform string   `short:"p" help:"Platform catalog path (overrides MODBUILD_PLATFORM)"`
	Verbose  bool     `short:"v" help:"Enable verbose logging"`

	Build struct {
		Target   string `arg:"" optional:"" help:"Distribution ID to build (omit with --all)"`
		All      bool   `help:"Build every module-defining distribution"`
		Force    bool   `short:"f" help:"Re-synthesize even when a descriptor exists"`
		Parallel int    `default:"4" help:"Parallel synthesis jobs per dependency level"`
	} `cmd:"" help:"Synthesize module descriptors, module-info classes, and jmods"`

	Describe struct {
		Name string `arg:"" help:"Module name or artifact ID"`
	} `cmd:"" help:"Print a module descriptor as module-info.java text"`

	Validate struct{} `cmd:"" help:"Check suite and module configuration without running tools"`

	Closure struct {
		Roots          []string `arg:"" help:"Root module names"`
		TransitiveOnly bool     `help:"Follow only requires-transitive edges"`
	} `cmd:"" help:"Compute the transitive closure of root modules"`

	RequiredExports struct {
		Targets []string `arg:"" optional:"" help:"Distribution IDs (default: all module distributions)"`
	} `cmd:"" help:"Print the --add-exports flags needed for concealed requires"`

	Stats struct{} `cmd:"" help:"Show recorded build statistics"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	settings := config.LoadSettings()
	if CLI.Platform != "" {
		settings.PlatformCatalog = CLI.Platform
	}

	var err error
	switch ctx.Command() {
	case "build", "build <target>":
		err = runBuild(settings)
	case "describe <name>":
		err = runDescribe(settings, CLI.Describe.Name)
	case "validate":
		err = runValidate(settings)
	case "closure <roots>":
		err = runClosure(settings, CLI.Closure.Roots, CLI.Closure.TransitiveOnly)
	case "required-exports", "required-exports <targets>":
		err = runRequiredExports(settings, CLI.RequiredExports.Targets)
	case "stats":
		err = runStats(settings)
	default:
		err = fmt.Errorf("unknown command %s", ctx.Command())
	}
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// setup loads the suites and the platform catalog and assembles the
// build service.
func setup(settings config.Settings) (*build.Service, *state.Store, error) {
	if settings.PlatformCatalog == "" {
		return nil, nil, fmt.Errorf("no platform catalog given (use --platform or MODBUILD_PLATFORM)")
	}
	var suites []*config.Suite
	for _, path := range CLI.Suite {
		suite, err := config.LoadSuite(path)
		if err != nil {
			return nil, nil, err
		}
		suites = append(suites, suite)
	}
	reg, err := config.BuildRegistry(suites...)
	if err != nil {
		return nil, nil, err
	}
	p, err := platform.Load(settings.PlatformCatalog)
	if err != nil {
		return nil, nil, err
	}
	st, err := state.Open(settings.StateDB)
	if err != nil {
		return nil, nil, err
	}

	var rec metrics.Recorder = metrics.NoopRecorder{}
	if settings.MetricsListen != "" {
		promReg := prom.NewRegistry()
		rec = metrics.NewPrometheusRecorder(promReg)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
			if serveErr := http.ListenAndServe(settings.MetricsListen, mux); serveErr != nil {
				slog.Warn("Metrics endpoint stopped", "error", serveErr)
			}
		}()
	}

	svc := build.New(reg, p, build.Options{
		ModulesDir: settings.ModulesDir,
		TargetOS:   settings.TargetOS,
		TargetArch: settings.TargetArch,
		State:      st,
		Metrics:    rec,
	})
	return svc, st, nil
}

func runBuild(settings config.Settings) error {
	svc, st, err := setup(settings)
	if err != nil {
		return err
	}
	defer st.Close()
	ctx := context.Background()

	if CLI.Build.All {
		return svc.BuildAll(ctx, CLI.Build.Parallel, CLI.Build.Force)
	}
	if CLI.Build.Target == "" {
		return fmt.Errorf("a distribution ID is required unless --all is given")
	}
	a, err := svc.Registry.MustGet(CLI.Build.Target)
	if err != nil {
		return err
	}
	dist, ok := a.(*artifact.Distribution)
	if !ok {
		return fmt.Errorf("%s is not a distribution", CLI.Build.Target)
	}
	// Dependencies first; Build skips anything already synthesized.
	levels, err := svc.BuildOrder(svc.Registry.Distributions())
	if err != nil {
		return err
	}
	for _, level := range levels {
		for _, dep := range level {
			if dep.ID() == dist.ID() || dep.ModuleName() == "" {
				continue
			}
			if _, err := svc.Build(ctx, dep, false); err != nil {
				return err
			}
		}
	}
	_, err = svc.Build(ctx, dist, CLI.Build.Force)
	return err
}

func runDescribe(settings config.Settings, name string) error {
	svc, st, err := setup(settings)
	if err != nil {
		return err
	}
	defer st.Close()
	jmd, err := svc.Describe(context.Background(), name)
	if err != nil {
		return err
	}
	fmt.Print(jmd.AsModuleInfo(true))
	return nil
}

func runValidate(settings config.Settings) error {
	svc, st, err := setup(settings)
	if err != nil {
		return err
	}
	defer st.Close()
	problems := svc.Validate(context.Background())
	for _, p := range problems {
		fmt.Fprintln(os.Stderr, p)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d configuration problem(s)", len(problems))
	}
	fmt.Println("ok")
	return nil
}

func runClosure(settings config.Settings, roots []string, transitiveOnly bool) error {
	svc, st, err := setup(settings)
	if err != nil {
		return err
	}
	defer st.Close()
	names, err := svc.Closure(context.Background(), roots, transitiveOnly)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runRequiredExports(settings config.Settings, targets []string) error {
	svc, st, err := setup(settings)
	if err != nil {
		return err
	}
	defer st.Close()
	required, err := svc.RequiredExports(context.Background(), targets)
	if err != nil {
		return err
	}
	keys := make([]jpms.ExportKey, 0, len(required))
	for key := range required {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, key := range keys {
		requesters := sets.SortedStrings(required[key])
		for _, to := range requesters {
			fmt.Printf("--add-exports=%s/%s=%s\n", key.Module, key.Package, to)
		}
	}
	return nil
}

func runStats(settings config.Settings) error {
	st, err := state.Open(settings.StateDB)
	if err != nil {
		return err
	}
	defer st.Close()
	stats, err := st.Stats(context.Background())
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Println("no recorded builds")
		return nil
	}
	for _, s := range stats {
		fmt.Printf("%-40s %-30s builds=%d failures=%d avg=%s last=%s (%s)\n",
			s.ArtifactID, s.Module, s.Builds, s.Failures, s.AvgDuration, s.LastStartedAt.Format("2006-01-02 15:04:05"), s.LastOutcome)
	}
	return nil
}
