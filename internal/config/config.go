// Package config loads suite definitions (the distributions, libraries,
// and projects of a build) and process settings.
package config

import (
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/modbuild/internal/artifact"
	"git.home.luguber.info/inful/modbuild/internal/errors"
)

// Suite is one decoded suite file.
type Suite struct {
	Name          string                   `yaml:"suite"`
	Distributions []*artifact.Distribution `yaml:"distributions"`
	Libraries     []*artifact.Library      `yaml:"libraries"`
	Projects      []*artifact.Project      `yaml:"projects"`
}

// LoadSuite reads and validates a suite file. Unqualified dependency
// references ("NAME") are qualified with the declaring suite
// ("<suite>:NAME"); cross-suite references must be written qualified.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "reading suite "+path)
	}
	return ParseSuite(data, path)
}

// ParseSuite decodes suite bytes. source is used in error messages only.
func ParseSuite(data []byte, source string) (*Suite, error) {
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "parsing suite "+source)
	}
	if suite.Name == "" {
		return nil, errors.ConfigError("suite file %s has no suite name", source)
	}
	for _, d := range suite.Distributions {
		if d.Name == "" {
			return nil, errors.ConfigError("suite %s contains a distribution without a name", suite.Name)
		}
		d.Suite = suite.Name
		qualifyAll(d.DistDeps, suite.Name)
		qualifyAll(d.ExcludedLibs, suite.Name)
		qualifyAll(d.ProjectIDs, suite.Name)
	}
	for _, l := range suite.Libraries {
		if l.Name == "" {
			return nil, errors.ConfigError("suite %s contains a library without a name", suite.Name)
		}
		l.Suite = suite.Name
	}
	for _, p := range suite.Projects {
		if p.Name == "" {
			return nil, errors.ConfigError("suite %s contains a project without a name", suite.Name)
		}
		p.Suite = suite.Name
		qualifyAll(p.DepNames, suite.Name)
		qualifyAll(p.APDeps, suite.Name)
	}
	return &suite, nil
}

func qualifyAll(ids []string, suiteName string) {
	for i, id := range ids {
		if !strings.Contains(id, ":") {
			ids[i] = suiteName + ":" + id
		}
	}
}

// BuildRegistry registers every artifact of the given suites and checks
// that all dependency references resolve.
func BuildRegistry(suites ...*Suite) (*artifact.Registry, error) {
	reg := artifact.NewRegistry()
	for _, suite := range suites {
		for _, d := range suite.Distributions {
			if err := reg.Add(d); err != nil {
				return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "registering artifacts of suite "+suite.Name)
			}
		}
		for _, l := range suite.Libraries {
			if err := reg.Add(l); err != nil {
				return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "registering artifacts of suite "+suite.Name)
			}
		}
		for _, p := range suite.Projects {
			if err := reg.Add(p); err != nil {
				return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "registering artifacts of suite "+suite.Name)
			}
		}
	}
	for _, a := range reg.All() {
		for _, dep := range a.DepIDs() {
			if _, ok := reg.Get(dep.ID); !ok {
				return nil, errors.ConfigError("%s depends on unknown artifact %s", a.ID(), dep.ID)
			}
		}
	}
	return reg, nil
}

// Settings are process-level options, loaded from the environment with an
// optional .env overlay.
type Settings struct {
	// PlatformCatalog is the path of the platform catalog YAML.
	PlatformCatalog string
	// ModulesDir holds library descriptor caches.
	ModulesDir string
	// StateDB is the build-record database path.
	StateDB string
	// TargetOS / TargetArch stamp created jmods.
	TargetOS   string
	TargetArch string
	// MetricsListen enables the Prometheus endpoint when non-empty.
	MetricsListen string
}

// LoadSettings reads settings from the environment. A .env file in the
// working directory is merged in without overriding real environment
// variables.
func LoadSettings() Settings {
	_ = godotenv.Load()
	s := Settings{
		PlatformCatalog: os.Getenv("MODBUILD_PLATFORM"),
		ModulesDir:      os.Getenv("MODBUILD_MODULES_DIR"),
		StateDB:         os.Getenv("MODBUILD_STATE_DB"),
		TargetOS:        os.Getenv("MODBUILD_TARGET_OS"),
		TargetArch:      os.Getenv("MODBUILD_TARGET_ARCH"),
		MetricsListen:   os.Getenv("MODBUILD_METRICS_LISTEN"),
	}
	if s.ModulesDir == "" {
		s.ModulesDir = filepathJoinDefault("modules")
	}
	if s.StateDB == "" {
		s.StateDB = filepathJoinDefault("modbuild.db")
	}
	if s.TargetOS == "" {
		// The jmod tool spells the Darwin target "macos".
		if runtime.GOOS == "darwin" {
			s.TargetOS = "macos"
		} else {
			s.TargetOS = runtime.GOOS
		}
	}
	if s.TargetArch == "" {
		s.TargetArch = runtime.GOARCH
	}
	return s
}

func filepathJoinDefault(name string) string {
	return ".modbuild" + string(os.PathSeparator) + name
}
