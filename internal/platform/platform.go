// Package platform models the target Java platform a build compiles
// against: its release number, tool locations, and the descriptors of
// the modules it ships.
package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/modbuild/internal/errors"
	"git.home.luguber.info/inful/modbuild/internal/jpms"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

// Platform is one target Java platform installation.
type Platform struct {
	// Release is the feature release number (17, 21, ...).
	Release int
	// Home is the installation root; tool paths derive from it unless
	// overridden in the catalog.
	Home string
	// Javac, Java, Jmod are the tool executables.
	Javac string
	Java  string
	Jmod  string
	// JmodsDir holds the platform's packaged modules.
	JmodsDir string
	// TransitiveKeyword is the requires modifier spelling granting implied
	// readability on this platform. Old releases spelled it differently,
	// so it travels with the platform rather than being a constant.
	TransitiveKeyword string

	modules []*jpms.ModuleDescriptor
	byName  map[string]*jpms.ModuleDescriptor
}

// Modules returns the descriptors of every module the platform ships.
func (p *Platform) Modules() []*jpms.ModuleDescriptor { return p.modules }

// Module returns the platform module with the given name.
func (p *Platform) Module(name string) (*jpms.ModuleDescriptor, bool) {
	m, ok := p.byName[name]
	return m, ok
}

func (p *Platform) String() string {
	return fmt.Sprintf("platform:%d", p.Release)
}

// catalogFile is the on-disk YAML shape of a platform catalog.
type catalogFile struct {
	Release           int             `yaml:"release"`
	Home              string          `yaml:"home"`
	Javac             string          `yaml:"javac"`
	Java              string          `yaml:"java"`
	Jmod              string          `yaml:"jmod"`
	JmodsDir          string          `yaml:"jmodsDir"`
	TransitiveKeyword string          `yaml:"transitiveKeyword"`
	Modules           []catalogModule `yaml:"modules"`
}

type catalogModule struct {
	Name     string              `yaml:"name"`
	Exports  map[string][]string `yaml:"exports"`
	Requires map[string][]string `yaml:"requires"`
	Uses     []string            `yaml:"uses"`
	Opens    map[string][]string `yaml:"opens"`
	Provides map[string][]string `yaml:"provides"`
	Packages []string            `yaml:"packages"`
}

// Load reads a platform catalog. Tool paths default to the conventional
// locations under home when not given explicitly.
func Load(path string) (*Platform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal, "reading platform catalog "+path)
	}
	return Parse(data, path)
}

// Parse decodes catalog bytes. source is used in error messages only.
func Parse(data []byte, source string) (*Platform, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "parsing platform catalog "+source)
	}
	if file.Release <= 0 {
		return nil, errors.ConfigError("platform catalog %s has no release", source)
	}

	p := &Platform{
		Release:           file.Release,
		Home:              file.Home,
		Javac:             file.Javac,
		Java:              file.Java,
		Jmod:              file.Jmod,
		JmodsDir:          file.JmodsDir,
		TransitiveKeyword: file.TransitiveKeyword,
		byName:            map[string]*jpms.ModuleDescriptor{},
	}
	if p.TransitiveKeyword == "" {
		p.TransitiveKeyword = jpms.ModTransitive
	}
	if p.Home != "" {
		bin := filepath.Join(p.Home, "bin")
		if p.Javac == "" {
			p.Javac = filepath.Join(bin, "javac")
		}
		if p.Java == "" {
			p.Java = filepath.Join(bin, "java")
		}
		if p.Jmod == "" {
			p.Jmod = filepath.Join(bin, "jmod")
		}
		if p.JmodsDir == "" {
			p.JmodsDir = filepath.Join(p.Home, "jmods")
		}
	}

	for _, cm := range file.Modules {
		if cm.Name == "" {
			return nil, errors.ConfigError("platform catalog %s contains a module without a name", source)
		}
		jmd := jpms.NewDescriptor(cm.Name, jpms.Origin{PlatformRelease: p.Release})
		for pkg, targets := range cm.Exports {
			jmd.Exports[pkg] = sets.New(targets...)
		}
		for dep, modifiers := range cm.Requires {
			jmd.Requires[dep] = sets.New(modifiers...)
		}
		for pkg, targets := range cm.Opens {
			jmd.Opens[pkg] = sets.New(targets...)
		}
		for service, providers := range cm.Provides {
			jmd.Provides[service] = sets.New(providers...)
		}
		jmd.Uses.AddAll(sets.New(cm.Uses...))
		jmd.Packages.AddAll(sets.New(cm.Packages...))
		// Exported packages are defined even when the catalog omits them
		// from the package list.
		for pkg := range cm.Exports {
			jmd.Packages.Add(pkg)
		}
		if err := jmd.Validate(); err != nil {
			return nil, err
		}
		if _, dup := p.byName[cm.Name]; dup {
			return nil, errors.ConfigError("platform catalog %s declares module %s twice", source, cm.Name)
		}
		p.byName[cm.Name] = jmd
		p.modules = append(p.modules, jmd)
	}
	return p, nil
}
