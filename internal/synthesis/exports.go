package synthesis

import (
	"sort"
	"strings"

	"git.home.luguber.info/inful/modbuild/internal/artifact"
	"git.home.luguber.info/inful/modbuild/internal/errors"
	"git.home.luguber.info/inful/modbuild/internal/jpms"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

// packageInfoSentinel selects the packages of a project that carry a
// package-info.java. Only valid in export specs at project scope.
const packageInfoSentinel = "<package-info>"

// parsePackagesSpec expands one packages specification against the
// available packages:
//
//	"com.foo,com.bar"  both packages, which must exist in the module
//	"com.foo.*"        every available package with the prefix "com.foo."
//	"<package-info>"   the project's packages with a package-info.java
//
// modulePackages is the full package set of the module being built;
// available narrows it to the current scope (a single project's packages
// when project is non-nil).
func parsePackagesSpec(spec string, available sets.Set[string], modulePackages sets.Set[string], project *artifact.Project, directive, moduleName string) (sets.Set[string], error) {
	if spec == "" {
		return nil, errors.ConfigError("%ss attribute cannot have entry with empty packages specification", directive)
	}
	res := sets.New[string]()
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasSuffix(part, "*"):
			prefix := strings.TrimSuffix(part, "*")
			matched := false
			for pkg := range available {
				if strings.HasPrefix(pkg, prefix) {
					res.Add(pkg)
					matched = true
				}
			}
			if !matched {
				return nil, errors.ConfigError("the %s package specifier %q does not match any of %v", directive, part, sets.SortedStrings(available))
			}
		case part == packageInfoSentinel:
			if project == nil {
				if directive == "export" {
					return nil, errors.ConfigError("the export package specifier %q can only be used in a project, not a distribution", packageInfoSentinel)
				}
				return nil, errors.ConfigError("the package specifier %q cannot be used for the opens attribute", packageInfoSentinel)
			}
			for _, pkg := range project.PackageInfoPackages {
				res.Add(pkg)
			}
		default:
			if !modulePackages.Has(part) {
				return nil, errors.ConfigError("cannot %s package %s from %s as it is not defined by any project in the module %s", directive, part, moduleName, moduleName)
			}
			if project != nil && !available.Has(part) {
				return nil, errors.ConfigError("package %s in %ss attribute not defined by project %s", part, directive, project.Name)
			}
			res.Add(part)
		}
	}
	return res, nil
}

// processExports folds export specs into exports. A spec is either a
// packages specification or "packages to target1,target2" for a
// qualified export. Qualified and unqualified specs for the same package
// combine; the later unqualified spec widens to everyone.
func processExports(specs []string, exports map[string]sets.Set[string], available, modulePackages sets.Set[string], project *artifact.Project, moduleName string) error {
	var unqualified []string
	for _, spec := range specs {
		if before, after, found := strings.Cut(spec, " to "); found {
			targets := splitTargets(after)
			if len(targets) == 0 {
				return errors.ConfigError("exports attribute must have at least one target for qualified export")
			}
			pkgs, err := parsePackagesSpec(strings.TrimSpace(before), available, modulePackages, project, "export", moduleName)
			if err != nil {
				return err
			}
			for pkg := range pkgs {
				if exports[pkg] == nil {
					exports[pkg] = sets.New[string]()
				}
				exports[pkg].AddAll(sets.New(targets...))
			}
		} else {
			unqualified = append(unqualified, spec)
		}
	}
	for _, spec := range unqualified {
		pkgs, err := parsePackagesSpec(spec, available, modulePackages, project, "export", moduleName)
		if err != nil {
			return err
		}
		for pkg := range pkgs {
			exports[pkg] = sets.New[string]()
		}
	}
	return nil
}

// processOpens folds opens specs into opens, same grammar as exports
// minus the package-info sentinel.
func processOpens(specs []string, opens map[string]sets.Set[string], modulePackages sets.Set[string], moduleName string) error {
	for _, spec := range specs {
		if before, after, found := strings.Cut(spec, " to "); found {
			targets := splitTargets(after)
			if len(targets) == 0 {
				return errors.ConfigError("opens attribute must have at least one target for qualified open")
			}
			pkgs, err := parsePackagesSpec(strings.TrimSpace(before), modulePackages, modulePackages, nil, "open", moduleName)
			if err != nil {
				return err
			}
			for pkg := range pkgs {
				if opens[pkg] == nil {
					opens[pkg] = sets.New[string]()
				}
				opens[pkg].AddAll(sets.New(targets...))
			}
		} else {
			pkgs, err := parsePackagesSpec(spec, modulePackages, modulePackages, nil, "open", moduleName)
			if err != nil {
				return err
			}
			for pkg := range pkgs {
				opens[pkg] = sets.New[string]()
			}
		}
	}
	return nil
}

func splitTargets(s string) []string {
	var targets []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}
	return targets
}

// applyRequiresSpecs applies explicit requires entries ("name" or
// "modifier name") to requires, overriding any modifiers the module path
// resolution picked by default.
func applyRequiresSpecs(specs []string, requires map[string]sets.Set[string]) error {
	for _, entry := range specs {
		parts := strings.Fields(entry)
		if len(parts) == 0 {
			return errors.ConfigError("requires attribute cannot have an empty entry")
		}
		name := parts[len(parts)-1]
		requires[name] = sets.New(parts[:len(parts)-1]...)
	}
	return nil
}

// checkUses rejects service types given as binary nested-class names.
func checkUses(uses []string, owner string) error {
	for _, use := range uses {
		if strings.Contains(use, "$") {
			return errors.ConfigError("specification of service %s in %s must use non-binary name of nested class (i.e. replace '$' with '.')", use, owner)
		}
	}
	return nil
}

// parseConcealedSpec converts the raw requiresConcealed attribute value
// (decoded YAML: module spec to "*" or a package list) into a typed spec.
func parseConcealedSpec(raw map[string]any, owner string) (jpms.ConcealedSpec, error) {
	spec := jpms.ConcealedSpec{}
	for module, value := range raw {
		switch v := value.(type) {
		case string:
			if v != "*" {
				return nil, errors.ConfigError(`requiresConcealed value for %s in %s must be "*" or a list of packages, got %q`, module, owner, v)
			}
			spec[module] = jpms.ConcealedPackages{Wildcard: true}
		case []any:
			var packages []string
			for _, p := range v {
				pkg, ok := p.(string)
				if !ok {
					return nil, errors.ConfigError("requiresConcealed package entries for %s in %s must be strings", module, owner)
				}
				packages = append(packages, pkg)
			}
			sort.Strings(packages)
			spec[module] = jpms.ConcealedPackages{Packages: packages}
		case []string:
			packages := append([]string(nil), v...)
			sort.Strings(packages)
			spec[module] = jpms.ConcealedPackages{Packages: packages}
		default:
			return nil, errors.ConfigError(`requiresConcealed value for %s in %s must be "*" or a list of packages`, module, owner)
		}
	}
	return spec, nil
}
