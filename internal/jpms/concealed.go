package jpms

import (
	"context"
	"log/slog"
	"strings"

	"git.home.luguber.info/inful/modbuild/internal/compliance"
	"git.home.luguber.info/inful/modbuild/internal/errors"
	"git.home.luguber.info/inful/modbuild/internal/metrics"
	"git.home.luguber.info/inful/modbuild/internal/observability"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

// ConcealedSpec is a declared requiresConcealed attribute: module-name
// specifier (optionally "name@<release-range>") to either the literal "*"
// or a list of package names (each optionally suffixed "?" for
// ignore-if-absent).
type ConcealedSpec map[string]ConcealedPackages

// ConcealedPackages is one spec value. Wildcard and Packages are mutually
// exclusive.
type ConcealedPackages struct {
	Wildcard bool
	Packages []string
}

// ValidateConcealedRequires checks spec against catalog and records the
// concealed (module, package) pairs into result. release is the current
// target platform release; entries scoped with @<range> outside it are
// skipped entirely. importer names the module doing the importing ("" for
// the unnamed module).
//
// Per requested package: concealed -> recorded; exported unqualified and
// not requested via wildcard -> redundant, warned and skipped; absent and
// not optional -> fatal, naming the module that actually defines the
// package when one exists in the catalog.
func ValidateConcealedRequires(ctx context.Context, catalog []*ModuleDescriptor, spec ConcealedSpec, result map[string]sets.Set[string], importer string, release int, rec metrics.Recorder) error {
	byName := indexByName(catalog)
	for moduleSpec, packages := range spec {
		moduleName, scope, err := compliance.SplitVersionedName(moduleSpec)
		if err != nil {
			return errors.ConfigError("requiresConcealed entry %q: %v", moduleSpec, err)
		}
		if !scope.IsZero() && !scope.Contains(release) {
			continue
		}
		jmd, ok := byName[moduleName]
		if !ok {
			return errors.ConfigError("module %s in requiresConcealed does not exist on platform release %d", moduleName, release)
		}

		requested := packages.Packages
		if packages.Wildcard {
			requested = sets.SortedStrings(jmd.Conceals())
		}
		if result[moduleName] == nil && len(requested) > 0 {
			result[moduleName] = sets.New[string]()
		}
		for _, pkg := range requested {
			optional := strings.HasSuffix(pkg, "?")
			pkg = strings.TrimSuffix(pkg, "?")
			switch jmd.PackageVisibility(pkg, importer) {
			case VisibilityConcealed:
				result[moduleName].Add(pkg)
			case VisibilityExported:
				if !packages.Wildcard {
					suffix := ""
					if importer != "" {
						suffix = " from module " + importer
					}
					observability.WarnContext(ctx, "Package is not concealed",
						slog.String("package", pkg),
						slog.String("module", moduleName+suffix))
					if rec != nil {
						rec.IncAdvisory("redundant-concealed")
					}
				}
			case VisibilityAbsent:
				if optional {
					continue
				}
				owner, _ := LookupPackage(catalog, pkg, importer)
				suffix := ""
				if owner != nil {
					suffix = " but in module " + owner.Name
				}
				return errors.DependencyError("package %s is not defined in module %s%s", pkg, moduleName, suffix)
			}
		}
		if len(result[moduleName]) == 0 {
			delete(result, moduleName)
		}
	}
	return nil
}

// RequiredExports aggregates the concealed requires of many descriptors
// into (module, package) -> requesting module names, the shape consumed
// when generating runtime --add-exports flags.
func RequiredExports(descriptors []*ModuleDescriptor) map[ExportKey]sets.Set[string] {
	required := map[ExportKey]sets.Set[string]{}
	for _, jmd := range descriptors {
		if jmd != nil {
			jmd.CollectRequiredExports(required)
		}
	}
	return required
}
