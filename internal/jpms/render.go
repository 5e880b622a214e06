package jpms

import (
	"fmt"
	"sort"
	"strings"

	"git.home.luguber.info/inful/modbuild/internal/errors"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

// AsModuleInfo renders the descriptor as the contents of a
// module-info.java file. The output is syntactically exact module
// descriptor grammar since it is fed directly to the external compiler.
// Metadata the grammar cannot express (conceals, origin, modulepath,
// concealed requires) is emitted as comments when extrasAsComments is set.
func (m *ModuleDescriptor) AsModuleInfo(extrasAsComments bool) string {
	var out strings.Builder
	fmt.Fprintf(&out, "module %s {\n", m.Name)
	for _, dep := range sortedKeys(m.Requires) {
		modifiers := ""
		if mods := m.Requires[dep]; len(mods) > 0 {
			modifiers = strings.Join(sets.SortedStrings(mods), " ") + " "
		}
		fmt.Fprintf(&out, "    requires %s%s;\n", modifiers, dep)
	}
	for _, pkg := range sortedKeys(m.Exports) {
		fmt.Fprintf(&out, "    exports %s%s;\n", pkg, targetsClause(m.Exports[pkg]))
	}
	for _, use := range sets.SortedStrings(m.Uses) {
		fmt.Fprintf(&out, "    uses %s;\n", use)
	}
	for _, pkg := range sortedKeys(m.Opens) {
		fmt.Fprintf(&out, "    opens %s%s;\n", pkg, targetsClause(m.Opens[pkg]))
	}
	for _, service := range sortedKeys(m.Provides) {
		providers := strings.Join(sets.SortedStrings(m.Provides[service]), ", ")
		fmt.Fprintf(&out, "    provides %s with %s;\n", service, providers)
	}
	if extrasAsComments {
		for _, pkg := range sets.SortedStrings(m.Conceals()) {
			fmt.Fprintf(&out, "    // conceals: %s\n", pkg)
		}
		if m.JarPath != "" {
			fmt.Fprintf(&out, "    // jarpath: %s\n", strings.ReplaceAll(m.JarPath, `\`, `\\`))
		}
		if m.Origin.Dist != nil {
			fmt.Fprintf(&out, "    // dist: %s\n", m.Origin.Dist.Name)
		}
		if len(m.ModulePath) > 0 {
			names := make([]string, len(m.ModulePath))
			for i, jmd := range m.ModulePath {
				names[i] = jmd.Name
			}
			fmt.Fprintf(&out, "    // modulepath: %s\n", strings.Join(names, ", "))
		}
		for _, dep := range sortedKeys(m.ConcealedRequires) {
			for _, pkg := range sets.SortedStrings(m.ConcealedRequires[dep]) {
				fmt.Fprintf(&out, "    // concealed-requires: %s/%s\n", dep, pkg)
			}
		}
	}
	out.WriteString("}\n")
	return out.String()
}

func targetsClause(targets sets.Set[string]) string {
	if len(targets) == 0 {
		return ""
	}
	return " to " + strings.Join(sets.SortedStrings(targets), ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseModuleInfo is the semantic inverse of AsModuleInfo: it parses the
// textual module descriptor grammar back into a descriptor. Comments are
// skipped, so the round trip is semantic, not byte-identical. The result
// carries no origin; callers attach one when needed.
func ParseModuleInfo(text string) (*ModuleDescriptor, error) {
	jmd := &ModuleDescriptor{
		Exports:           map[string]sets.Set[string]{},
		Requires:          map[string]sets.Set[string]{},
		ConcealedRequires: map[string]sets.Set[string]{},
		Uses:              sets.New[string](),
		Opens:             map[string]sets.Set[string]{},
		Provides:          map[string]sets.Set[string]{},
		Packages:          sets.New[string](),
	}
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" || line == "}" {
			continue
		}
		if strings.HasPrefix(line, "module ") {
			name := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(line, "module ")), "{")
			jmd.Name = strings.TrimSpace(name)
			continue
		}
		line = strings.TrimSuffix(line, ";")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, errors.ConfigError("cannot parse module descriptor line: %q", raw)
		}
		switch fields[0] {
		case "requires":
			// Everything before the final token is a modifier.
			dep := fields[len(fields)-1]
			jmd.Requires[dep] = sets.New(fields[1 : len(fields)-1]...)
		case "exports":
			pkg, targets, err := parseTargets(fields[1:], raw)
			if err != nil {
				return nil, err
			}
			jmd.Exports[pkg] = targets
			jmd.Packages.Add(pkg)
		case "opens":
			pkg, targets, err := parseTargets(fields[1:], raw)
			if err != nil {
				return nil, err
			}
			jmd.Opens[pkg] = targets
			jmd.Packages.Add(pkg)
		case "uses":
			jmd.Uses.Add(fields[1])
		case "provides":
			withIdx := -1
			for i, f := range fields {
				if f == "with" {
					withIdx = i
					break
				}
			}
			if withIdx != 2 || withIdx >= len(fields)-1 {
				return nil, errors.ConfigError("cannot parse provides directive: %q", raw)
			}
			providers := sets.New[string]()
			for _, p := range fields[3:] {
				providers.Add(strings.TrimSuffix(p, ","))
			}
			jmd.Provides[fields[1]] = providers
		default:
			return nil, errors.ConfigError("cannot parse module descriptor line: %q", raw)
		}
	}
	if jmd.Name == "" {
		return nil, errors.ConfigError("module descriptor text has no module declaration")
	}
	return jmd, nil
}

func parseTargets(fields []string, raw string) (string, sets.Set[string], error) {
	pkg := fields[0]
	targets := sets.New[string]()
	if len(fields) > 1 {
		if fields[1] != "to" || len(fields) < 3 {
			return "", nil, errors.ConfigError("cannot parse directive targets: %q", raw)
		}
		for _, t := range fields[2:] {
			targets.Add(strings.TrimSuffix(t, ","))
		}
	}
	return pkg, targets, nil
}
