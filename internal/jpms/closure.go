package jpms

import (
	"git.home.luguber.info/inful/modbuild/internal/errors"
	"git.home.luguber.info/inful/modbuild/internal/util/sets"
)

// EdgePredicate decides whether a requires edge with the given modifier
// set is followed during a closure walk.
type EdgePredicate func(modifiers sets.Set[string]) bool

// TransitiveOnly follows only edges carrying the given transitive keyword.
// Used to implement implied readability: a module transitively reads only
// what its dependencies re-export via requires transitive.
func TransitiveOnly(keyword string) EdgePredicate {
	return func(modifiers sets.Set[string]) bool {
		return modifiers.Has(keyword)
	}
}

// Closure computes the transitive closure of the requires relation from
// roots within observable. Revisiting an already-included module is a
// no-op, so requires cycles terminate. Resolving a name that is not in
// observable is a configuration error naming the identifier.
//
// A nil predicate follows every edge.
func Closure(roots []*ModuleDescriptor, observable []*ModuleDescriptor, pred EdgePredicate) (map[string]*ModuleDescriptor, error) {
	byName := indexByName(observable)
	closure := map[string]*ModuleDescriptor{}
	var add func(mod *ModuleDescriptor) error
	add = func(mod *ModuleDescriptor) error {
		if _, seen := closure[mod.Name]; seen {
			return nil
		}
		closure[mod.Name] = mod
		for name, modifiers := range mod.Requires {
			if pred != nil && !pred(modifiers) {
				continue
			}
			dep, ok := byName[name]
			if !ok {
				return errors.ConfigError("%s is not in the set of observable modules (required by %s)", name, mod.Name)
			}
			if err := add(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range roots {
		if err := add(root); err != nil {
			return nil, err
		}
	}
	return closure, nil
}

// ClosureFromNames resolves root names within observable, then computes
// the closure. An unknown root name is a configuration error.
func ClosureFromNames(roots []string, observable []*ModuleDescriptor, pred EdgePredicate) (map[string]*ModuleDescriptor, error) {
	byName := indexByName(observable)
	resolved := make([]*ModuleDescriptor, 0, len(roots))
	for _, name := range roots {
		mod, ok := byName[name]
		if !ok {
			return nil, errors.ConfigError("%s is not in the set of observable modules", name)
		}
		resolved = append(resolved, mod)
	}
	return Closure(resolved, observable, pred)
}

// ClosureFromRequires computes the modules transitively readable through a
// requires map: each required module plus everything those re-export via
// the transitive keyword. Used to detect when an imported package is
// already readable without an explicit requires entry.
func ClosureFromRequires(requires map[string]sets.Set[string], observable []*ModuleDescriptor, transitiveKeyword string) (map[string]*ModuleDescriptor, error) {
	names := make([]string, 0, len(requires))
	for name := range requires {
		names = append(names, name)
	}
	return ClosureFromNames(names, observable, TransitiveOnly(transitiveKeyword))
}

func indexByName(modules []*ModuleDescriptor) map[string]*ModuleDescriptor {
	byName := make(map[string]*ModuleDescriptor, len(modules))
	for _, m := range modules {
		byName[m.Name] = m
	}
	return byName
}
