package artifact

// Edge is one traversed dependency edge during a walk. A nil *Edge marks
// a root.
type Edge struct {
	Src  Artifact
	Kind EdgeKind
}

// Visitor receives callbacks during WalkDeps.
//
// PreVisit gates both recursion into dst and the post-order Visit call;
// returning false prunes the subtree. VisitEdge fires for every
// non-ignored edge leaving a visited artifact, including edges to
// artifacts already seen. Visit fires post-order, once per artifact.
type Visitor struct {
	PreVisit  func(dst Artifact, edge *Edge) bool
	Visit     func(dep Artifact, edge *Edge)
	VisitEdge func(src, dst Artifact, edge *Edge)
}

// WalkDeps performs a depth-first walk of the dependency graph from
// roots. Edges whose kind is in ignored are never traversed or reported.
// Each artifact is entered at most once per walk, even when PreVisit
// rejects it. Unknown dependency IDs are an error.
func WalkDeps(reg *Registry, roots []Artifact, v Visitor, ignored ...EdgeKind) error {
	ignoredSet := map[EdgeKind]bool{}
	for _, k := range ignored {
		ignoredSet[k] = true
	}
	visited := map[string]bool{}

	var walk func(dep Artifact, edge *Edge) error
	walk = func(dep Artifact, edge *Edge) error {
		if visited[dep.ID()] {
			return nil
		}
		visited[dep.ID()] = true
		if v.PreVisit != nil && !v.PreVisit(dep, edge) {
			return nil
		}
		for _, d := range dep.DepIDs() {
			if ignoredSet[d.Kind] {
				continue
			}
			dst, err := reg.MustGet(d.ID)
			if err != nil {
				return err
			}
			childEdge := &Edge{Src: dep, Kind: d.Kind}
			if v.VisitEdge != nil {
				v.VisitEdge(dep, dst, childEdge)
			}
			if !visited[dst.ID()] {
				if err := walk(dst, childEdge); err != nil {
					return err
				}
			}
		}
		if v.Visit != nil {
			v.Visit(dep, edge)
		}
		return nil
	}

	for _, root := range roots {
		if err := walk(root, nil); err != nil {
			return err
		}
	}
	return nil
}

// DeclaringModuleDistribution returns the module-defining distribution
// that bundles the given project, or nil when no such distribution
// exists. Ownership is unique: a project belongs to at most one module.
func (r *Registry) DeclaringModuleDistribution(p *Project) *Distribution {
	for _, d := range r.Distributions() {
		if d.ModuleName() == "" {
			continue
		}
		for _, id := range d.ProjectIDs {
			if id == p.ID() {
				return d
			}
		}
	}
	return nil
}

// ArchivedDeps returns the constituents bundled into the distribution's
// archive: its projects plus transitive project dependencies, stopping at
// other distributions and at excluded libraries.
func (r *Registry) ArchivedDeps(d *Distribution) ([]Artifact, error) {
	var out []Artifact
	seen := map[string]bool{}
	var add func(id string) error
	add = func(id string) error {
		if seen[id] {
			return nil
		}
		seen[id] = true
		a, err := r.MustGet(id)
		if err != nil {
			return err
		}
		switch dep := a.(type) {
		case *Project:
			out = append(out, dep)
			for _, pd := range dep.DepIDs() {
				if pd.Kind != EdgeDefault {
					continue
				}
				child, err := r.MustGet(pd.ID)
				if err != nil {
					return err
				}
				// Distributions and excluded libraries bound the archive.
				if _, isProj := child.(*Project); isProj {
					if err := add(pd.ID); err != nil {
						return err
					}
				} else if lib, isLib := child.(*Library); isLib && !isExcluded(d, lib) {
					if err := add(pd.ID); err != nil {
						return err
					}
				}
			}
		case *Library:
			out = append(out, dep)
		}
		return nil
	}
	for _, id := range d.ProjectIDs {
		if err := add(id); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func isExcluded(d *Distribution, lib *Library) bool {
	for _, id := range d.ExcludedLibs {
		if id == lib.ID() {
			return true
		}
	}
	return false
}
