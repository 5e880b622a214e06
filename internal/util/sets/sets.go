package sets

import "sort"

// Set is a simple generic hash set for comparable keys.
// Intentionally minimal: no reflection, no iteration helpers beyond range.
// Usage: s := sets.New[string]("a","b"); s.Add("c"); if s.Has("b") {...}
// Kept internal to avoid committing to external API stability pre-1.0.
type Set[T comparable] map[T]struct{}

// New creates a set pre-populated with the provided values.
func New[T comparable](vals ...T) Set[T] {
	s := make(Set[T], len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

// Add inserts value into the set.
func (s Set[T]) Add(v T) { s[v] = struct{}{} }

// AddAll inserts every element of other into the set.
func (s Set[T]) AddAll(other Set[T]) {
	for v := range other {
		s[v] = struct{}{}
	}
}

// Has returns true if v is present.
func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

// Delete removes v if present.
func (s Set[T]) Delete(v T) { delete(s, v) }

// Clone returns a shallow copy.
func (s Set[T]) Clone() Set[T] {
	out := make(Set[T], len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Union returns a new set containing the elements of both sets.
func (s Set[T]) Union(other Set[T]) Set[T] {
	out := s.Clone()
	out.AddAll(other)
	return out
}

// Intersect returns a new set containing the elements present in both sets.
func (s Set[T]) Intersect(other Set[T]) Set[T] {
	out := make(Set[T])
	for k := range s {
		if other.Has(k) {
			out[k] = struct{}{}
		}
	}
	return out
}

// Minus returns a new set containing the elements of s not present in other.
func (s Set[T]) Minus(other Set[T]) Set[T] {
	out := make(Set[T])
	for k := range s {
		if !other.Has(k) {
			out[k] = struct{}{}
		}
	}
	return out
}

// Equal reports whether both sets contain exactly the same elements.
func (s Set[T]) Equal(other Set[T]) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// Values returns the elements in unspecified order.
func (s Set[T]) Values() []T {
	out := make([]T, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

// SortedStrings returns the elements of a string set in lexical order.
// Descriptor rendering depends on stable ordering, so most call sites
// go through this rather than Values.
func SortedStrings(s Set[string]) []string {
	out := s.Values()
	sort.Strings(out)
	return out
}
