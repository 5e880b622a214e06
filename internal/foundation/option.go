// Package foundation provides generic utilities for type-safe operations.
package foundation

// Option represents a value that may or may not be present.
// It avoids the ambiguity of pointer-or-nil for optional scalar values.
type Option[T any] struct {
	value T
	some  bool
}

// Some creates an Option holding a value.
func Some[T any](value T) Option[T] {
	return Option[T]{value: value, some: true}
}

// None creates an empty Option.
func None[T any]() Option[T] {
	return Option[T]{}
}

// IsSome returns true if the Option holds a value.
func (o Option[T]) IsSome() bool {
	return o.some
}

// Get returns the value and whether it is present.
func (o Option[T]) Get() (T, bool) {
	return o.value, o.some
}

// GetOr returns the value if present, otherwise the fallback.
func (o Option[T]) GetOr(fallback T) T {
	if o.some {
		return o.value
	}
	return fallback
}
