// Package fallback carries a value that may have been substituted for a
// failed computation.
package fallback

// Result holds either a computed value or a default value together with the
// cause that forced the default.
type Result[T any] struct {
	Value T
	Cause error
}

// Ok wraps a successfully computed value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Degraded wraps a default value standing in for a failed computation.
func Degraded[T any](def T, cause error) Result[T] {
	return Result[T]{Value: def, Cause: cause}
}

// IsDegraded reports whether Value is a substitute.
func (r Result[T]) IsDegraded() bool {
	return r.Cause != nil
}

// Unwrap collapses the result to its value, reporting degradation to onDegraded
// when the value is a substitute.
func (r Result[T]) Unwrap(onDegraded func(error)) T {
	if r.Cause != nil && onDegraded != nil {
		onDegraded(r.Cause)
	}
	return r.Value
}
