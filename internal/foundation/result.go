// Package foundation provides small generic utilities for explicit
// success/failure handling at component boundaries.
package foundation

import "fmt"

// Result is an operation that either succeeded with a T or failed with an
// E. It keeps command boundaries honest: the caller must inspect the result
// before touching the value.
type Result[T any, E error] struct {
	value T
	err   E
	isOk  bool
}

// Ok creates a successful Result.
func Ok[T any, E error](value T) Result[T, E] {
	return Result[T, E]{value: value, isOk: true}
}

// Err creates a failed Result.
func Err[T any, E error](err E) Result[T, E] {
	return Result[T, E]{err: err}
}

// IsOk reports success.
func (r Result[T, E]) IsOk() bool { return r.isOk }

// IsErr reports failure.
func (r Result[T, E]) IsErr() bool { return !r.isOk }

// Unwrap returns the value, panicking on a failed Result. Only for call
// sites that have already checked IsOk.
func (r Result[T, E]) Unwrap() T {
	if !r.isOk {
		panic(fmt.Sprintf("called Unwrap on Err result: %v", r.err))
	}
	return r.value
}

// UnwrapErr returns the error, panicking on a successful Result.
func (r Result[T, E]) UnwrapErr() E {
	if r.isOk {
		panic("called UnwrapErr on Ok result")
	}
	return r.err
}

// ToTuple converts to the conventional (value, error) pair.
func (r Result[T, E]) ToTuple() (T, E) {
	if r.isOk {
		var zero E
		return r.value, zero
	}
	var zero T
	return zero, r.err
}
