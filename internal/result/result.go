// Package result implements the right-biased result type every AuthService
// operation returns: either a Success carrying data, or a Failure carrying
// a stable reason code, a message, an HTTP status code, and optional
// metadata. See spec.md §4.6 and §7.
package result

import "fmt"

// Reason is a stable, fixed string identifying why an operation failed.
type Reason string

// Result is the sum type returned by every AuthService operation.
type Result[T any] struct {
	ok     bool
	data   T
	reason Reason
	msg    string
	status int
	meta   map[string]any
}

// Success builds an ok Result carrying data.
func Success[T any](data T) Result[T] {
	return Result[T]{ok: true, data: data}
}

// Fail builds a Failure Result. status defaults to 400 when 0 is passed.
func Fail[T any](reason Reason, msg string, status int, meta map[string]any) Result[T] {
	if status == 0 {
		status = 400
	}
	return Result[T]{reason: reason, msg: msg, status: status, meta: meta}
}

// IsOk reports whether this is a Success.
func (r Result[T]) IsOk() bool { return r.ok }

// Reason returns the failure reason code, or "" for a Success.
func (r Result[T]) Reason() Reason { return r.reason }

// Message returns the human-readable failure message, or "" for a Success.
func (r Result[T]) Message() string { return r.msg }

// Status returns the HTTP status code a Failure should surface as, or 0
// for a Success.
func (r Result[T]) Status() int { return r.status }

// Meta returns the failure's metadata map, which may be nil.
func (r Result[T]) Meta() map[string]any { return r.meta }

// Unwrap returns the data, panicking if this is a Failure. Mirrors the
// spec's "Failure.unwrap() throws; Success.unwrap() returns the data."
func (r Result[T]) Unwrap() T {
	if !r.ok {
		panic(fmt.Sprintf("result: Unwrap called on Failure(%s): %s", r.reason, r.msg))
	}
	return r.data
}

// UnwrapOr returns the data, or fallback if this is a Failure.
func (r Result[T]) UnwrapOr(fallback T) T {
	if !r.ok {
		return fallback
	}
	return r.data
}

// Map transforms a Success's data, passing a Failure through unchanged.
func Map[T, U any](r Result[T], f func(T) U) Result[U] {
	if !r.ok {
		return Result[U]{reason: r.reason, msg: r.msg, status: r.status, meta: r.meta}
	}
	return Success(f(r.data))
}

// FlatMap chains a Result-returning function onto a Success, passing a
// Failure through unchanged.
func FlatMap[T, U any](r Result[T], f func(T) Result[U]) Result[U] {
	if !r.ok {
		return Result[U]{reason: r.reason, msg: r.msg, status: r.status, meta: r.meta}
	}
	return f(r.data)
}
