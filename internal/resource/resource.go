// Package resource holds the tagged outcome type shared by every
// asynchronous operation of the chat core.
package resource

import "fmt"

type State int

const (
	StateIdle State = iota
	StateLoading
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Resource is Idle, Loading, Success(value) or Error(message).
// The zero value is Idle.
type Resource[T any] struct {
	state State
	value T
	err   string
}

func Idle[T any]() Resource[T] { return Resource[T]{state: StateIdle} }

func Loading[T any]() Resource[T] { return Resource[T]{state: StateLoading} }

func Success[T any](v T) Resource[T] { return Resource[T]{state: StateSuccess, value: v} }

func Error[T any](msg string) Resource[T] { return Resource[T]{state: StateError, err: msg} }

// FromErr wraps err as an Error resource.
func FromErr[T any](err error) Resource[T] { return Error[T](err.Error()) }

func (r Resource[T]) State() State { return r.state }

// Value returns the success payload; ok is false for any other state.
func (r Resource[T]) Value() (T, bool) {
	return r.value, r.state == StateSuccess
}

// Err returns the error message, or "" unless the state is Error.
func (r Resource[T]) Err() string { return r.err }

func (r Resource[T]) IsLoading() bool { return r.state == StateLoading }
func (r Resource[T]) IsSuccess() bool { return r.state == StateSuccess }
func (r Resource[T]) IsError() bool   { return r.state == StateError }

// Terminal reports whether no further state can follow on a one-shot read.
func (r Resource[T]) Terminal() bool {
	return r.state == StateSuccess || r.state == StateError
}

func (r Resource[T]) String() string {
	switch r.state {
	case StateSuccess:
		return fmt.Sprintf("success(%v)", r.value)
	case StateError:
		return fmt.Sprintf("error(%s)", r.err)
	}
	return r.state.String()
}

// Last drains a one-shot feed and returns its final element, which is the
// terminal state when the producer followed the Loading -> terminal contract.
// An empty feed yields Idle.
func Last[T any](ch <-chan Resource[T]) Resource[T] {
	var last Resource[T]
	for r := range ch {
		last = r
	}
	return last
}
