package errors

import "runtime/debug"

// Capture runs fn and converts any panic into an error.
//
// A panic whose value is an *Error is a typed abort (out of gas raised deep
// inside host code, for example) and is returned as is. Any other panic
// value becomes KindInternalPanic with the goroutine stack as backtrace.
func Capture[T any](op string, fn func() (T, error)) (result T, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var zero T
		result = zero
		err = FromPanic(op, r)
	}()
	return fn()
}

// FromPanic converts a recovered value into an *Error.
func FromPanic(op string, r any) *Error {
	if e, ok := r.(*Error); ok {
		return WithOp(e, op)
	}
	b := New(KindInternalPanic).Op(op).Backtrace(string(debug.Stack()))
	if cause, ok := r.(error); ok {
		return b.Detail("panic: %v", cause).Cause(cause).Build()
	}
	return b.Detail("panic: %v", r).Build()
}
