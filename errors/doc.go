// Package errors provides the structured error type that crosses the bridge
// boundary in place of panics and free-form error strings.
//
// Every error returned by a dispatcher call is an *Error with one of a fixed
// set of kinds. The numeric kind values are part of the boundary layout
// (ErrorInfo.Kind) and must never be renumbered.
//
// Use the Builder for structured construction:
//
//	err := errors.New(errors.KindInvalidInput).
//		Op("execute").
//		Detail("message is not valid JSON").
//		Cause(jsonErr).
//		Build()
//
// Or the convenience constructors for common cases:
//
//	err := errors.InvalidInput("unknown checksum %s", sum)
//	err := errors.OutOfGas(limit, "db_write")
//
// Capture wraps an operation in a recover boundary so that no panic ever
// unwinds past the dispatcher. All errors support errors.Is/As; two *Error
// values match under Is when their kinds are equal.
package errors
