package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind categorizes the error. Zero is reserved for "no error".
type Kind uint32

const (
	KindInvalidInput     Kind = 1 // malformed buffer, bad UTF-8, bad JSON, stale handle
	KindEngineFailure    Kind = 2 // the execution engine reported an error
	KindOutOfGas         Kind = 3
	KindSignatureInvalid Kind = 4
	KindUnauthorized     Kind = 5 // whitelist or admin rejection, write in read-only call
	KindInternalPanic    Kind = 6 // caught unexpected abort, always a bug
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindEngineFailure:
		return "engine_failure"
	case KindOutOfGas:
		return "out_of_gas"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindUnauthorized:
		return "unauthorized"
	case KindInternalPanic:
		return "internal_panic"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Kinds lists every defined kind in numeric order.
func Kinds() []Kind {
	return []Kind{
		KindInvalidInput,
		KindEngineFailure,
		KindOutOfGas,
		KindSignatureInvalid,
		KindUnauthorized,
		KindInternalPanic,
	}
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrEngineFailure    = &Error{Kind: KindEngineFailure}
	ErrOutOfGas         = &Error{Kind: KindOutOfGas}
	ErrSignatureInvalid = &Error{Kind: KindSignatureInvalid}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrInternalPanic    = &Error{Kind: KindInternalPanic}
)

// Error is the structured error type used across the bridge.
type Error struct {
	Cause     error
	Kind      Kind
	Op        string
	Detail    string
	Backtrace string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(e.Kind.String())
	b.WriteByte(']')

	if e.Op != "" {
		b.WriteByte(' ')
		b.WriteString(e.Op)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Message is the text handed to the host in ErrorInfo.Message: the Error
// string without the backtrace.
func (e *Error) Message() string {
	return e.Error()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(kind Kind) *Builder {
	return &Builder{err: Error{Kind: kind}}
}

// Op sets the operation the error was raised in
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Backtrace attaches diagnostic text
func (b *Builder) Backtrace(bt string) *Builder {
	b.err.Backtrace = bt
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

// InvalidInput creates a malformed-input error
func InvalidInput(format string, args ...any) *Error {
	return New(KindInvalidInput).Detail(format, args...).Build()
}

// EngineFailure wraps an error reported by the execution engine
func EngineFailure(cause error, format string, args ...any) *Error {
	return New(KindEngineFailure).Detail(format, args...).Cause(cause).Build()
}

// OutOfGas creates an out-of-gas error for the given limit
func OutOfGas(limit uint64, descriptor string) *Error {
	return New(KindOutOfGas).Detail("gas limit %d exceeded by %s", limit, descriptor).Build()
}

// SignatureInvalid creates a signature verification failure
func SignatureInvalid(format string, args ...any) *Error {
	return New(KindSignatureInvalid).Detail(format, args...).Build()
}

// Unauthorized creates a permission failure
func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized).Detail(format, args...).Build()
}

// WithOp returns a copy of err with Op set, unless it already has one.
func WithOp(err *Error, op string) *Error {
	if err == nil || err.Op != "" {
		return err
	}
	c := *err
	c.Op = op
	return &c
}

// As converts any error into an *Error. Errors that are not already
// structured are treated as engine failures.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindEngineFailure, Detail: err.Error(), Cause: err}
}

// KindOf returns the kind of err, or zero for nil.
func KindOf(err error) Kind {
	if e := As(err); e != nil {
		return e.Kind
	}
	return 0
}
