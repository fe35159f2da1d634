// Package errors provides the error vocabulary shared by every logcask
// component. Errors carry a machine-readable code, the operation that raised
// them, and an optional wrapped cause, forming a logical stack trace.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes understood by callers. Byte-level codecs and store components
// map their failures onto this fixed set so that recovery logic never has to
// match on message text.
const (
	ENotInitialized       = "not initialized"
	EAlreadyOpen          = "already open"
	EBadParam             = "bad parameter"
	EOutOfRange           = "out of range"
	EFileNotFound         = "file not found"
	EEndOfFile            = "end of file"
	ETruncated            = "truncated"
	ECorruptedArchive     = "corrupted archive"
	ECorruptedIR          = "corrupted ir"
	ECorruptedMetadata    = "corrupted metadata"
	EUnsupportedVersion   = "unsupported version"
	EConflictingNodeType  = "conflicting node type"
	EProtocolError        = "protocol error"
	EProtocolNotSupported = "protocol not supported"
	ENotPermitted         = "operation not permitted"
	EIllegalByteSequence  = "illegal byte sequence"
	EIoErrno              = "io error"
	EDbBulkWrite          = "db bulk write failure"
	EUnsupported          = "unsupported operation"
	EInternal             = "internal error"
)

// Error is the error type returned across package boundaries.
//
// Code targets automated handlers so that recovery can occur. Msg is for the
// operator. Op and Err chain errors together into a logical stack trace.
//
// To show where an error happens, add Op:
//
//	&errors.Error{Code: errors.EOutOfRange, Op: "dict.AddOccurrence"}
type Error struct {
	Code string
	Msg  string
	Op   string
	Err  error
}

// Error implements the error interface by writing Op, Code and Msg from the
// outermost error inward.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		fmt.Fprintf(&b, "%s: ", e.Op)
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		if e.Code != "" {
			b.WriteString(e.Code)
		}
		if e.Msg != "" {
			if e.Code != "" {
				b.WriteString(": ")
			}
			b.WriteString(e.Msg)
		}
	}
	return b.String()
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// New returns an error with the given code, op and message.
func New(code, op, msg string) *Error {
	return &Error{Code: code, Op: op, Msg: msg}
}

// Newf returns an error with a formatted message.
func Newf(code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and op, preserving it as the cause.
func Wrap(err error, code, op string) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// ErrorCode returns the code of the first *Error in err's chain that carries
// one, or EInternal for non-nil errors of other types. A nil error has no
// code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for {
		var e *Error
		if !errors.As(err, &e) {
			return EInternal
		}
		if e.Code != "" {
			return e.Code
		}
		if e.Err == nil {
			return EInternal
		}
		err = e.Err
	}
}

// ErrorOp returns the op of the outermost *Error in err's chain.
func ErrorOp(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Is reports whether err's chain contains an *Error with the given code.
func Is(err error, code string) bool {
	for {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		if e.Err == nil {
			return false
		}
		err = e.Err
	}
}
