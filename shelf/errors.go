package shelf

import (
	"errors"
	"fmt"
)

// Code is the wire-compatible numeric error code from spec section 6.
//
// Most callers should use errors.Is against the Err* sentinels below;
// Code exists for callers that need the integer (status reporting, the
// example CLI) rather than the Go error.
type Code int

const (
	CodeSuccess Code = iota
	CodeNoImpl
	CodeInvalid
	CodeNoFile
	CodeNoPerm
	CodeBroken
	CodeDupRec
	CodeNoRec
	CodeLogic
	CodeSystem
	_ // 10..14 reserved, matching the gap in spec section 6
	_
	_
	_
	_
	CodeMisc
)

// Sentinel errors. Engines never return these bare - they wrap them via
// WrapOp/WrapKey below so the message carries the failing operation and key, while
// errors.Is(err, ErrNoRec) keeps working through the wrap.
var (
	ErrNoImpl  = errors.New("shelf: not implemented")
	ErrInvalid = errors.New("shelf: invalid argument or state")
	ErrNoFile  = errors.New("shelf: no such file")
	ErrNoPerm  = errors.New("shelf: operation not permitted")
	ErrBroken  = errors.New("shelf: database broken")
	ErrDupRec  = errors.New("shelf: duplicate record")
	ErrNoRec   = errors.New("shelf: no such record")
	ErrLogic   = errors.New("shelf: logical inconsistency")
	ErrSystem  = errors.New("shelf: system error")
	ErrBusy    = errors.New("shelf: busy")
	ErrMisc    = errors.New("shelf: miscellaneous error")
)

var sentinelCode = map[error]Code{
	ErrNoImpl:  CodeNoImpl,
	ErrInvalid: CodeInvalid,
	ErrNoFile:  CodeNoFile,
	ErrNoPerm:  CodeNoPerm,
	ErrBroken:  CodeBroken,
	ErrDupRec:  CodeDupRec,
	ErrNoRec:   CodeNoRec,
	ErrLogic:   CodeLogic,
	ErrSystem:  CodeSystem,
	ErrMisc:    CodeMisc,
}

// Error is the uniform error type returned by engine APIs.
//
// It carries the operation name and, when known, the offending key, so
// messages read like:
//
//	get: shelf: no such record (key="missing")
//
// Use errors.As to recover structured fields, errors.Is to check for one
// of the sentinels above.
type Error struct {
	Op    string
	Key   []byte
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Op + ": " + e.cause()
	if e.Key != nil {
		msg += fmt.Sprintf(" (key=%q)", e.Key)
	}

	return msg
}

func (e *Error) cause() string {
	if e.Err == nil {
		return ""
	}

	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// Code returns the wire-compatible numeric code for this error, walking the
// error chain for the first recognized sentinel. Returns CodeMisc if none
// of the sentinels in this package matches.
func (e *Error) Code() Code {
	for sentinel, code := range sentinelCode {
		if errors.Is(e, sentinel) {
			return code
		}
	}

	return CodeMisc
}

// WrapOp returns err annotated with op, preserving the error chain so
// errors.Is/errors.As keep working. Returns nil if err is nil.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Op: op, Err: err}
}

// WrapKey is like WrapOp but additionally attaches the key that was being
// operated on, for error messages that need it.
func WrapKey(op string, key []byte, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Op: op, Key: key, Err: err}
}
