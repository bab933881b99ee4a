package directoutput

import (
	"errors"
	"fmt"
)

// Result is an HRESULT-style status code. The zero value is S_OK; all
// failure codes travel through forwarding layers unmodified.
type Result uint32

const (
	SOK             Result = 0x00000000
	EFail           Result = 0x80004005
	ENotImpl        Result = 0x80004001
	EHandle         Result = 0x80070006
	EInvalidArg     Result = 0x80070057
	EOutOfMemory    Result = 0x8007000E
	EBufferTooSmall Result = 0xFF04006F
	EPageNotActive  Result = 0xFF040001
)

func (r Result) String() string {
	switch r {
	case SOK:
		return "S_OK"
	case EFail:
		return "E_FAIL"
	case ENotImpl:
		return "E_NOTIMPL"
	case EHandle:
		return "E_HANDLE"
	case EInvalidArg:
		return "E_INVALIDARG"
	case EOutOfMemory:
		return "E_OUTOFMEMORY"
	case EBufferTooSmall:
		return "E_BUFFERTOOSMALL"
	case EPageNotActive:
		return "E_PAGENOTACTIVE"
	}
	return fmt.Sprintf("0x%08X", uint32(r))
}

// Error is a failed Result, optionally wrapping the cause.
type Error struct {
	Result Result
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("directoutput: %s: %v", e.Result, e.Err)
	}
	return fmt.Sprintf("directoutput: %s", e.Result)
}

func (e *Error) Unwrap() error { return e.Err }

// Fail returns an error carrying the given result code.
func Fail(r Result) error {
	return &Error{Result: r}
}

// Failf returns an error carrying r and a formatted cause.
func Failf(r Result, format string, args ...any) error {
	return &Error{Result: r, Err: fmt.Errorf(format, args...)}
}

// ResultOf maps an error back to its result code: nil is S_OK, an *Error
// yields its code, anything else is E_FAIL.
func ResultOf(err error) Result {
	if err == nil {
		return SOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Result
	}
	return EFail
}

// IsResult reports whether err carries the given result code.
func IsResult(err error, r Result) bool {
	return ResultOf(err) == r
}
