package errcode

import (
	"errors"
	"io/fs"
	"syscall"
)

// Code is a stable error identifier for HAL operations.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK              Code = "ok"
	InvalidArgument Code = "invalid_argument"
	NotFound        Code = "not_found"
	AccessDenied    Code = "access_denied"
	IoError         Code = "io_error"
	NotSupported    Code = "not_supported"
	Timeout         Code = "timeout"
	NotConfigured   Code = "not_configured"
	NotStarted      Code = "not_started"
	Busy            Code = "busy"

	Unknown Code = "unknown" // generic fallback
)

// E is the wrapper used when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Unknown. It walks the
// wrap chain so codes survive fmt.Errorf("%w") and errors.Join.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	var e *E
	if errors.As(err, &e) {
		return e.C
	}
	return Unknown
}

// Wrap attaches a code and an operation to a cause.
func Wrap(c Code, op string, err error) error {
	return &E{C: c, Op: op, Err: err}
}

// Unsupported reports a capability that is absent on this platform or chip.
// The capability name travels with the error so callers can tell which
// request was refused.
func Unsupported(capability string) error {
	return &E{C: NotSupported, Msg: capability}
}

// FromErrno maps a low-level device error to a Code based on the underlying
// errno: permission and ownership problems become AccessDenied, missing
// devices become NotFound, everything else is an IoError.
func FromErrno(op string, err error) error {
	if err == nil {
		return nil
	}
	c := IoError
	switch {
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM), errors.Is(err, syscall.EBUSY):
		c = AccessDenied
	case errors.Is(err, syscall.ENOENT), errors.Is(err, syscall.ENODEV), errors.Is(err, fs.ErrNotExist):
		c = NotFound
	}
	return &E{C: c, Op: op, Err: err}
}
