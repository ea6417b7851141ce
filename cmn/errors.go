// Package cmn holds types and helpers shared by every mgm package: the
// cluster-wide configuration, the error taxonomy, and small low-level
// utilities that would otherwise be copy-pasted into each package.
package cmn

import (
	"fmt"
	"syscall"
)

// ErrKind classifies every failure the MGM core can produce into one of the
// kinds from the error-handling design: each kind carries a fixed POSIX
// errno and a recovery policy enforced by the caller, not by this package.
type ErrKind int

const (
	KindNotFound ErrKind = iota
	KindPermissionDenied
	KindInvalidArg
	KindConflict
	KindChecksumMismatch
	KindTransient
	KindFatal
)

func (k ErrKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindInvalidArg:
		return "InvalidArg"
	case KindConflict:
		return "Conflict"
	case KindChecksumMismatch:
		return "ChecksumMismatch"
	case KindTransient:
		return "Transient"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Errno returns the POSIX errno every kind maps to, per the error-handling
// design: ENOENT/EACCES/EINVAL/EEXIST/EBADR/EAGAIN/EIO.
func (k ErrKind) Errno() syscall.Errno {
	switch k {
	case KindNotFound:
		return syscall.ENOENT
	case KindPermissionDenied:
		return syscall.EACCES
	case KindInvalidArg:
		return syscall.EINVAL
	case KindConflict:
		return syscall.EEXIST
	case KindChecksumMismatch:
		return syscall.EBADR
	case KindTransient:
		return syscall.EAGAIN
	case KindFatal:
		return syscall.EIO
	default:
		return syscall.EIO
	}
}

// Err is the single error type every package returns across package
// boundaries: a kind, a message, and the underlying cause if any.
type Err struct {
	Kind    ErrKind
	Message string
	Cause   error
}

func (e *Err) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Err) Unwrap() error { return e.Cause }

// Errno implements the interface the CGI/CLI edge uses to turn any error
// into the process exit code and the wire-level reply code.
func (e *Err) Errno() syscall.Errno { return e.Kind.Errno() }

func NewErr(kind ErrKind, format string, a ...interface{}) *Err {
	return &Err{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

func WrapErr(kind ErrKind, cause error, format string, a ...interface{}) *Err {
	return &Err{Kind: kind, Message: fmt.Sprintf(format, a...), Cause: cause}
}

func ErrNotFound(format string, a ...interface{}) *Err {
	return NewErr(KindNotFound, format, a...)
}

func ErrPermissionDenied(format string, a ...interface{}) *Err {
	return NewErr(KindPermissionDenied, format, a...)
}

func ErrInvalidArg(format string, a ...interface{}) *Err {
	return NewErr(KindInvalidArg, format, a...)
}

func ErrConflict(format string, a ...interface{}) *Err {
	return NewErr(KindConflict, format, a...)
}

func ErrChecksumMismatch(format string, a ...interface{}) *Err {
	return NewErr(KindChecksumMismatch, format, a...)
}

func ErrTransient(format string, a ...interface{}) *Err {
	return NewErr(KindTransient, format, a...)
}

func ErrFatal(format string, a ...interface{}) *Err {
	return NewErr(KindFatal, format, a...)
}

// AsErr extracts the *Err carried by any error, if present.
func AsErr(err error) (*Err, bool) {
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Err); ok {
		return e, true
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return AsErr(u.Unwrap())
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrKind) bool {
	e, ok := AsErr(err)
	return ok && e.Kind == kind
}
