package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures
type ErrorKind int

const (
	KindInvalidRequest ErrorKind = iota + 1
	KindCapabilityUnavailable
	KindJobAlreadyRunning
	KindBackgroundRemovalFailed
	KindEncodingFailed
	KindPersistFailed
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid request"
	case KindCapabilityUnavailable:
		return "capability unavailable"
	case KindJobAlreadyRunning:
		return "job already running"
	case KindBackgroundRemovalFailed:
		return "background removal failed"
	case KindEncodingFailed:
		return "encoding failed"
	case KindPersistFailed:
		return "persist failed"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is matching by kind
var (
	ErrInvalidRequest          = &Error{Kind: KindInvalidRequest}
	ErrIncompatibleOption      = &Error{Kind: KindInvalidRequest, incompatible: true}
	ErrCapabilityUnavailable   = &Error{Kind: KindCapabilityUnavailable}
	ErrJobAlreadyRunning       = &Error{Kind: KindJobAlreadyRunning}
	ErrBackgroundRemovalFailed = &Error{Kind: KindBackgroundRemovalFailed}
	ErrEncodingFailed          = &Error{Kind: KindEncodingFailed}
	ErrPersistFailed           = &Error{Kind: KindPersistFailed}
	ErrCancelled               = &Error{Kind: KindCancelled}
)

// Error is the typed failure surfaced by every pipeline stage
type Error struct {
	Kind   ErrorKind
	Format Format
	Detail string
	Err    error

	hasFormat    bool
	incompatible bool
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.hasFormat {
		msg = fmt.Sprintf("%s (%s)", msg, e.Format)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind. ErrIncompatibleOption only matches incompatible-option errors.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return !t.incompatible || e.incompatible
}

// Incompatible reports whether the error rejects a combination of options
func (e *Error) Incompatible() bool { return e.incompatible }

// InvalidRequest reports a malformed export request
func InvalidRequest(format string, args ...any) error {
	return &Error{Kind: KindInvalidRequest, Detail: fmt.Sprintf(format, args...)}
}

// IncompatibleOption reports an option combination that cannot be honored
func IncompatibleOption(format string, args ...any) error {
	return &Error{Kind: KindInvalidRequest, Detail: fmt.Sprintf(format, args...), incompatible: true}
}

// CapabilityUnavailable reports a collaborator that was not present at startup
func CapabilityUnavailable(capability string) error {
	return &Error{Kind: KindCapabilityUnavailable, Detail: capability}
}

// JobAlreadyRunning reports a rejected second job
func JobAlreadyRunning() error {
	return &Error{Kind: KindJobAlreadyRunning}
}

// BackgroundRemovalFailed wraps a segmentation or compositing failure
func BackgroundRemovalFailed(detail string, err error) error {
	return &Error{Kind: KindBackgroundRemovalFailed, Detail: detail, Err: err}
}

// EncodingFailed wraps an encoder failure for a format
func EncodingFailed(f Format, detail string, err error) error {
	return &Error{Kind: KindEncodingFailed, Format: f, Detail: detail, Err: err, hasFormat: true}
}

// PersistFailed wraps a disk or permission failure
func PersistFailed(detail string, err error) error {
	return &Error{Kind: KindPersistFailed, Detail: detail, Err: err}
}

// Cancelled reports a job stopped on caller request
func Cancelled(err error) error {
	return &Error{Kind: KindCancelled, Err: err}
}

// KindOf extracts the ErrorKind from err, or 0 when err is not a pipeline error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
