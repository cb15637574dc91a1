package domain

import (
	"errors"
	"strings"
)

// Error kinds. Match them with errors.Is against any *Error.
var (
	ErrTokenRequest     = errors.New("token request failed")
	ErrTransportConnect = errors.New("transport connect failed")
	ErrDeviceBusy       = errors.New("camera is busy")
	ErrConstraint       = errors.New("camera constraints not satisfiable")
	ErrCapture          = errors.New("camera capture failed")
	ErrAuth             = errors.New("authentication failed")
)

// GenericRequestMessage is reported when a service gives no reason.
const GenericRequestMessage = "request failed"

const (
	GuidanceDeviceBusy = "the camera is in use by another application; close other apps or tabs using it and try again"
	GuidanceConstraint = "the camera cannot deliver the requested format; pick a different device or a lower resolution"
)

// Error is a user-facing failure of the live session core.
type Error struct {
	Kind     error
	Message  string
	Guidance string
	Err      error
}

// NewError builds an *Error of the given kind.
func NewError(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Guidance != "" {
		b.WriteString(" (")
		b.WriteString(e.Guidance)
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the kind of err, or nil when err is not an *Error.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// KindName is a short label for metrics and logs.
func KindName(err error) string {
	switch KindOf(err) {
	case ErrTokenRequest:
		return "token_request"
	case ErrTransportConnect:
		return "transport_connect"
	case ErrDeviceBusy:
		return "device_busy"
	case ErrConstraint:
		return "constraint"
	case ErrCapture:
		return "capture"
	case ErrAuth:
		return "auth"
	}
	return "other"
}
