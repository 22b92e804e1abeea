package facetrack

import (
	"errors"
	"fmt"
	"log/slog"
)

// Kind classifies a failure. Every kind maps to a stable numeric code that
// external bridges can use.
type Kind int

const (
	KindFailed Kind = iota
	KindNotInitialized
	KindNotActivated
	KindInvalidArgument
	KindIOError
	KindFileNotFound
	KindCannotCreateFile
	KindBadFormat
	KindUnsupportedVersion
	KindIDNotFound
	KindFaceIDNotFound
	KindFaceImageNotFound
	KindAttributeNotDetected
	KindUnknownAttribute
	KindInsufficientBufferSize
	KindSyntaxError
	KindParameterNotFound
	KindImageTooSmall
	KindFaceNotFound
	KindInvalidTemplate
	KindNotLocked
)

var kindInfo = map[Kind]struct {
	name string
	code int
}{
	KindFailed:                 {"Failed", -1},
	KindNotActivated:           {"NotActivated", -2},
	KindInvalidArgument:        {"InvalidArgument", -4},
	KindIOError:                {"IOError", -5},
	KindImageTooSmall:          {"ImageTooSmall", -6},
	KindFaceNotFound:           {"FaceNotFound", -7},
	KindInsufficientBufferSize: {"InsufficientBufferSize", -8},
	KindCannotCreateFile:       {"CannotCreateFile", -11},
	KindBadFormat:              {"BadFormat", -12},
	KindFileNotFound:           {"FileNotFound", -13},
	KindIDNotFound:             {"IDNotFound", -18},
	KindAttributeNotDetected:   {"AttributeNotDetected", -19},
	KindUnknownAttribute:       {"UnknownAttribute", -21},
	KindUnsupportedVersion:     {"UnsupportedVersion", -22},
	KindSyntaxError:            {"SyntaxError", -23},
	KindParameterNotFound:      {"ParameterNotFound", -24},
	KindInvalidTemplate:        {"InvalidTemplate", -25},
	KindFaceIDNotFound:         {"FaceIDNotFound", -32},
	KindFaceImageNotFound:      {"FaceImageNotFound", -33},
	KindNotInitialized:         {"NotInitialized", -40},
	KindNotLocked:              {"NotLocked", -41},
}

func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Code returns the numeric error code of the kind.
func (k Kind) Code() int {
	if info, ok := kindInfo[k]; ok {
		return info.code
	}
	return -1
}

// KindFromCode is the inverse of Kind.Code. Unknown codes map to KindFailed.
func KindFromCode(code int) Kind {
	for k, info := range kindInfo {
		if info.code == code {
			return k
		}
	}
	return KindFailed
}

// Error is the error type returned by every tracker operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	// Offset is the character position of a failed parameter assignment,
	// or -1 when not applicable.
	Offset int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" (at offset %d)", e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so the package
// sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

func sentinel(k Kind) *Error { return &Error{Kind: k, Offset: -1} }

var (
	ErrFailed                 = sentinel(KindFailed)
	ErrNotInitialized         = sentinel(KindNotInitialized)
	ErrNotActivated           = sentinel(KindNotActivated)
	ErrInvalidArgument        = sentinel(KindInvalidArgument)
	ErrIOError                = sentinel(KindIOError)
	ErrFileNotFound           = sentinel(KindFileNotFound)
	ErrCannotCreateFile       = sentinel(KindCannotCreateFile)
	ErrBadFormat              = sentinel(KindBadFormat)
	ErrUnsupportedVersion     = sentinel(KindUnsupportedVersion)
	ErrIDNotFound             = sentinel(KindIDNotFound)
	ErrFaceIDNotFound         = sentinel(KindFaceIDNotFound)
	ErrFaceImageNotFound      = sentinel(KindFaceImageNotFound)
	ErrAttributeNotDetected   = sentinel(KindAttributeNotDetected)
	ErrUnknownAttribute       = sentinel(KindUnknownAttribute)
	ErrInsufficientBufferSize = sentinel(KindInsufficientBufferSize)
	ErrSyntaxError            = sentinel(KindSyntaxError)
	ErrParameterNotFound      = sentinel(KindParameterNotFound)
	ErrImageTooSmall          = sentinel(KindImageTooSmall)
	ErrFaceNotFound           = sentinel(KindFaceNotFound)
	ErrInvalidTemplate        = sentinel(KindInvalidTemplate)
	ErrNotLocked              = sentinel(KindNotLocked)
)

func newError(k Kind, op, format string, args ...any) *Error {
	return &Error{Kind: k, Op: op, Message: fmt.Sprintf(format, args...), Offset: -1}
}

func wrapError(k Kind, op string, err error) *Error {
	return &Error{Kind: k, Op: op, Offset: -1, Err: err}
}

// KindOf returns the kind carried by err, KindFailed for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFailed
}

// ErrorOffset returns the failure offset carried by err, or -1.
func ErrorOffset(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Offset
	}
	return -1
}

// ErrorMode selects what an ErrorPolicy does with a failure.
type ErrorMode int

const (
	// ModeReturn hands the error back to the caller unchanged.
	ModeReturn ErrorMode = iota
	// ModeAlert reports the error through the Alert callback and swallows it.
	ModeAlert
	// ModeSilent logs the error and swallows it.
	ModeSilent
)

// ErrorPolicy decides how a calling layer reacts to tracker errors. The
// tracker itself always returns errors; policies live with the caller.
type ErrorPolicy struct {
	Mode   ErrorMode
	Alert  func(error)
	Logger *slog.Logger
}

// Check applies the policy to err and returns what the caller should
// propagate.
func (p ErrorPolicy) Check(err error) error {
	if err == nil {
		return nil
	}
	switch p.Mode {
	case ModeAlert:
		if p.Alert != nil {
			p.Alert(err)
			return nil
		}
		return err
	case ModeSilent:
		logger := p.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("tracker error suppressed", "kind", KindOf(err).String(), "error", err)
		return nil
	default:
		return err
	}
}
