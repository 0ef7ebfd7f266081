package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrKind classifies pipeline failures so callers can branch on intent rather than text.
type ErrKind int

const (
	ErrKindImageMalformed    ErrKind = iota // PVD missing, bad image size, out-of-range extent
	ErrKindFileNotFound                     // named payload absent from the ISO directory
	ErrKindPayloadOverflow                  // buffer larger than its reserved sectors
	ErrKindSignatureNotFound                // signature and its patched variant both absent
	ErrKindAmbiguous                        // matches exist, none inside the region filter
	ErrKindRangeExceeded                    // write past buffer end or bad field size
	ErrKindMismatch                         // current value is neither original nor replacement
	ErrKindConfigInvalid                    // unknown field/record, malformed value
)

var kindNames = map[ErrKind]string{
	ErrKindImageMalformed:    "image malformed",
	ErrKindFileNotFound:      "file not found",
	ErrKindPayloadOverflow:   "payload overflow",
	ErrKindSignatureNotFound: "signature not found",
	ErrKindAmbiguous:         "ambiguous match",
	ErrKindRangeExceeded:     "range exceeded",
	ErrKindMismatch:          "value mismatch",
	ErrKindConfigInvalid:     "invalid configuration",
}

func (k ErrKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// Error is the typed error raised by the codec, the directory reader and the patchers.
// Stage and Payload are filled in by the orchestrator through Annotate.
type Error struct {
	Kind      ErrKind
	Stage     string
	Payload   string
	Offset    int64
	HasOffset bool
	Msg       string
	Err       error

	sentinel bool
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var sb strings.Builder
	if e.Stage != "" {
		sb.WriteString("stage " + e.Stage + ": ")
	}
	if e.Payload != "" {
		sb.WriteString("payload " + e.Payload + ": ")
	}
	sb.WriteString(e.Kind.String())
	if e.HasOffset {
		sb.WriteString(fmt.Sprintf(" at 0x%X", e.Offset))
	}
	if e.Msg != "" {
		sb.WriteString(": " + e.Msg)
	}
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.sentinel && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrImageMalformed    = &Error{Kind: ErrKindImageMalformed, sentinel: true}
	ErrFileNotFound      = &Error{Kind: ErrKindFileNotFound, sentinel: true}
	ErrPayloadOverflow   = &Error{Kind: ErrKindPayloadOverflow, sentinel: true}
	ErrSignatureNotFound = &Error{Kind: ErrKindSignatureNotFound, sentinel: true}
	ErrAmbiguous         = &Error{Kind: ErrKindAmbiguous, sentinel: true}
	ErrRangeExceeded     = &Error{Kind: ErrKindRangeExceeded, sentinel: true}
	ErrMismatch          = &Error{Kind: ErrKindMismatch, sentinel: true}
	ErrConfigInvalid     = &Error{Kind: ErrKindConfigInvalid, sentinel: true}
)

// NewError creates a typed error without an offset.
func NewError(kind ErrKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// NewOffsetError creates a typed error located at a byte offset.
func NewOffsetError(kind ErrKind, offset int64, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Offset: offset, HasOffset: true, Msg: fmt.Sprintf(format, args...)}
}

// WrapError creates a typed error around an underlying cause.
func WrapError(kind ErrKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first typed error in err's chain.
func KindOf(err error) (ErrKind, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind, true
	}
	return 0, false
}

// Annotate stamps stage and payload context onto a typed error. Fields already
// set are kept; untyped errors are wrapped with the same context.
func Annotate(err error, stage, payload string) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if !errors.As(err, &typed) {
		return fmt.Errorf("stage %s: payload %s: %w", stage, payload, err)
	}
	annotated := *typed
	if annotated.Stage == "" {
		annotated.Stage = stage
	}
	if annotated.Payload == "" {
		annotated.Payload = payload
	}
	return &annotated
}
