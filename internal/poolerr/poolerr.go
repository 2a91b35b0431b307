// Package poolerr classifies the pool's errors into the kinds named in the
// error-handling design: config-invalid, node-unreachable, address-invalid,
// protocol-malformed, unauthorized, stale-job, low-difficulty-share,
// malformed-share, and block-rejected. Sentinel values let callers use
// errors.Is/errors.As instead of matching on strings, the way the teacher's
// StratumError codes are matched on numeric constants rather than text.
package poolerr

import "errors"

// Kind identifies one of the error classes of the error-handling design.
type Kind int

const (
	KindConfigInvalid Kind = iota
	KindNodeUnreachable
	KindAddressInvalid
	KindProtocolMalformed
	KindUnauthorized
	KindStaleJob
	KindLowDifficultyShare
	KindMalformedShare
	KindBlockRejected
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "config-invalid"
	case KindNodeUnreachable:
		return "node-unreachable"
	case KindAddressInvalid:
		return "address-invalid"
	case KindProtocolMalformed:
		return "protocol-malformed"
	case KindUnauthorized:
		return "unauthorized"
	case KindStaleJob:
		return "stale-job"
	case KindLowDifficultyShare:
		return "low-difficulty-share"
	case KindMalformedShare:
		return "malformed-share"
	case KindBlockRejected:
		return "block-rejected"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its classification.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with no underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err is a poolerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
