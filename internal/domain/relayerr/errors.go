// Package relayerr defines the typed errors every relay component returns. Each error carries
// a stable code, a class, and whether the caller may retry the same request.
package relayerr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeBadSignature        Code = "BAD_SIGNATURE"
	CodeUntrustedEnclave    Code = "UNTRUSTED_ENCLAVE"
	CodeReplayedQuote       Code = "REPLAYED_QUOTE"
	CodeSignatureMismatch   Code = "SIGNATURE_MISMATCH"
	CodeParameterMismatch   Code = "PARAMETER_MISMATCH"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamError       Code = "UPSTREAM_ERROR"
	CodeSponsorUnavailable  Code = "SPONSOR_UNAVAILABLE"
	CodeNetworkError        Code = "NETWORK_ERROR"
	CodeTimeout             Code = "TIMEOUT"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeSponsorDenied       Code = "SPONSOR_DENIED"
	CodeSubmissionRejected  Code = "SUBMISSION_REJECTED"
)

type Class string

const (
	ClassTrust         Class = "trust"
	ClassConsistency   Class = "consistency"
	ClassAvailability  Class = "availability"
	ClassAuthorization Class = "authorization"
	ClassLedger        Class = "ledger"
	ClassUpstream      Class = "upstream"
)

var classOf = map[Code]Class{
	CodeBadSignature:        ClassTrust,
	CodeUntrustedEnclave:    ClassTrust,
	CodeReplayedQuote:       ClassTrust,
	CodeSignatureMismatch:   ClassTrust,
	CodeParameterMismatch:   ClassConsistency,
	CodeUpstreamUnavailable: ClassAvailability,
	CodeSponsorUnavailable:  ClassAvailability,
	CodeNetworkError:        ClassAvailability,
	CodeTimeout:             ClassAvailability,
	CodeUnauthorized:        ClassAuthorization,
	CodeSponsorDenied:       ClassAuthorization,
	CodeSubmissionRejected:  ClassLedger,
	CodeUpstreamError:       ClassUpstream,
}

// Error is the relay's domain error.
type Error struct {
	Code   Code
	Class  Class
	Detail string
	Params map[string]interface{}
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether resending the same request may succeed.
func (e *Error) Retryable() bool {
	return e.Class == ClassAvailability
}

// Is matches any *Error with the same code, so errors.Is(err, relayerr.ReplayedQuote) works
// against the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithParam attaches structured context returned to the caller.
func (e *Error) WithParam(key string, value interface{}) *Error {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// New builds an error of the given code.
func New(code Code, detail string) *Error {
	return &Error{Code: code, Class: classOf[code], Detail: detail}
}

// Newf builds an error with a formatted detail.
func Newf(code Code, format string, a ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, a...))
}

// Wrap builds an error of the given code around cause.
func Wrap(code Code, detail string, cause error) *Error {
	e := New(code, detail)
	e.Err = cause
	return e
}

// Sentinels for errors.Is comparisons.
var (
	BadSignature        = New(CodeBadSignature, "")
	UntrustedEnclave    = New(CodeUntrustedEnclave, "")
	ReplayedQuote       = New(CodeReplayedQuote, "")
	SignatureMismatch   = New(CodeSignatureMismatch, "")
	ParameterMismatch   = New(CodeParameterMismatch, "")
	UpstreamUnavailable = New(CodeUpstreamUnavailable, "")
	UpstreamError       = New(CodeUpstreamError, "")
	SponsorUnavailable  = New(CodeSponsorUnavailable, "")
	NetworkError        = New(CodeNetworkError, "")
	Timeout             = New(CodeTimeout, "")
	Unauthorized        = New(CodeUnauthorized, "")
	SponsorDenied       = New(CodeSponsorDenied, "")
	SubmissionRejected  = New(CodeSubmissionRejected, "")
)

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, or "" when err is not a relay error.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// Mismatch is a PARAMETER_MISMATCH naming the diverging field.
func Mismatch(field string, requested, quoted interface{}) *Error {
	return Newf(CodeParameterMismatch, "%s: requested %v, quote has %v", field, requested, quoted).
		WithParam("field", field)
}
