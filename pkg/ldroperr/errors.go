// Package ldroperr implements the protocol error taxonomy from §7: one
// typed error per failure class so callers can branch on Kind without
// string matching.
package ldroperr

import "fmt"

// Kind classifies an Error by what the caller should do about it.
type Kind int

const (
	KindProtocol Kind = iota
	KindAuth
	KindIntegrity
	KindConnectivity
	KindConsent
	KindInput
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindIntegrity:
		return "integrity"
	case KindConnectivity:
		return "connectivity"
	case KindConsent:
		return "consent"
	case KindInput:
		return "input"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by every layer of the core.
type Error struct {
	Kind   Kind
	Code   string // stable machine-readable tag, e.g. "CodeNotFound"
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, code, reason string) *Error {
	return &Error{Kind: kind, Code: code, Reason: reason}
}

func wrapErr(kind Kind, code, reason string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Reason: reason, Cause: cause}
}

// Protocol errors (fatal to session)

func ProtocolError(msg string) *Error {
	return newErr(KindProtocol, "ProtocolError", msg)
}

func UnexpectedMessage(expected, actual string) *Error {
	return newErr(KindProtocol, "UnexpectedMessage",
		fmt.Sprintf("expected %s, got %s", expected, actual))
}

// Authentication errors (fatal, security-sensitive; never reveal which side failed)

func CodeNotFound(code string) *Error {
	return newErr(KindAuth, "CodeNotFound", fmt.Sprintf("no host for code %s", code))
}

func DeviceNotTrusted(reason string) *Error {
	return newErr(KindAuth, "DeviceNotTrusted", reason)
}

func SignatureInvalid() *Error {
	return newErr(KindAuth, "SignatureInvalid", "signature verification failed")
}

// Integrity errors (fatal to current transfer)

func ChecksumMismatch(fileIdx int, chunkIdx uint64) *Error {
	return newErr(KindIntegrity, "ChecksumMismatch",
		fmt.Sprintf("file %d chunk %d", fileIdx, chunkIdx))
}

// Connectivity errors (retryable by caller; the core does not retry)

func IOError(cause error) *Error {
	return wrapErr(KindConnectivity, "Io", "i/o error", cause)
}

func TLSError(msg string) *Error {
	return newErr(KindConnectivity, "TlsError", msg)
}

func Timeout(secs int) *Error {
	return newErr(KindConnectivity, "Timeout", fmt.Sprintf("timed out after %ds", secs))
}

func KeepAliveFailed(secs int) *Error {
	return newErr(KindConnectivity, "KeepAliveFailed", fmt.Sprintf("no pong within %ds", secs))
}

// User/consent errors

func TransferRejected() *Error {
	return newErr(KindConsent, "TransferRejected", "peer declined the file list")
}

func TransferCancelled() *Error {
	return newErr(KindConsent, "TransferCancelled", "transfer cancelled")
}

// Input errors

func FileNotFound(path string) *Error {
	return newErr(KindInput, "FileNotFound", path)
}

func ResumeMismatch(reason string) *Error {
	return newErr(KindInput, "ResumeMismatch", reason)
}

func ResumeRejected(reason string) *Error {
	return newErr(KindInput, "ResumeRejected", reason)
}

func ConfigError(msg string) *Error {
	return newErr(KindInput, "ConfigError", msg)
}

// Internal errors (invariant violations — bugs)

func Internal(msg string) *Error {
	return newErr(KindInternal, "Internal", msg)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
