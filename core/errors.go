package core

import "errors"

var (
	ErrTokenExpired         = errors.New("token has expired")
	ErrInvalidToken         = errors.New("invalid token")
	ErrInvalidSigningMethod = errors.New("unexpected signing method")

	ErrMalformedMessage = errors.New("malformed sign-in message")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidNonce     = errors.New("nonce is invalid, expired or already used")
	ErrDomainMismatch   = errors.New("message domain does not match")
	ErrMessageExpired   = errors.New("sign-in message outside its validity window")
	ErrInvalidAddress   = errors.New("invalid wallet address")

	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionRevoked     = errors.New("session has been revoked")
	ErrSessionBlacklisted = errors.New("session is blacklisted")
	ErrAddressMismatch    = errors.New("session address does not match token")
	ErrDeviceMismatch     = errors.New("session device or network changed")

	ErrStoreOperationFailed = errors.New("store operation failed")
	ErrUnauthorized         = errors.New("unauthorized")
)

// FailureReason is the coarse, client-visible category of an auth failure.
type FailureReason string

const (
	ReasonNoToken            FailureReason = "no_token"
	ReasonInvalidToken       FailureReason = "invalid_token"
	ReasonSessionInvalid     FailureReason = "session_invalid"
	ReasonVerificationFailed FailureReason = "verification_failed"
)

// ReasonFor collapses an internal error into the client-visible category.
// Anything not recognized maps to verification_failed so infra errors stay opaque.
func ReasonFor(err error) FailureReason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrInvalidSigningMethod):
		return ReasonInvalidToken
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionRevoked),
		errors.Is(err, ErrSessionBlacklisted),
		errors.Is(err, ErrAddressMismatch),
		errors.Is(err, ErrDeviceMismatch):
		return ReasonSessionInvalid
	default:
		return ReasonVerificationFailed
	}
}
