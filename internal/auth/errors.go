package auth

import "errors"

// ErrInvalidToken is matched (via errors.Is) by every token verification
// failure, whatever the reason.
var ErrInvalidToken = errors.New("auth: invalid token")

// Failure classifies why a token was rejected. It exists for logs and
// tests; nothing user-visible depends on it.
type Failure int

const (
	FailureMissing Failure = iota + 1
	FailureMalformed
	FailureSignature
	FailureExpired
	FailureWrongFamily
)

func (f Failure) String() string {
	switch f {
	case FailureMissing:
		return "missing"
	case FailureMalformed:
		return "malformed"
	case FailureSignature:
		return "signature"
	case FailureExpired:
		return "expired"
	case FailureWrongFamily:
		return "wrong_family"
	default:
		return "unknown"
	}
}

// TokenError is returned by VerifyAccessToken and VerifyRefreshToken.
//
// Error() is identical for every Reason, so any message that reaches a
// client or a generic log line reads the same for an expired token, a
// forged one and garbage. Read Reason explicitly when diagnosing.
type TokenError struct {
	Reason Failure
	cause  error
}

func (e *TokenError) Error() string {
	return ErrInvalidToken.Error()
}

func (e *TokenError) Is(target error) bool {
	return target == ErrInvalidToken
}

func (e *TokenError) Unwrap() error {
	return e.cause
}
