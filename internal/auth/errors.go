package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig reports an invalid registration; it is only returned at startup.
	ErrConfig = errors.New("authentication configuration error")

	// ErrNoAuthenticatorConfigured is returned when no mapping covers a path.
	ErrNoAuthenticatorConfigured = errors.New("no authenticator configured for path")

	// ErrInvalidCredentials is returned when a login service rejects credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrStateMismatch is returned when an OpenID callback carries a state that
	// does not match the one stored in the session.
	ErrStateMismatch = errors.New("openid state mismatch")

	// ErrProviderError wraps any failure talking to the identity provider.
	ErrProviderError = errors.New("identity provider error")

	// ErrSessionExpired is returned when a round trip completes after the
	// session that started it has expired.
	ErrSessionExpired = errors.New("session expired")

	// ErrForbidden is the reason attached to a role check failure.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated is the reason attached to a missing identity.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// ProviderError describes a failed exchange with the identity provider. Code
// is the OAuth2 error code when the provider returned one. It matches
// ErrProviderError under errors.Is.
type ProviderError struct {
	Code string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider error %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("identity provider error: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProviderError }

// providerErrorCode extracts the provider error code from err, if any.
func providerErrorCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// reasonName is the short label used in logs and metrics for a rejection.
func reasonName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrStateMismatch):
		return "state_mismatch"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrProviderError):
		return "provider_error"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "error"
	}
}
