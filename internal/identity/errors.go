package identity

import (
	"errors"

	"github.com/example/coaching-marketplace/internal/application"
)

var (
	// ErrInvalidCredentials is returned when an email, password or bearer
	// token does not match an active account. Lookup misses collapse into
	// it so callers cannot probe for registered emails.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrSessionExpired is returned when a session's validity window has
	// elapsed.
	ErrSessionExpired = errors.New("identity: session expired")
	// ErrSessionRevoked is returned when a session was explicitly revoked.
	ErrSessionRevoked = errors.New("identity: session revoked")
	// ErrInvalidServiceToken is returned when a service JWT fails
	// signature or claim checks.
	ErrInvalidServiceToken = errors.New("identity: invalid service token")

	ErrInvalidPasswordHash         = errors.New("identity: invalid password hash format")
	ErrIncompatiblePasswordVersion = errors.New("identity: incompatible password hash version")
)

// errorKind labels identity errors for logging, deferring to the
// application mapping for everything else.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, ErrInvalidServiceToken):
		return "invalid_service_token"
	}
	return application.ErrorKind(err)
}
