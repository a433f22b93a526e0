// Package auth defines how a connection's handshake credentials are checked.
package auth

import (
	"context"
	"errors"

	"synopsis/internal/domain"
)

// Authenticator decides whether a connection may bind to a document.
// Authenticate may block (network calls, delays); it runs on the
// connection's own goroutine and never under a document lock.
type Authenticator interface {
	Authenticate(ctx context.Context, creds domain.Credentials) error
}

// AuthenticatorFunc adapts a function to the Authenticator interface
type AuthenticatorFunc func(ctx context.Context, creds domain.Credentials) error

// Authenticate calls f(ctx, creds)
func (f AuthenticatorFunc) Authenticate(ctx context.Context, creds domain.Credentials) error {
	return f(ctx, creds)
}

// AllowAll accepts every connection regardless of credentials
type AllowAll struct{}

// Authenticate implements Authenticator
func (AllowAll) Authenticate(ctx context.Context, creds domain.Credentials) error {
	return nil
}

// ErrNilAuthenticator is returned by Validate for a nil function adapter
var ErrNilAuthenticator = errors.New("authenticator function is nil")

// Validate reports misconfigured authenticators so that backends can fail
// at construction instead of on the first handshake.
func Validate(a Authenticator) error {
	if a == nil {
		return nil
	}
	if f, ok := a.(AuthenticatorFunc); ok && f == nil {
		return ErrNilAuthenticator
	}
	return nil
}
