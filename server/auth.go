package server

import (
	"context"
	"crypto/subtle"
	"errors"
)

// ErrAuthFailed is returned by an Authenticator for bad credentials.
var ErrAuthFailed = errors.New("invalid credentials")

// Authenticator resolves credentials to the user whose mailboxes the
// session operates on.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (user string, err error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, username, password string) (string, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, username, password string) (string, error) {
	return f(ctx, username, password)
}

// StaticAuthenticator checks credentials against a fixed username to
// password table.
type StaticAuthenticator map[string]string

// Authenticate implements Authenticator.
func (a StaticAuthenticator) Authenticate(_ context.Context, username, password string) (string, error) {
	want, ok := a[username]
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		return "", ErrAuthFailed
	}
	return username, nil
}
