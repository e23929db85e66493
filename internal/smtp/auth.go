// Package smtp implements the SMTP receiver: a per-connection session state
// machine, the listener that drives it, and the hand-off of completed
// messages to a delivery provider.
package smtp

import (
	"context"
	"crypto/subtle"
	"errors"
)

// AnonymousIdentity is recorded for sessions that issue AUTH while
// authentication is not required.
const AnonymousIdentity = "anonymous"

// ErrAuthFailed is returned by authenticators when credentials are rejected.
var ErrAuthFailed = errors.New("authentication failed")

// Authenticator validates a username and password and returns the identity
// to record on the session.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (identity string, err error)
}

// StaticAuthenticator accepts exactly one configured credential pair.
type StaticAuthenticator struct {
	username string
	password string
}

// NewStaticAuthenticator creates a StaticAuthenticator for the given
// credentials.
func NewStaticAuthenticator(username, password string) *StaticAuthenticator {
	return &StaticAuthenticator{
		username: username,
		password: password,
	}
}

// Enabled returns true if credentials are configured.
func (a *StaticAuthenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// Authenticate compares the credentials in constant time. The identity is
// the username.
func (a *StaticAuthenticator) Authenticate(_ context.Context, username, password string) (string, error) {
	if !a.Enabled() {
		return "", ErrAuthFailed
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	if !userOK || !passOK {
		return "", ErrAuthFailed
	}
	return username, nil
}
