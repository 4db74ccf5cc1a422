package auth

import (
	"errors"
	"net/http"
)

var ErrNoToken = errors.New("missing access token")

// Provider resolves the verified user identity for an incoming signaling
// channel. The relay never trusts a client-asserted identity; everything it
// forwards is attributed via this interface.
type Provider interface {
	// IdentityFor returns the authenticated user identity for the request,
	// or an error if the request carries no valid credential.
	IdentityFor(r *http.Request) (string, error)
}

// TokenProvider authenticates channels with an HS256 access token passed
// as the "token" query parameter on the upgrade request.
type TokenProvider struct {
	Secret string
}

func (p *TokenProvider) IdentityFor(r *http.Request) (string, error) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		return "", ErrNoToken
	}
	v, err := ParseToken(raw)
	if err != nil {
		return "", err
	}
	return v.Verify(p.Secret)
}

// StaticProvider trusts the "user" query parameter as-is. Intended for
// local development and tests only.
type StaticProvider struct{}

func (StaticProvider) IdentityFor(r *http.Request) (string, error) {
	user := r.URL.Query().Get("user")
	if user == "" {
		return "", ErrNoToken
	}
	return user, nil
}
