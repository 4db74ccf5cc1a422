// Package auth issues and verifies the access tokens that bind a signaling
// channel to an authenticated user identity.
package auth

import (
	"errors"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

const defaultValidDuration = 6 * time.Hour

var (
	ErrSecretMissing   = errors.New("secret key is missing")
	ErrIdentityMissing = errors.New("token has no subject identity")
)

// AccessToken produces a signed token carrying a user identity.
type AccessToken struct {
	secret   string
	identity string
	validFor time.Duration
}

// NewAccessToken creates a token builder signed with the given shared secret.
func NewAccessToken(secret string) *AccessToken {
	return &AccessToken{secret: secret}
}

func (t *AccessToken) SetIdentity(identity string) *AccessToken {
	t.identity = identity
	return t
}

func (t *AccessToken) SetValidFor(duration time.Duration) *AccessToken {
	t.validFor = duration
	return t
}

// ToJWT signs the token with HS256 and returns its compact serialization.
func (t *AccessToken) ToJWT() (string, error) {
	if t.secret == "" {
		return "", ErrSecretMissing
	}
	if t.identity == "" {
		return "", ErrIdentityMissing
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(t.secret)},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", err
	}

	validFor := defaultValidDuration
	if t.validFor > 0 {
		validFor = t.validFor
	}

	now := time.Now()
	claims := jwt.Claims{
		Subject:   t.identity,
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(validFor)),
	}
	return jwt.Signed(sig).Claims(claims).CompactSerialize()
}

// TokenVerifier wraps a parsed, not-yet-verified token.
type TokenVerifier struct {
	token *jwt.JSONWebToken
}

// ParseToken parses a compact JWT without verifying its signature.
// Call Verify with the shared secret to obtain the identity.
func ParseToken(raw string) (*TokenVerifier, error) {
	tok, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, err
	}
	return &TokenVerifier{token: tok}, nil
}

// Verify checks the signature and validity window and returns the verified
// user identity.
func (v *TokenVerifier) Verify(secret string) (string, error) {
	if secret == "" {
		return "", ErrSecretMissing
	}
	claims := jwt.Claims{}
	if err := v.token.Claims([]byte(secret), &claims); err != nil {
		return "", err
	}
	// Zero leeway: an expired token must not slip through on the default
	// one-minute clock-skew allowance.
	if err := claims.ValidateWithLeeway(jwt.Expected{Time: time.Now()}, 0); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrIdentityMissing
	}
	return claims.Subject, nil
}
