package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "sixteen-byte-secret-for-tests"

func TestTokenRoundTrip(t *testing.T) {
	raw, err := NewAccessToken(testSecret).
		SetIdentity("alice").
		ToJWT()
	require.NoError(t, err)

	v, err := ParseToken(raw)
	require.NoError(t, err)

	identity, err := v.Verify(testSecret)
	require.NoError(t, err)
	require.Equal(t, "alice", identity)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	raw, err := NewAccessToken(testSecret).SetIdentity("alice").ToJWT()
	require.NoError(t, err)

	v, err := ParseToken(raw)
	require.NoError(t, err)

	_, err = v.Verify("a-different-secret-entirely")
	require.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	raw, err := NewAccessToken(testSecret).
		SetIdentity("alice").
		SetValidFor(time.Nanosecond).
		ToJWT()
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	v, err := ParseToken(raw)
	require.NoError(t, err)

	_, err = v.Verify(testSecret)
	require.Error(t, err)
}

func TestAccessTokenRequiresIdentity(t *testing.T) {
	_, err := NewAccessToken(testSecret).ToJWT()
	require.ErrorIs(t, err, ErrIdentityMissing)
}

func TestTokenProvider(t *testing.T) {
	raw, err := NewAccessToken(testSecret).SetIdentity("bob").ToJWT()
	require.NoError(t, err)

	p := &TokenProvider{Secret: testSecret}

	r := httptest.NewRequest("GET", "/ws?token="+raw, nil)
	identity, err := p.IdentityFor(r)
	require.NoError(t, err)
	require.Equal(t, "bob", identity)

	r = httptest.NewRequest("GET", "/ws", nil)
	_, err = p.IdentityFor(r)
	require.ErrorIs(t, err, ErrNoToken)

	r = httptest.NewRequest("GET", "/ws?token=not-a-jwt", nil)
	_, err = p.IdentityFor(r)
	require.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	p := StaticProvider{}

	r := httptest.NewRequest("GET", "/ws?user=carol", nil)
	identity, err := p.IdentityFor(r)
	require.NoError(t, err)
	require.Equal(t, "carol", identity)

	r = httptest.NewRequest("GET", "/ws", nil)
	_, err = p.IdentityFor(r)
	require.ErrorIs(t, err, ErrNoToken)
}
