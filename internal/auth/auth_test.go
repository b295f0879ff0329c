package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildersync/chat-core/internal/identity"
)

var testSecret = []byte("test-secret-key")

func TestVerifyRoundTrip(t *testing.T) {
	ident := identity.Identity{Role: identity.RoleClient, ID: "c42"}

	token, err := Sign(testSecret, "buildersync", ident, time.Hour)
	require.NoError(t, err)

	v := NewJWTVerifier(testSecret, "buildersync")
	got, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, ident, got)
}

func TestVerifyRejectsExpired(t *testing.T) {
	ident := identity.Identity{Role: identity.RoleCompany, ID: "m1"}

	token, err := Sign(testSecret, "buildersync", ident, -time.Minute)
	require.NoError(t, err)

	v := NewJWTVerifier(testSecret, "buildersync")
	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	ident := identity.Identity{Role: identity.RoleClient, ID: "c1"}

	token, err := Sign([]byte("other-secret"), "buildersync", ident, time.Hour)
	require.NoError(t, err)

	v := NewJWTVerifier(testSecret, "buildersync")
	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	ident := identity.Identity{Role: identity.RoleClient, ID: "c1"}

	token, err := Sign(testSecret, "someone-else", ident, time.Hour)
	require.NoError(t, err)

	v := NewJWTVerifier(testSecret, "buildersync")
	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsBadIdentity(t *testing.T) {
	token, err := Sign(testSecret, "buildersync", identity.Identity{Role: "ghost", ID: "x"}, time.Hour)
	require.NoError(t, err)

	v := NewJWTVerifier(testSecret, "buildersync")
	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	v := NewJWTVerifier(testSecret, "buildersync")
	_, err := v.Verify("")
	require.ErrorIs(t, err, ErrUnauthorized)
}
