package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synopsis/internal/domain"
)

func TestAllowAll(t *testing.T) {
	var a Authenticator = AllowAll{}
	assert.NoError(t, a.Authenticate(context.Background(), nil))
	assert.NoError(t, a.Authenticate(context.Background(), domain.Credentials{"access_token": "BAD"}))
}

func TestAuthenticatorFunc(t *testing.T) {
	var seen domain.Credentials
	a := AuthenticatorFunc(func(ctx context.Context, creds domain.Credentials) error {
		seen = creds
		return errors.New("NEVER!!!")
	})

	err := a.Authenticate(context.Background(), domain.Credentials{"network": "google"})
	assert.EqualError(t, err, "NEVER!!!")
	assert.Equal(t, "google", seen["network"])
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate(AllowAll{}))

	var nilFunc AuthenticatorFunc
	assert.ErrorIs(t, Validate(nilFunc), ErrNilAuthenticator)
}

func signToken(t *testing.T, secret []byte, claims gojwt.MapClaims) string {
	t.Helper()
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestJWTAuthenticator(t *testing.T) {
	secret := []byte("unit-test-secret")

	_, err := NewJWTAuthenticator(JWTConfig{})
	require.Error(t, err)

	a, err := NewJWTAuthenticator(JWTConfig{Secret: secret, Issuer: "synopsis"})
	require.NoError(t, err)

	ctx := context.Background()
	valid := signToken(t, secret, gojwt.MapClaims{
		"iss": "synopsis",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	assert.NoError(t, a.Authenticate(ctx, domain.Credentials{"network": "google", "access_token": valid}))

	expired := signToken(t, secret, gojwt.MapClaims{
		"iss": "synopsis",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	assert.Error(t, a.Authenticate(ctx, domain.Credentials{"access_token": expired}))

	wrongIssuer := signToken(t, secret, gojwt.MapClaims{
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	assert.Error(t, a.Authenticate(ctx, domain.Credentials{"access_token": wrongIssuer}))

	wrongKey := signToken(t, []byte("other"), gojwt.MapClaims{
		"iss": "synopsis",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	assert.Error(t, a.Authenticate(ctx, domain.Credentials{"access_token": wrongKey}))

	assert.Error(t, a.Authenticate(ctx, domain.Credentials{"access_token": "BAD"}))
	assert.Error(t, a.Authenticate(ctx, domain.Credentials{"access_token": 42}))
	assert.Error(t, a.Authenticate(ctx, nil))
}
