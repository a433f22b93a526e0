package auth

import (
	"context"
	"errors"
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"

	"synopsis/internal/domain"
)

// DefaultTokenField is the credentials key holding the bearer token
const DefaultTokenField = "access_token"

// JWTConfig configures a JWTAuthenticator
type JWTConfig struct {
	// Secret is the HMAC key tokens must be signed with.
	Secret []byte
	// TokenField is the credentials key holding the token.
	TokenField string
	// Issuer, when set, must match the token's "iss" claim.
	Issuer string
	// Audience, when set, must be present in the token's "aud" claim.
	Audience string
}

// JWTAuthenticator accepts handshakes carrying an HMAC-signed JWT.
type JWTAuthenticator struct {
	secret     []byte
	tokenField string
	parser     *gojwt.Parser
}

// NewJWTAuthenticator creates a JWTAuthenticator. An empty secret is a
// configuration error.
func NewJWTAuthenticator(config JWTConfig) (*JWTAuthenticator, error) {
	if len(config.Secret) == 0 {
		return nil, errors.New("jwt secret cannot be empty")
	}

	tokenField := config.TokenField
	if tokenField == "" {
		tokenField = DefaultTokenField
	}

	options := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		gojwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		options = append(options, gojwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		options = append(options, gojwt.WithAudience(config.Audience))
	}

	return &JWTAuthenticator{
		secret:     config.Secret,
		tokenField: tokenField,
		parser:     gojwt.NewParser(options...),
	}, nil
}

// Authenticate implements Authenticator
func (a *JWTAuthenticator) Authenticate(ctx context.Context, creds domain.Credentials) error {
	raw, ok := creds[a.tokenField]
	if !ok {
		return fmt.Errorf("missing %s", a.tokenField)
	}
	tokenStr, ok := raw.(string)
	if !ok || tokenStr == "" {
		return fmt.Errorf("%s must be a non-empty string", a.tokenField)
	}

	_, err := a.parser.Parse(tokenStr, func(token *gojwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}

	return nil
}
