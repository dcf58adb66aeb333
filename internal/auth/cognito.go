package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// CognitoVerifier validates ID and access tokens issued by a Cognito user
// pool. Keys are fetched from the pool's JWKS endpoint and cached by go-oidc.
type CognitoVerifier struct {
	verifier *oidc.IDTokenVerifier
	clientID string
}

// NewCognitoVerifier discovers the pool's OIDC configuration.
func NewCognitoVerifier(ctx context.Context, issuer, clientID string) (*CognitoVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover cognito issuer: %w", err)
	}
	return &CognitoVerifier{
		// Access tokens carry client_id instead of aud, so the audience is
		// checked per token_use in Verify.
		verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true}),
		clientID: clientID,
	}, nil
}

// NewCognitoVerifierWithKeySet skips discovery; used with static keys.
func NewCognitoVerifierWithKeySet(issuer, clientID string, keys oidc.KeySet) *CognitoVerifier {
	return &CognitoVerifier{
		verifier: oidc.NewVerifier(issuer, keys, &oidc.Config{SkipClientIDCheck: true}),
		clientID: clientID,
	}
}

type cognitoClaims struct {
	TokenUse      string `json:"token_use"`
	ClientID      string `json:"client_id"`
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
}

func (c *CognitoVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	tok, err := c.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims cognitoClaims
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	switch claims.TokenUse {
	case "id":
		if !slices.Contains(tok.Audience, c.clientID) {
			return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
		}
	case "access":
		if claims.ClientID != c.clientID {
			return nil, fmt.Errorf("%w: client_id mismatch", ErrInvalidToken)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected token_use %q", ErrInvalidToken, claims.TokenUse)
	}

	return &Identity{
		Subject:       tok.Subject,
		Email:         strings.ToLower(strings.TrimSpace(claims.Email)),
		EmailVerified: truthy(claims.EmailVerified),
	}, nil
}

// Cognito has emitted email_verified both as a JSON boolean and a string.
func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	default:
		return false
	}
}
