package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2/clientcredentials"

	"ops-realtime/internal/config"
)

var ErrUnauthorized = errors.New("unauthorized")

// Identity is who a connection or request acts for.
type Identity struct {
	UserID   string
	TenantID string
	Token    string
}

// Verifier validates bearer tokens presented to the server.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Provider supplies the identity a client acts as, token included.
type Provider interface {
	Identity(ctx context.Context) (*Identity, error)
}

// NewVerifier picks the server-side verifier for cfg.AuthMode. The JWKS
// verifier fetches keys once here; callers schedule refreshes.
func NewVerifier(ctx context.Context, cfg *config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthStatic:
		return &StaticVerifier{
			Token:    cfg.StaticToken,
			Identity: Identity{UserID: cfg.StaticUserID, TenantID: cfg.StaticTenantID},
		}, nil
	case config.AuthOIDC:
		if cfg.OIDCIssuerURL == "" {
			return nil, errors.New("OIDC_ISSUER_URL is required for oidc auth")
		}
		return NewJWKSVerifier(ctx, cfg.OIDCIssuerURL, nil)
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.AuthMode)
	}
}

// NewProvider picks the client-side identity provider for cfg.AuthMode.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.AuthMode {
	case config.AuthStatic:
		return &StaticProvider{Fixed: Identity{
			UserID:   cfg.StaticUserID,
			TenantID: cfg.StaticTenantID,
			Token:    cfg.StaticToken,
		}}, nil
	case config.AuthOIDC:
		if cfg.OIDCTokenURL == "" || cfg.OIDCClientID == "" {
			return nil, errors.New("OIDC_TOKEN_URL and OIDC_CLIENT_ID are required for oidc auth")
		}
		return NewOIDCProvider(ctx, clientcredentials.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			TokenURL:     cfg.OIDCTokenURL,
			Scopes:       cfg.OIDCScopes,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.AuthMode)
	}
}
