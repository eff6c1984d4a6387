package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims the server relies on. The tenant comes
// from tenant_id when present, otherwise from the org_code claim.
type Claims struct {
	jwt.RegisteredClaims
	GivenName   string   `json:"given_name"`
	Email       string   `json:"email"`
	OrgCode     string   `json:"org_code"`
	TenantID    string   `json:"tenant_id"`
	Permissions []string `json:"permissions"`
}

func (c *Claims) Tenant() string {
	if c.TenantID != "" {
		return c.TenantID
	}
	return c.OrgCode
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// JWKSVerifier validates RS-signed tokens against the issuer's JWKS.
type JWKSVerifier struct {
	issuer     string
	httpClient *http.Client

	mu   sync.RWMutex
	jwks *JWKS
	keys map[string]*rsa.PublicKey
}

// NewJWKSVerifier fetches the issuer's JWKS once before returning.
func NewJWKSVerifier(ctx context.Context, issuerURL string, httpClient *http.Client) (*JWKSVerifier, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	v := &JWKSVerifier{
		issuer:     strings.TrimSuffix(issuerURL, "/"),
		httpClient: httpClient,
		keys:       make(map[string]*rsa.PublicKey),
	}
	if err := v.Refresh(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// RefreshEvery re-fetches the JWKS on interval until ctx is done.
func (v *JWKSVerifier) RefreshEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.Refresh(ctx); err != nil {
				slog.Error("[AUTH] Error refreshing JWKS", "error", err)
			} else {
				slog.Info("[AUTH] JWKS refreshed successfully")
			}
		}
	}
}

func (v *JWKSVerifier) Refresh(ctx context.Context) error {
	jwksURL := fmt.Sprintf("%s/.well-known/jwks.json", v.issuer)
	slog.Debug("[AUTH] Fetching JWKS", "url", jwksURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	v.mu.Lock()
	v.jwks = &jwks
	// force re-conversion
	v.keys = make(map[string]*rsa.PublicKey)
	v.mu.Unlock()

	slog.Info("[AUTH] JWKS loaded", "keys", len(jwks.Keys))
	return nil
}

func (v *JWKSVerifier) Verify(_ context.Context, tokenString string) (*Identity, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, fmt.Errorf("%w: token is empty", ErrUnauthorized)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid not found in token header")
		}
		return v.publicKey(kid)
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}
	if claims.Subject == "" || claims.Tenant() == "" {
		return nil, fmt.Errorf("%w: token lacks subject or tenant", ErrUnauthorized)
	}

	return &Identity{UserID: claims.Subject, TenantID: claims.Tenant(), Token: tokenString}, nil
}

func (v *JWKSVerifier) publicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	if key, ok := v.keys[kid]; ok {
		v.mu.RUnlock()
		return key, nil
	}
	jwks := v.jwks
	v.mu.RUnlock()

	if jwks == nil {
		return nil, errors.New("JWKS not initialized")
	}

	for _, jwk := range jwks.Keys {
		if jwk.Kid != kid {
			continue
		}
		key, err := jwkToPublicKey(jwk)
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.keys[kid] = key
		v.mu.Unlock()
		return key, nil
	}

	return nil, fmt.Errorf("key with kid %s not found in JWKS", kid)
}

func jwkToPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
