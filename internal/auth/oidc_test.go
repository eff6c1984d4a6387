package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/clientcredentials"
)

func tokenServer(t *testing.T, claims Claims) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("irrelevant"))
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": access,
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestOIDCProvider_Identity(t *testing.T) {
	server, calls := tokenServer(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "svc-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		OrgCode:          "t1",
	})

	p := NewOIDCProvider(context.Background(), clientcredentials.Config{
		ClientID:     "cli",
		ClientSecret: "secret",
		TokenURL:     server.URL,
	})

	id, err := p.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "svc-1", id.UserID)
	assert.Equal(t, "t1", id.TenantID)
	assert.NotEmpty(t, id.Token)

	_, err = p.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls), "token is reused until it expires")
}

func TestOIDCProvider_MissingTenant(t *testing.T) {
	server, _ := tokenServer(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "svc-1"}})

	p := NewOIDCProvider(context.Background(), clientcredentials.Config{ClientID: "cli", TokenURL: server.URL})

	_, err := p.Identity(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}
