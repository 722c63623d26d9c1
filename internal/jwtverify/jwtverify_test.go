package jwtverify

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

type mockOIDC struct {
	srv      *httptest.Server
	issuer   string
	jwksPath string

	mu   sync.Mutex
	keys []byte
}

func newMockOIDC(t *testing.T, keysJSON []byte) *mockOIDC {
	t.Helper()
	m := &mockOIDC{jwksPath: "/keys", keys: keysJSON}
	handler := http.NewServeMux()
	handler.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":   m.issuer,
			"jwks_uri": m.issuer + m.jwksPath,
		})
	})
	handler.HandleFunc(m.jwksPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		m.mu.Lock()
		defer m.mu.Unlock()
		_, _ = w.Write(m.keys)
	})
	m.srv = httptest.NewServer(handler)
	m.issuer = m.srv.URL
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockOIDC) setKeys(keysJSON []byte) {
	m.mu.Lock()
	m.keys = keysJSON
	m.mu.Unlock()
}

func genRSA(t *testing.T, kid string) (*rsa.PrivateKey, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{jwk}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, b
}

func signRS256(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func signHS256(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func baseClaims(iss string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": iss,
		"sub": "user-123",
		"aud": "https://api.example.com",
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
}

func remoteConfig(issuer string) *Config {
	cfg := DefaultConfig()
	cfg.Authority = issuer
	cfg.Leeway = 0
	cfg.ValidateIssuer = true
	cfg.ValidIssuers = []string{"https://other.example", issuer}
	cfg.ValidateAudience = true
	cfg.ValidAudiences = []string{"https://api.example.com"}
	return cfg
}

func TestVerifyHappyPath(t *testing.T) {
	pk, jwks := genRSA(t, "key-1")
	oidc := newMockOIDC(t, jwks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, remoteConfig(oidc.issuer))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	claims := baseClaims(oidc.issuer)
	claims["scope"] = "read write"
	tok := signRS256(t, pk, "key-1", claims)

	ui, err := v.Verify(ctx, tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ui.UserID() != "user-123" {
		t.Fatalf("want sub user-123, got %s", ui.UserID())
	}

	var out struct {
		Scope string `json:"scope"`
	}
	if err := ui.Claims(&out); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if out.Scope != "read write" {
		t.Fatalf("scope roundtrip mismatch: %q", out.Scope)
	}
}

func TestVerifyMetadataAddress(t *testing.T) {
	pk, jwks := genRSA(t, "key-1")
	oidc := newMockOIDC(t, jwks)

	cfg := remoteConfig(oidc.issuer)
	cfg.Authority = ""
	cfg.MetadataAddress = oidc.issuer + "/.well-known/openid-configuration"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := v.Verify(ctx, signRS256(t, pk, "key-1", baseClaims(oidc.issuer))); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyIssuerNotInSet(t *testing.T) {
	pk, jwks := genRSA(t, "key-1")
	oidc := newMockOIDC(t, jwks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, remoteConfig(oidc.issuer))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	claims := baseClaims(oidc.issuer)
	claims["iss"] = "https://evil.example"
	if _, err := v.Verify(ctx, signRS256(t, pk, "key-1", claims)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestVerifyAudienceIntersection(t *testing.T) {
	pk, jwks := genRSA(t, "key-1")
	oidc := newMockOIDC(t, jwks)

	cfg := remoteConfig(oidc.issuer)
	cfg.ValidAudiences = []string{"https://api.example.com", "http://localhost:8080"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	claims := baseClaims(oidc.issuer)
	claims["aud"] = []string{"https://other", "http://localhost:8080"}
	if _, err := v.Verify(ctx, signRS256(t, pk, "key-1", claims)); err != nil {
		t.Fatalf("verify (array aud): %v", err)
	}

	claims["aud"] = "https://unknown"
	if _, err := v.Verify(ctx, signRS256(t, pk, "key-1", claims)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for unknown audience, got %v", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	pk, jwks := genRSA(t, "key-1")
	oidc := newMockOIDC(t, jwks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, remoteConfig(oidc.issuer))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	claims := baseClaims(oidc.issuer)
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	if _, err := v.Verify(ctx, signRS256(t, pk, "key-1", claims)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestVerifySymmetricKeySet(t *testing.T) {
	key1 := []byte("0123456789abcdef0123456789abcdef")
	key2 := []byte("fedcba9876543210fedcba9876543210")

	cfg := DefaultConfig()
	cfg.Leeway = 0
	cfg.SigningKeys = [][]byte{key1, key2}

	ctx := context.Background()
	v, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// Any key in the set verifies; claim checks are off without lists.
	claims := baseClaims("https://sym.example")
	if _, err := v.Verify(ctx, signHS256(t, key2, claims)); err != nil {
		t.Fatalf("verify with second key: %v", err)
	}

	if _, err := v.Verify(ctx, signHS256(t, []byte("another-key-entirely-32-bytes!!!"), claims)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for unknown key, got %v", err)
	}
}

func TestVerifyMalformedTokenDistinguishable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SigningKeys = [][]byte{[]byte("0123456789abcdef0123456789abcdef")}

	v, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = v.Verify(context.Background(), "not-a-jwt-at-all")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	if !errors.Is(err, jwt.ErrTokenMalformed) {
		t.Fatalf("malformed token must stay detectable in the chain, got %v", err)
	}
}

func TestVerifyRefreshOnKeyNotFound(t *testing.T) {
	pk1, jwks1 := genRSA(t, "key-1")
	oidc := newMockOIDC(t, jwks1)

	cfg := remoteConfig(oidc.issuer)
	cfg.RefreshOnKeyNotFound = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := v.Verify(ctx, signRS256(t, pk1, "key-1", baseClaims(oidc.issuer))); err != nil {
		t.Fatalf("verify before rotation: %v", err)
	}

	// Rotate the upstream key. The next token carries an unknown kid, which
	// must trigger a refresh and a retry rather than a hard failure.
	pk2, jwks2 := genRSA(t, "key-2")
	oidc.setKeys(jwks2)

	deadline := time.Now().Add(10 * time.Second)
	for {
		_, err := v.Verify(ctx, signRS256(t, pk2, "key-2", baseClaims(oidc.issuer)))
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rotated key never picked up: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestRequireHTTPSMetadata(t *testing.T) {
	pk, jwks := genRSA(t, "key-1")
	oidc := newMockOIDC(t, jwks)

	cfg := remoteConfig(oidc.issuer)
	cfg.RequireHTTPSMetadata = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// httptest serves plain http, so resolution must be refused.
	if _, err := v.Verify(ctx, signRS256(t, pk, "key-1", baseClaims(oidc.issuer))); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestNewRequiresKeySource(t *testing.T) {
	if _, err := New(context.Background(), DefaultConfig()); err == nil {
		t.Fatal("expected error without any key source")
	}
	if _, err := New(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}
