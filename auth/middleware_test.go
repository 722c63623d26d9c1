package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	authscheme "github.com/ggoodman/authscheme-go"
	"github.com/ggoodman/authscheme-go/confsource/memsource"
	"github.com/ggoodman/authscheme-go/protect"
	"github.com/ggoodman/authscheme-go/protect/protecttest"
)

func symmetricSchemeTree(extra map[string]any) map[string]any {
	scheme := map[string]any{
		"ValidIssuers": []any{"https://issuer.example"},
		"SigningKeys": []any{
			map[string]any{
				"Issuer": "https://issuer.example",
				"Value":  base64.StdEncoding.EncodeToString(testSigningKey),
			},
		},
	}
	for k, v := range extra {
		scheme[k] = v
	}
	return map[string]any{"api": scheme}
}

func newTestMiddleware(t *testing.T, tree map[string]any, scheme string) (*Middleware, *authscheme.Registry) {
	t.Helper()
	src := memsource.New(tree)
	t.Cleanup(func() { src.Close() })
	reg, err := authscheme.NewRegistry(authscheme.NewBuilder(src, &protecttest.Factory{}))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	m, err := NewMiddleware(context.Background(), reg, scheme)
	if err != nil {
		t.Fatalf("new middleware: %v", err)
	}
	return m, reg
}

func doRequest(t *testing.T, m *Middleware, authorization string, inner http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	if inner == nil {
		inner = func(w http.ResponseWriter, r *http.Request) {}
	}
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	m.Wrap(inner).ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareHappyPath(t *testing.T) {
	m, _ := newTestMiddleware(t, symmetricSchemeTree(nil), "api")

	tok := signHS256(t, testSigningKey, validClaims())
	var sawUser string
	var sawRawToken bool
	rec := doRequest(t, m, "Bearer "+tok, func(w http.ResponseWriter, r *http.Request) {
		if ui, ok := UserFromContext(r.Context()); ok {
			sawUser = ui.UserID()
		}
		_, sawRawToken = RawTokenFromContext(r.Context())
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if sawUser != "user-123" {
		t.Fatalf("handler saw user %q", sawUser)
	}
	if sawRawToken {
		t.Fatal("raw token must not be stored without SaveToken")
	}
}

func TestMiddlewareSaveToken(t *testing.T) {
	m, _ := newTestMiddleware(t, symmetricSchemeTree(map[string]any{"SaveToken": "true"}), "api")

	tok := signHS256(t, testSigningKey, validClaims())
	var saved string
	rec := doRequest(t, m, "bearer "+tok, func(w http.ResponseWriter, r *http.Request) {
		saved, _ = RawTokenFromContext(r.Context())
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if saved != tok {
		t.Fatal("SaveToken must expose the exact bearer token")
	}
}

func TestMiddlewareMissingCredentials(t *testing.T) {
	m, _ := newTestMiddleware(t, symmetricSchemeTree(nil), "api")

	rec := doRequest(t, m, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Fatalf("WWW-Authenticate = %q", got)
	}
}

func TestMiddlewareMalformedHeader(t *testing.T) {
	m, _ := newTestMiddleware(t, symmetricSchemeTree(nil), "api")

	for _, header := range []string{"Basic dXNlcjpwYXNz", "Bearer", "Bearer   "} {
		rec := doRequest(t, m, header, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("header %q: status = %d", header, rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); !strings.Contains(got, `error="invalid_request"`) {
			t.Fatalf("header %q: WWW-Authenticate = %q", header, got)
		}
	}
}

func TestMiddlewareInvalidTokenChallenge(t *testing.T) {
	m, _ := newTestMiddleware(t, symmetricSchemeTree(nil), "api")

	rec := doRequest(t, m, "Bearer bogus", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	got := rec.Header().Get("WWW-Authenticate")
	if !strings.HasPrefix(got, "Bearer ") || !strings.Contains(got, `error="invalid_token"`) {
		t.Fatalf("WWW-Authenticate = %q", got)
	}
	if strings.Contains(got, "error_description") {
		t.Fatalf("details must stay hidden without IncludeErrorDetails: %q", got)
	}
}

func TestMiddlewareIncludeErrorDetails(t *testing.T) {
	m, _ := newTestMiddleware(t, symmetricSchemeTree(map[string]any{"IncludeErrorDetails": "true"}), "api")

	rec := doRequest(t, m, "Bearer bogus", nil)
	if got := rec.Header().Get("WWW-Authenticate"); !strings.Contains(got, "error_description") {
		t.Fatalf("expected error details in %q", got)
	}
}

func TestMiddlewareConfiguredChallengeScheme(t *testing.T) {
	m, _ := newTestMiddleware(t, symmetricSchemeTree(map[string]any{"Challenge": "MyBearer"}), "api")

	rec := doRequest(t, m, "", nil)
	if got := rec.Header().Get("WWW-Authenticate"); got != "MyBearer" {
		t.Fatalf("WWW-Authenticate = %q", got)
	}
}

func TestMiddlewareOpaqueTicket(t *testing.T) {
	m, reg := newTestMiddleware(t, symmetricSchemeTree(nil), "api")

	o, err := reg.Get("api")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	tok, err := o.BearerTokenProtector.Protect(&protect.Ticket{Subject: "opaque-user"})
	if err != nil {
		t.Fatalf("protect: %v", err)
	}

	var sawUser string
	rec := doRequest(t, m, "Bearer "+tok, func(w http.ResponseWriter, r *http.Request) {
		if ui, ok := UserFromContext(r.Context()); ok {
			sawUser = ui.UserID()
		}
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if sawUser != "opaque-user" {
		t.Fatalf("handler saw user %q", sawUser)
	}
}

func TestResolveSchemeForwarding(t *testing.T) {
	tree := symmetricSchemeTree(nil)
	tree["front"] = map[string]any{
		"ForwardAuthenticate": "api",
		"Challenge":           "FrontBearer",
	}
	tree["defaulted"] = map[string]any{"ForwardDefault": "api"}
	m, _ := newTestMiddleware(t, tree, "front")

	name, _, err := m.ResolveScheme("front", OpAuthenticate)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if name != "api" {
		t.Fatalf("authenticate resolved to %q", name)
	}

	// Without a specific or default forward the scheme handles the operation
	// itself.
	name, o, err := m.ResolveScheme("front", OpChallenge)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if name != "front" || o.Challenge != "FrontBearer" {
		t.Fatalf("challenge resolved to %q", name)
	}

	// ForwardDefault covers every operation lacking a specific target.
	for _, op := range []Op{OpAuthenticate, OpChallenge, OpForbid, OpSignIn, OpSignOut} {
		name, _, err := m.ResolveScheme("defaulted", op)
		if err != nil {
			t.Fatalf("resolve %s: %v", op, err)
		}
		if name != "api" {
			t.Fatalf("%s resolved to %q", op, name)
		}
	}
}

func TestResolveSchemeSpecificFieldsPerOperation(t *testing.T) {
	tree := symmetricSchemeTree(nil)
	tree["hub"] = map[string]any{
		"ForwardAuthenticate": "t-auth",
		"ForwardChallenge":    "t-challenge",
		"ForwardForbid":       "t-forbid",
		"ForwardSignIn":       "t-signin",
		"ForwardSignOut":      "t-signout",
	}
	for _, target := range []string{"t-auth", "t-challenge", "t-forbid", "t-signin", "t-signout"} {
		tree[target] = map[string]any{"Authority": "https://" + target + ".example"}
	}
	m, _ := newTestMiddleware(t, tree, "hub")

	cases := []struct {
		op   Op
		want string
	}{
		{OpAuthenticate, "t-auth"},
		{OpChallenge, "t-challenge"},
		{OpForbid, "t-forbid"},
		{OpSignIn, "t-signin"},
		{OpSignOut, "t-signout"},
	}
	for _, tc := range cases {
		name, _, err := m.ResolveScheme("hub", tc.op)
		if err != nil {
			t.Fatalf("resolve %s: %v", tc.op, err)
		}
		if name != tc.want {
			t.Fatalf("%s resolved to %q, want %q", tc.op, name, tc.want)
		}
	}
}

func TestResolveSchemeCycle(t *testing.T) {
	tree := map[string]any{
		"a": map[string]any{"ForwardAuthenticate": "b"},
		"b": map[string]any{"ForwardDefault": "a"},
		"c": map[string]any{"ForwardAuthenticate": "c"},
	}
	m, _ := newTestMiddleware(t, tree, "a")

	if _, _, err := m.ResolveScheme("a", OpAuthenticate); !errors.Is(err, ErrForwardCycle) {
		t.Fatalf("want ErrForwardCycle, got %v", err)
	}
	if _, _, err := m.ResolveScheme("c", OpAuthenticate); !errors.Is(err, ErrForwardCycle) {
		t.Fatalf("self-forward: want ErrForwardCycle, got %v", err)
	}
}

func TestMiddlewareForbid(t *testing.T) {
	m, _ := newTestMiddleware(t, symmetricSchemeTree(nil), "api")

	rec := httptest.NewRecorder()
	if err := m.Forbid(rec); err != nil {
		t.Fatalf("forbid: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); !strings.Contains(got, `error="insufficient_scope"`) {
		t.Fatalf("WWW-Authenticate = %q", got)
	}
}

func TestMiddlewarePicksUpInvalidation(t *testing.T) {
	src := memsource.New(symmetricSchemeTree(nil))
	t.Cleanup(func() { src.Close() })
	reg, err := authscheme.NewRegistry(authscheme.NewBuilder(src, &protecttest.Factory{}))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	m, err := NewMiddleware(context.Background(), reg, "api")
	if err != nil {
		t.Fatalf("new middleware: %v", err)
	}

	oldTok := signHS256(t, testSigningKey, validClaims())
	if rec := doRequest(t, m, "Bearer "+oldTok, nil); rec.Code != http.StatusOK {
		t.Fatalf("initial request: status = %d", rec.Code)
	}

	// Rotate the configured signing key and invalidate. The middleware must
	// rebuild its verifier from the fresh record.
	newKey := []byte("fedcba9876543210fedcba9876543210")
	src.Replace(map[string]any{
		"api": map[string]any{
			"ValidIssuers": []any{"https://issuer.example"},
			"SigningKeys": []any{
				map[string]any{
					"Issuer": "https://issuer.example",
					"Value":  base64.StdEncoding.EncodeToString(newKey),
				},
			},
		},
	})
	reg.InvalidateAll()

	if rec := doRequest(t, m, "Bearer "+oldTok, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("old key must stop verifying, status = %d", rec.Code)
	}
	newTok := signHS256(t, newKey, validClaims())
	if rec := doRequest(t, m, "Bearer "+newTok, nil); rec.Code != http.StatusOK {
		t.Fatalf("new key must verify, status = %d", rec.Code)
	}
}

func TestNewMiddlewareRejectsDefaultScheme(t *testing.T) {
	_, reg := newTestMiddleware(t, symmetricSchemeTree(nil), "api")
	if _, err := NewMiddleware(context.Background(), reg, authscheme.DefaultSchemeName); err == nil {
		t.Fatal("expected error for the default scheme name")
	}
	if _, err := NewMiddleware(context.Background(), nil, "api"); err == nil {
		t.Fatal("expected error for a nil registry")
	}
}
