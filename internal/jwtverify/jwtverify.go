// Package jwtverify validates bearer JWTs against the key material and claim
// policies carried by a materialized scheme record. Signing keys come from two
// sources that can coexist: symmetric keys configured inline, and an issuer's
// JWKS discovered through OIDC metadata and refreshed in the background.
package jwtverify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls validation behavior for bearer tokens.
type Config struct {
	// Authority is the issuer base URL used for OIDC discovery when
	// MetadataAddress is empty.
	Authority string
	// MetadataAddress points directly at a metadata document, bypassing the
	// well-known path derivation.
	MetadataAddress string
	// RequireHTTPSMetadata rejects metadata and JWKS endpoints that are not
	// served over https.
	RequireHTTPSMetadata bool
	// BackchannelTimeout bounds metadata and JWKS HTTP round-trips. Zero means
	// no client-side timeout.
	BackchannelTimeout time.Duration
	// RefreshInterval re-resolves the metadata document after it has been
	// cached for this long. Zero disables interval-based refresh.
	RefreshInterval time.Duration
	// RefreshOnKeyNotFound forces one metadata re-resolution and a single
	// retry when a token's signing key cannot be found.
	RefreshOnKeyNotFound bool

	// ValidateIssuer requires the token's iss claim to appear in ValidIssuers.
	ValidateIssuer bool
	ValidIssuers   []string
	// ValidateAudience requires the token's aud claim to intersect
	// ValidAudiences.
	ValidateAudience bool
	ValidAudiences   []string

	// SigningKeys are symmetric HMAC keys tried in order for HS-family
	// tokens. Their presence enables the HS algorithms.
	SigningKeys [][]byte
	// AllowedAlgs restricts acceptable signature algorithms. Defaults to the
	// common asymmetric set.
	AllowedAlgs []string
	Leeway      time.Duration
}

var defaultAllowedAlgs = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

var symmetricAlgs = []string{"HS256", "HS384", "HS512"}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: append([]string(nil), defaultAllowedAlgs...),
		Leeway:      60 * time.Second,
	}
}

// UserInfo is the internal user claims carrier for validated tokens.
type UserInfo interface {
	UserID() string
	Claims(ref any) error
}

type userInfo struct {
	sub    string
	claims map[string]any
}

func (u *userInfo) UserID() string { return u.sub }
func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// ErrUnauthorized indicates that the token failed validation (signature,
// issuer, audience, exp/nbf) and the request should be treated as
// unauthenticated.
var ErrUnauthorized = errors.New("jwtverify: unauthorized")

// Verifier validates bearer JWTs. It is safe for concurrent use; metadata
// resolution is lazy and shared across calls.
type Verifier struct {
	cfg  *Config
	algs []string
	meta *metadataManager
}

// New constructs a Verifier. ctx bounds the lifetime of background JWKS
// refresh, so pass a context that stays alive as long as the verifier.
// At least one key source (an authority, a metadata address, or symmetric
// signing keys) must be configured.
func New(ctx context.Context, cfg *Config) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	remote := cfg.Authority != "" || cfg.MetadataAddress != ""
	if !remote && len(cfg.SigningKeys) == 0 {
		return nil, errors.New("no key source configured")
	}

	algs := cfg.AllowedAlgs
	if len(algs) == 0 {
		algs = defaultAllowedAlgs
	}
	algs = append([]string(nil), algs...)
	if len(cfg.SigningKeys) > 0 {
		for _, alg := range symmetricAlgs {
			if !containsString(algs, alg) {
				algs = append(algs, alg)
			}
		}
	}

	v := &Verifier{cfg: cfg, algs: algs}
	if remote {
		v.meta = &metadataManager{cfg: cfg, base: ctx}
	}
	return v, nil
}

// Verify checks the token's signature and claims and returns the carried
// user info. Validation failures wrap ErrUnauthorized; the parse error is
// preserved in the chain so callers can distinguish a malformed token from a
// well-formed but rejected one.
func (v *Verifier) Verify(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.algs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
	}
	if v.cfg.ValidateAudience && len(v.cfg.ValidAudiences) == 1 {
		opts = append(opts, jwt.WithAudience(v.cfg.ValidAudiences[0]))
	}
	parser := jwt.NewParser(opts...)

	parsed, err := parser.Parse(tok, v.keyfunc(ctx))
	if err != nil && v.cfg.RefreshOnKeyNotFound && v.meta != nil && errors.Is(err, jwt.ErrTokenUnverifiable) {
		// The signing key may have rotated since metadata was cached.
		v.meta.invalidate()
		if retried, retryErr := parser.Parse(tok, v.keyfunc(ctx)); retryErr == nil {
			parsed, err = retried, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %w", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	if v.cfg.ValidateIssuer {
		iss, _ := claims["iss"].(string)
		if iss == "" || !containsString(v.cfg.ValidIssuers, iss) {
			return nil, fmt.Errorf("%w: issuer mismatch", ErrUnauthorized)
		}
	}
	if v.cfg.ValidateAudience && !audIntersects(claims["aud"], v.cfg.ValidAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}

	// Basic sanity on iat when present: not too far in the future.
	if iatf, ok := claims["iat"].(float64); ok {
		iat := time.Unix(int64(iatf), 0)
		if iat.After(time.Now().Add(v.cfg.Leeway + 5*time.Minute)) {
			return nil, fmt.Errorf("%w: iat too far in future", ErrUnauthorized)
		}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}

	return &userInfo{sub: sub, claims: claims}, nil
}

// keyfunc routes HS-family tokens to the configured symmetric keys and
// everything else to the discovered JWKS.
func (v *Verifier) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); ok {
			if len(v.cfg.SigningKeys) == 0 {
				return nil, errors.New("no symmetric signing keys configured")
			}
			set := jwt.VerificationKeySet{Keys: make([]jwt.VerificationKey, 0, len(v.cfg.SigningKeys))}
			for _, k := range v.cfg.SigningKeys {
				set.Keys = append(set.Keys, k)
			}
			return set, nil
		}
		if v.meta == nil {
			return nil, errors.New("no remote key source configured")
		}
		kf, err := v.meta.keyfunc(ctx)
		if err != nil {
			return nil, err
		}
		return kf(t)
	}
}

// --- Metadata resolution ---

// metadataManager lazily resolves the issuer metadata document to a JWKS
// endpoint and caches the resulting keyfunc. A resolution failure after a
// successful one keeps serving the previous key set.
type metadataManager struct {
	cfg  *Config
	base context.Context

	mu        sync.Mutex
	kf        keyfunc.Keyfunc
	jwksURI   string
	fetchedAt time.Time
}

func (m *metadataManager) keyfunc(ctx context.Context) (jwt.Keyfunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.kf != nil && !m.fetchedAt.IsZero() {
		if m.cfg.RefreshInterval <= 0 || time.Since(m.fetchedAt) < m.cfg.RefreshInterval {
			return m.kf.Keyfunc, nil
		}
	}
	if err := m.resolveLocked(ctx); err != nil {
		if m.kf != nil {
			return m.kf.Keyfunc, nil
		}
		return nil, err
	}
	return m.kf.Keyfunc, nil
}

// invalidate marks the cached metadata stale; the next keyfunc call
// re-resolves it.
func (m *metadataManager) invalidate() {
	m.mu.Lock()
	m.fetchedAt = time.Time{}
	m.mu.Unlock()
}

func (m *metadataManager) resolveLocked(ctx context.Context) error {
	client := &http.Client{Timeout: m.cfg.BackchannelTimeout}

	jwksURI, err := m.discoverJWKS(ctx, client)
	if err != nil {
		return err
	}
	if jwksURI == "" {
		return errors.New("metadata document has no jwks_uri")
	}
	if err := m.checkHTTPS(jwksURI); err != nil {
		return err
	}

	// The keyfunc owns background JWKS refresh, so only rebuild it when the
	// endpoint actually moved.
	if m.kf == nil || jwksURI != m.jwksURI {
		kf, err := keyfunc.NewDefaultCtx(m.base, []string{jwksURI})
		if err != nil {
			return fmt.Errorf("jwks init failed: %w", err)
		}
		m.kf = kf
		m.jwksURI = jwksURI
	}
	m.fetchedAt = time.Now()
	return nil
}

func (m *metadataManager) discoverJWKS(ctx context.Context, client *http.Client) (string, error) {
	if addr := m.cfg.MetadataAddress; addr != "" {
		if err := m.checkHTTPS(addr); err != nil {
			return "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
		if err != nil {
			return "", err
		}
		res, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("fetch metadata: %w", err)
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return "", fmt.Errorf("fetch metadata: unexpected status %s", res.Status)
		}
		var meta struct {
			JwksURI string `json:"jwks_uri"`
		}
		if err := json.NewDecoder(res.Body).Decode(&meta); err != nil {
			return "", fmt.Errorf("invalid metadata document: %w", err)
		}
		return meta.JwksURI, nil
	}

	authority := strings.TrimRight(m.cfg.Authority, "/")
	if err := m.checkHTTPS(authority); err != nil {
		return "", err
	}
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, client), authority)
	if err != nil {
		return "", fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("invalid discovery metadata: %w", err)
	}
	return meta.JwksURI, nil
}

func (m *metadataManager) checkHTTPS(addr string) error {
	if !m.cfg.RequireHTTPSMetadata {
		return nil
	}
	if !strings.HasPrefix(strings.ToLower(addr), "https://") {
		return fmt.Errorf("metadata endpoint %q is not https", addr)
	}
	return nil
}

// --- Claim helpers ---

func containsString(set []string, want string) bool {
	for _, s := range set {
		if s == want {
			return true
		}
	}
	return false
}

func audContains(aud any, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if s == want {
				return true
			}
		}
	}
	return false
}

func audIntersects(aud any, wants []string) bool {
	for _, w := range wants {
		if audContains(aud, w) {
			return true
		}
	}
	return false
}
