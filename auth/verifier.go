package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	authscheme "github.com/ggoodman/authscheme-go"
	"github.com/ggoodman/authscheme-go/internal/jwtverify"
	"github.com/ggoodman/authscheme-go/protect"
)

// VerifierOption configures optional aspects of the token verifier (allowed
// algorithms, leeway) beyond what the scheme record carries.
type VerifierOption func(*jwtverify.Config)

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
func WithAllowedAlgs(algs ...string) VerifierOption {
	return func(c *jwtverify.Config) {
		c.AllowedAlgs = append([]string(nil), algs...)
	}
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) VerifierOption {
	return func(c *jwtverify.Config) { c.Leeway = d }
}

// NewVerifier returns an Authenticator enforcing the record's token
// validation policy. ctx bounds background JWKS refresh, so pass a context
// that outlives the verifier's use.
//
// The returned authenticator verifies JWTs when the record names an
// authority, a metadata address, or inline signing keys. A record with none
// of those but with a bearer token protector authenticates opaque tickets
// only. A bearer token that fails JWT parsing outright falls back to the
// protector when one is present.
func NewVerifier(ctx context.Context, o *authscheme.Options, opts ...VerifierOption) (Authenticator, error) {
	if o == nil {
		return nil, errors.New("options record is required")
	}

	hasJWTSource := o.Authority != "" || o.MetadataAddress != "" || len(o.TokenValidation.IssuerSigningKeys) > 0
	if !hasJWTSource {
		if o.BearerTokenProtector == nil {
			return nil, errors.New("record has no token source")
		}
		return NewTicketAuthenticator(o.BearerTokenProtector), nil
	}

	cfg := verifyConfig(o)
	for _, opt := range opts {
		opt(cfg)
	}
	v, err := jwtverify.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &verifier{
		v:         v,
		protector: o.BearerTokenProtector,
		mapClaims: o.MapInboundClaims,
	}, nil
}

// verifyConfig maps a materialized record onto the internal verifier
// configuration. The legacy single-value issuer and audience join the
// accepted sets; either form is enough to switch validation on.
func verifyConfig(o *authscheme.Options) *jwtverify.Config {
	cfg := jwtverify.DefaultConfig()
	cfg.Authority = o.Authority
	cfg.MetadataAddress = o.MetadataAddress
	cfg.RequireHTTPSMetadata = o.RequireHTTPSMetadata
	cfg.BackchannelTimeout = o.BackchannelTimeout
	cfg.RefreshInterval = o.RefreshInterval
	cfg.RefreshOnKeyNotFound = o.RefreshOnIssuerKeyNotFound

	tv := o.TokenValidation
	cfg.ValidateIssuer = tv.ValidateIssuer
	cfg.ValidIssuers = append([]string(nil), tv.ValidIssuers...)
	if tv.ValidIssuer != "" {
		cfg.ValidateIssuer = true
		if !containsString(cfg.ValidIssuers, tv.ValidIssuer) {
			cfg.ValidIssuers = append(cfg.ValidIssuers, tv.ValidIssuer)
		}
	}
	cfg.ValidateAudience = tv.ValidateAudience
	cfg.ValidAudiences = append([]string(nil), tv.ValidAudiences...)
	if tv.ValidAudience != "" {
		cfg.ValidateAudience = true
		if !containsString(cfg.ValidAudiences, tv.ValidAudience) {
			cfg.ValidAudiences = append(cfg.ValidAudiences, tv.ValidAudience)
		}
	}
	for _, k := range tv.IssuerSigningKeys {
		cfg.SigningKeys = append(cfg.SigningKeys, append([]byte(nil), k...))
	}
	return cfg
}

// verifier wraps the internal JWT verifier to satisfy the public interface.
type verifier struct {
	v         *jwtverify.Verifier
	protector protect.Protector
	mapClaims bool
}

func (a *verifier) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	ui, err := a.v.Verify(ctx, tok)
	if err != nil {
		// A token that is not a JWT at all may be an opaque ticket.
		if a.protector != nil && errors.Is(err, jwt.ErrTokenMalformed) {
			if ticket, terr := a.protector.Unprotect(tok); terr == nil {
				return a.wrap(ticketUserInfo{t: ticket}), nil
			}
		}
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return a.wrap(userInfoAdapter{ui: ui}), nil
}

func (a *verifier) wrap(ui UserInfo) UserInfo {
	if a.mapClaims {
		return mappedUserInfo{ui: ui}
	}
	return ui
}

type userInfoAdapter struct{ ui jwtverify.UserInfo }

func (u userInfoAdapter) UserID() string       { return u.ui.UserID() }
func (u userInfoAdapter) Claims(ref any) error { return u.ui.Claims(ref) }

// NewTicketAuthenticator returns an Authenticator accepting only opaque
// tickets minted by the matching protector. Expired or foreign tickets yield
// ErrUnauthorized.
func NewTicketAuthenticator(p protect.Protector) Authenticator {
	return ticketAuthenticator{p: p}
}

type ticketAuthenticator struct{ p protect.Protector }

func (a ticketAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, errors.Join(ErrUnauthorized, errors.New("empty token"))
	}
	ticket, err := a.p.Unprotect(tok)
	if err != nil {
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return ticketUserInfo{t: ticket}, nil
}

type ticketUserInfo struct{ t *protect.Ticket }

func (u ticketUserInfo) UserID() string { return u.t.Subject }

func (u ticketUserInfo) Claims(ref any) error {
	claims := make(map[string]any, len(u.t.Claims)+1)
	for k, v := range u.t.Claims {
		claims[k] = v
	}
	claims["sub"] = u.t.Subject
	return decodeClaims(claims, ref)
}

func containsString(set []string, want string) bool {
	for _, s := range set {
		if s == want {
			return true
		}
	}
	return false
}
