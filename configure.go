package authscheme

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/ggoodman/authscheme-go/confsource"
	"github.com/ggoodman/authscheme-go/protect"
)

// BuilderOption configures optional aspects of a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger used for materialization diagnostics. The
// default discards everything.
func WithLogger(log *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if log != nil {
			b.log = log
		}
	}
}

// Builder materializes scheme options records from a configuration source. It
// holds no mutable state: Configure is a pure function of (name, source
// snapshot) onto the given record, safe to invoke concurrently for different
// records.
type Builder struct {
	src        confsource.Section
	protectors protect.Factory
	log        *slog.Logger
}

// NewBuilder returns a Builder reading scheme subtrees from src and deriving
// protectors from protectors. Both collaborators must be safe for concurrent
// reads.
func NewBuilder(src confsource.Section, protectors protect.Factory, opts ...BuilderOption) *Builder {
	b := &Builder{
		src:        src,
		protectors: protectors,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Source returns the configuration source the builder reads from.
func (b *Builder) Source() confsource.Section { return b.src }

// Configure fills o for the named scheme. The rules, in order:
//
//  1. The default sentinel name returns immediately without touching o.
//  2. Both protectors are assigned for any non-empty name, whether or not the
//     scheme has configuration.
//  3. An absent or childless scheme subtree leaves every remaining field at
//     its pre-call value.
//  4. ValidIssuers and ValidAudiences are read as ordered child-value lists:
//     no deduplication, no trimming, configuration order preserved.
//  5. Scalar fields follow override-or-keep-default: an absent or empty raw
//     value keeps the existing field value; a present value must parse.
//  6. TokenValidation is constructed fresh, with the Validate flags derived
//     from list emptiness, ValidateIssuerSigningKey hard-set to true, and
//     signing keys resolved against the ValidIssuers list.
//
// A present-but-malformed scalar or signing key value is fatal; the error is
// returned and o must be considered incompletely configured.
func (b *Builder) Configure(name string, o *Options) error {
	if name == DefaultSchemeName {
		return nil
	}

	o.BearerTokenProtector = b.protectors.CreateProtector(PurposeRoot, name, PurposeBearerToken)
	o.RefreshTokenProtector = b.protectors.CreateProtector(PurposeRoot, name, PurposeRefreshToken)

	scheme := b.src.Section(name)
	if !scheme.Exists() || len(scheme.Children()) == 0 {
		return nil
	}

	issuers := childValues(scheme.Section("ValidIssuers"))
	audiences := childValues(scheme.Section("ValidAudiences"))

	var err error
	o.Authority = stringOrKeep(scheme.Get("Authority"), o.Authority)
	if o.BackchannelTimeout, err = parseField(name, "BackchannelTimeout", scheme, ParseInvariantDuration, o.BackchannelTimeout); err != nil {
		return err
	}
	o.Challenge = stringOrKeep(scheme.Get("Challenge"), o.Challenge)
	o.ForwardAuthenticate = stringOrKeep(scheme.Get("ForwardAuthenticate"), o.ForwardAuthenticate)
	o.ForwardChallenge = stringOrKeep(scheme.Get("ForwardChallenge"), o.ForwardChallenge)
	o.ForwardDefault = stringOrKeep(scheme.Get("ForwardDefault"), o.ForwardDefault)
	o.ForwardForbid = stringOrKeep(scheme.Get("ForwardForbid"), o.ForwardForbid)
	o.ForwardSignIn = stringOrKeep(scheme.Get("ForwardSignIn"), o.ForwardSignIn)
	o.ForwardSignOut = stringOrKeep(scheme.Get("ForwardSignOut"), o.ForwardSignOut)
	if o.IncludeErrorDetails, err = parseField(name, "IncludeErrorDetails", scheme, strconv.ParseBool, o.IncludeErrorDetails); err != nil {
		return err
	}
	if o.MapInboundClaims, err = parseField(name, "MapInboundClaims", scheme, strconv.ParseBool, o.MapInboundClaims); err != nil {
		return err
	}
	o.MetadataAddress = stringOrKeep(scheme.Get("MetadataAddress"), o.MetadataAddress)
	if o.RefreshInterval, err = parseField(name, "RefreshInterval", scheme, ParseInvariantDuration, o.RefreshInterval); err != nil {
		return err
	}
	if o.RefreshOnIssuerKeyNotFound, err = parseField(name, "RefreshOnIssuerKeyNotFound", scheme, strconv.ParseBool, o.RefreshOnIssuerKeyNotFound); err != nil {
		return err
	}
	if o.RequireHTTPSMetadata, err = parseField(name, "RequireHttpsMetadata", scheme, strconv.ParseBool, o.RequireHTTPSMetadata); err != nil {
		return err
	}
	if o.SaveToken, err = parseField(name, "SaveToken", scheme, strconv.ParseBool, o.SaveToken); err != nil {
		return err
	}
	// The two expiration fields deliberately take plain Go duration syntax
	// rather than the invariant timespan forms accepted above.
	if o.BearerTokenExpiration, err = parseField(name, "BearerTokenExpiration", scheme, time.ParseDuration, o.BearerTokenExpiration); err != nil {
		return err
	}
	if o.RefreshTokenExpiration, err = parseField(name, "RefreshTokenExpiration", scheme, time.ParseDuration, o.RefreshTokenExpiration); err != nil {
		return err
	}

	var entries []SigningKeyEntry
	for _, c := range scheme.Section("SigningKeys").Children() {
		entries = append(entries, SigningKeyEntry{Issuer: c.Get("Issuer"), Value: c.Get("Value")})
	}
	keys, err := ResolveSigningKeys(issuers, entries)
	if err != nil {
		return fmt.Errorf("scheme %q: %w", name, err)
	}

	o.TokenValidation = TokenValidationParameters{
		ValidateIssuer:           len(issuers) > 0,
		ValidIssuers:             issuers,
		ValidIssuer:              scheme.Get("ValidIssuer"),
		ValidateAudience:         len(audiences) > 0,
		ValidAudiences:           audiences,
		ValidAudience:            scheme.Get("ValidAudience"),
		ValidateIssuerSigningKey: true,
		IssuerSigningKeys:        keys,
	}

	b.log.Debug("scheme options materialized",
		slog.String("scheme", name),
		slog.Int("issuers", len(issuers)),
		slog.Int("audiences", len(audiences)),
		slog.Int("signing_keys", len(keys)),
	)
	return nil
}

func childValues(sec confsource.Section) []string {
	kids := sec.Children()
	if len(kids) == 0 {
		return nil
	}
	vals := make([]string, 0, len(kids))
	for _, c := range kids {
		vals = append(vals, c.Value())
	}
	return vals
}

func stringOrKeep(raw, existing string) string {
	if raw == "" {
		return existing
	}
	return raw
}

func parseField[T any](scheme, key string, sec confsource.Section, parse func(string) (T, error), fallback T) (T, error) {
	raw := sec.Get(key)
	v, err := ParseOrDefault(raw, parse, fallback)
	if err != nil {
		return fallback, &FieldError{Scheme: scheme, Key: key, Raw: raw, Err: err}
	}
	return v, nil
}
