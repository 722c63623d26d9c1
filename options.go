package authscheme

import (
	"time"

	"github.com/ggoodman/authscheme-go/protect"
)

// DefaultSchemeName is the reserved sentinel for the unnamed default scheme.
// Configure leaves the record completely untouched for it; the default scheme
// is configured by the host through other means.
const DefaultSchemeName = ""

// Purpose path segments used when deriving scheme protectors. The chain is
// always (PurposeRoot, scheme name, sub-purpose). Out-of-process token issuers
// must derive protectors from the same segments to produce payloads this
// library can unprotect.
const (
	PurposeRoot         = "github.com/ggoodman/authscheme-go"
	PurposeBearerToken  = "BearerToken"
	PurposeRefreshToken = "RefreshToken"
)

// Options is the materialized options record for one named bearer
// authentication scheme. A record is created with caller-supplied defaults and
// passed to Builder.Configure, which overrides exactly the fields present in
// configuration; everything else keeps its pre-call value.
//
// A configured record is a point-in-time snapshot. It is never live-reloaded;
// the Registry decides when to build a fresh one.
type Options struct {
	// Authority is the issuer base URL used for OIDC metadata discovery.
	Authority string
	// MetadataAddress points directly at a metadata document, bypassing
	// Authority-based discovery when set.
	MetadataAddress string
	// RequireHTTPSMetadata rejects non-HTTPS metadata endpoints.
	RequireHTTPSMetadata bool
	// BackchannelTimeout bounds metadata and key-set fetches.
	BackchannelTimeout time.Duration
	// RefreshInterval is how long discovered metadata stays fresh.
	RefreshInterval time.Duration
	// RefreshOnIssuerKeyNotFound triggers a metadata refresh and a single
	// retry when a token references an unknown signing key.
	RefreshOnIssuerKeyNotFound bool

	// Challenge is the authentication scheme emitted in WWW-Authenticate.
	Challenge string
	// IncludeErrorDetails adds error and error_description parameters to
	// emitted challenges.
	IncludeErrorDetails bool
	// SaveToken retains the validated raw token for later retrieval.
	SaveToken bool
	// MapInboundClaims rewrites registered short claim names to their long
	// interoperability URIs.
	MapInboundClaims bool

	// Forwarding fields name another scheme that services the corresponding
	// operation. ForwardDefault applies when the operation-specific field is
	// empty.
	ForwardAuthenticate string
	ForwardChallenge    string
	ForwardDefault      string
	ForwardForbid       string
	ForwardSignIn       string
	ForwardSignOut      string

	// BearerTokenExpiration and RefreshTokenExpiration bound the lifetime of
	// opaque tokens issued under this scheme.
	BearerTokenExpiration  time.Duration
	RefreshTokenExpiration time.Duration

	// TokenValidation is rebuilt from scratch on every Configure of a scheme
	// that has configuration; it is not merged with pre-call contents.
	TokenValidation TokenValidationParameters

	// BearerTokenProtector and RefreshTokenProtector are assigned on every
	// Configure of a non-empty scheme name, configuration subtree or not. They
	// are scoped to distinct purpose chains and are never interchangeable.
	BearerTokenProtector  protect.Protector
	RefreshTokenProtector protect.Protector
}

// Clone returns a deep copy safe for mutation by the caller. Protector handles
// are shared: they are immutable capabilities, and a clone must keep
// unprotecting payloads issued before the copy.
func (o *Options) Clone() *Options {
	if o == nil {
		return nil
	}
	dup := *o
	dup.TokenValidation = o.TokenValidation.Clone()
	return &dup
}
