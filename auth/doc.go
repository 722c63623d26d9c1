// Package auth turns materialized scheme records into working HTTP
// authentication: bearer token verification, opaque ticket unwrapping,
// challenge emission, and scheme forwarding.
//
// The public surface intentionally stays small: an Authenticator validates an
// incoming bearer token string and returns a UserInfo (or an error), and a
// Middleware wires a scheme registry into an http.Handler chain. Everything
// else (challenge construction, forwarding resolution, claim mapping) hangs
// off those two.
//
// # Token Verification
//
// NewVerifier builds an Authenticator from an authscheme.Options record. JWTs
// are verified against the record's issuer metadata (discovered via the
// authority or a direct metadata address) and its inline symmetric signing
// keys. When the bearer token is not a JWT at all and the record carries a
// bearer token protector, the token is treated as an opaque ticket and
// unwrapped instead.
//
// Example:
//
//	o, err := reg.Get("api")
//	if err != nil { log.Fatal(err) }
//	authn, err := auth.NewVerifier(ctx, o)
//	if err != nil { log.Fatal(err) }
//
//	ui, err := authn.CheckAuthentication(r.Context(), bearerToken)
//	if errors.Is(err, auth.ErrUnauthorized) { /* map to 401 challenge */ }
//	userID := ui.UserID()
//
// # Middleware
//
// NewMiddleware resolves the effective scheme for each request through the
// record's forwarding fields, authenticates the bearer token, and either
// invokes the wrapped handler with the user in context or writes the
// resolved scheme's challenge. UserFromContext and RawTokenFromContext
// recover what the middleware stored.
//
// # Errors
//
// ErrUnauthorized signals the token is invalid (signature, expiry, audience,
// etc.). ErrInsufficientScope signals successful authentication but missing
// authorization; Middleware.Forbid maps it to the resolved scheme's 403
// challenge. ErrForwardCycle reports a forwarding loop between schemes.
package auth
