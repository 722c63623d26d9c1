// Package protect defines the payload-protection capability consumed by the
// scheme options builder: a Factory derives purpose-scoped Protectors, and a
// Protector seals and unseals ticket-shaped payloads (opaque bearer and
// refresh tokens).
//
// The public surface intentionally stays small: callers ask a Factory for a
// Protector bound to a purpose chain and then round-trip Tickets through it.
// Payloads produced under one purpose chain can never be unprotected under
// another, which is what keeps bearer and refresh tokens for different schemes
// mutually opaque even when they share key material.
//
// # Key Rings
//
// Concrete factories keep their key material in a KeyStore so that multiple
// processes can share a ring and so that rotation keeps previously issued
// payloads readable. The localprotect subpackage provides the standard
// implementation; memorystore and redisstore provide ring storage.
//
// # Errors
//
// ErrInvalidPayload signals a payload that is corrupt, truncated, tampered
// with, or produced under a different purpose chain or an unknown key.
// ErrExpired signals a structurally valid payload whose ticket has passed its
// expiry. Both are sentinel errors suitable for errors.Is.
package protect
