package protect

import (
	"errors"
	"time"
)

// ErrInvalidPayload indicates a payload that cannot be unprotected: corrupt,
// tampered with, sealed under a different purpose chain, or referencing an
// unknown ring key.
var ErrInvalidPayload = errors.New("payload cannot be unprotected")

// ErrExpired indicates a structurally valid payload whose ticket expiry has
// passed.
var ErrExpired = errors.New("protected payload expired")

// Ticket is the serializable payload shape protectors operate on. It carries
// the authenticated subject plus arbitrary claims and properties; the zero
// ExpiresAt means the ticket never expires.
type Ticket struct {
	Subject    string            `json:"sub,omitempty"`
	Claims     map[string]any    `json:"claims,omitempty"`
	Properties map[string]string `json:"props,omitempty"`
	IssuedAt   time.Time         `json:"iat"`
	ExpiresAt  time.Time         `json:"exp"`
}

// Protector seals tickets into opaque string payloads and unseals them again.
// Implementations must be safe for concurrent use and must reject payloads
// produced under any other purpose chain with ErrInvalidPayload.
type Protector interface {
	// Protect serializes and seals the ticket.
	Protect(t *Ticket) (string, error)
	// Unprotect unseals a payload previously produced by Protect under the
	// same purpose chain. Expired tickets yield ErrExpired.
	Unprotect(payload string) (*Ticket, error)
}

// Factory derives Protectors bound to a purpose chain. Factories are safe for
// concurrent use and side-effect-free beyond their own key material; calling
// CreateProtector twice with the same chain yields functionally equivalent
// protectors.
type Factory interface {
	CreateProtector(purposes ...string) Protector
}
