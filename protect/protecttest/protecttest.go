// Package protecttest provides a deterministic, dependency-free
// protect.Factory for tests. Payloads are base64-wrapped JSON tagged with the
// purpose chain rather than encrypted, so tests can assert purpose scoping
// and round-trip behavior without key material.
package protecttest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ggoodman/authscheme-go/protect"
)

// Factory records every purpose chain handed to CreateProtector and returns
// protectors that reject payloads sealed under any other chain, mirroring the
// real factory's scoping semantics.
type Factory struct {
	mu      sync.Mutex
	created [][]string
}

func (f *Factory) CreateProtector(purposes ...string) protect.Protector {
	chain := append([]string(nil), purposes...)
	f.mu.Lock()
	f.created = append(f.created, chain)
	f.mu.Unlock()
	return &fakeProtector{purposes: chain}
}

// Created returns the purpose chains passed to CreateProtector, in call
// order.
func (f *Factory) Created() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.created))
	for i, c := range f.created {
		out[i] = append([]string(nil), c...)
	}
	return out
}

// Ensure interface compliance
var _ protect.Factory = (*Factory)(nil)

type fakeProtector struct {
	purposes []string
}

type envelope struct {
	Purposes []string        `json:"purposes"`
	Ticket   *protect.Ticket `json:"ticket"`
}

func (p *fakeProtector) Protect(t *protect.Ticket) (string, error) {
	if t == nil {
		return "", fmt.Errorf("nil ticket")
	}
	raw, err := json.Marshal(envelope{Purposes: p.purposes, Ticket: t})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func (p *fakeProtector) Unprotect(payload string) (*protect.Ticket, error) {
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protect.ErrInvalidPayload, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", protect.ErrInvalidPayload, err)
	}
	if !slices.Equal(env.Purposes, p.purposes) {
		return nil, fmt.Errorf("%w: purpose chain mismatch", protect.ErrInvalidPayload)
	}
	if env.Ticket == nil {
		return nil, protect.ErrInvalidPayload
	}
	if !env.Ticket.ExpiresAt.IsZero() && time.Now().After(env.Ticket.ExpiresAt) {
		return nil, protect.ErrExpired
	}
	return env.Ticket, nil
}
