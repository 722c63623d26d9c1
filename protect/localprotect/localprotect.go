// Package localprotect implements protect.Factory over a protection key ring.
//
// Each protector derives a content key from the ring's master secret with
// HKDF-SHA256, using the length-prefixed purpose chain as derivation info, so
// payloads sealed under one chain can never be unsealed under another.
// Payloads are compact JWEs (direct key agreement, A256GCM) carrying the ring
// key ID in the kid header; after rotation, old payloads still unseal through
// the retired key they name.
package localprotect

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/hkdf"

	"github.com/ggoodman/authscheme-go/protect"
)

// Option configures optional aspects of a Factory.
type Option func(*Factory)

// WithLogger sets the logger used for key lifecycle events.
func WithLogger(log *slog.Logger) Option {
	return func(f *Factory) {
		if log != nil {
			f.log = log
		}
	}
}

// Factory derives purpose-scoped protectors from a shared key ring. Key
// material is loaded once at construction; CreateProtector and the protectors
// it returns never touch the store.
type Factory struct {
	store protect.KeyStore
	log   *slog.Logger

	mu     sync.RWMutex
	active protect.Key
	ring   map[string][]byte // key ID -> master secret
}

// New loads the ring from store, generating and activating an initial key when
// the ring is empty. This is the factory's only blocking construction step.
func New(ctx context.Context, store protect.KeyStore, opts ...Option) (*Factory, error) {
	f := &Factory{
		store: store,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		ring:  make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := f.Refresh(ctx); err != nil {
		if !errors.Is(err, protect.ErrNoActiveKey) {
			return nil, err
		}
		key, err := protect.NewKey()
		if err != nil {
			return nil, err
		}
		if err := f.store.Save(ctx, key, true); err != nil {
			return nil, fmt.Errorf("save initial key: %w", err)
		}
		if err := f.Refresh(ctx); err != nil {
			return nil, err
		}
		f.log.Info("generated initial protection key", slog.String("kid", key.ID))
	}
	return f, nil
}

// Refresh reloads the ring and active key from the store, picking up
// rotations performed by other processes.
func (f *Factory) Refresh(ctx context.Context) error {
	keys, err := f.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	active, err := f.store.Active(ctx)
	if err != nil {
		return err
	}

	ring := make(map[string][]byte, len(keys))
	for _, k := range keys {
		ring[k.ID] = k.Secret
	}
	ring[active.ID] = active.Secret

	f.mu.Lock()
	f.active = active
	f.ring = ring
	f.mu.Unlock()
	return nil
}

// Rotate generates a fresh key, activates it, and keeps prior keys in the
// ring so previously issued payloads remain readable.
func (f *Factory) Rotate(ctx context.Context) (protect.Key, error) {
	key, err := protect.NewKey()
	if err != nil {
		return protect.Key{}, err
	}
	if err := f.store.Save(ctx, key, true); err != nil {
		return protect.Key{}, fmt.Errorf("save rotated key: %w", err)
	}

	f.mu.Lock()
	f.active = key
	f.ring[key.ID] = key.Secret
	f.mu.Unlock()

	f.log.Info("rotated protection key", slog.String("kid", key.ID))
	return key, nil
}

// CreateProtector returns a protector bound to the purpose chain. Pure: no
// store access, no allocation of key material until Protect or Unprotect.
func (f *Factory) CreateProtector(purposes ...string) protect.Protector {
	return &protector{f: f, purposes: append([]string(nil), purposes...)}
}

func (f *Factory) activeKey() (string, []byte) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active.ID, f.active.Secret
}

func (f *Factory) secretFor(kid string) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	secret, ok := f.ring[kid]
	return secret, ok
}

// Ensure interface compliance
var _ protect.Factory = (*Factory)(nil)

type protector struct {
	f        *Factory
	purposes []string
}

func (p *protector) Protect(t *protect.Ticket) (string, error) {
	if t == nil {
		return "", errors.New("nil ticket")
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode ticket: %w", err)
	}

	kid, secret := p.f.activeKey()
	cek, err := deriveKey(secret, p.purposes)
	if err != nil {
		return "", err
	}

	opts := (&jose.EncrypterOptions{}).WithHeader("kid", kid)
	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: cek}, opts)
	if err != nil {
		return "", fmt.Errorf("create encrypter: %w", err)
	}
	jwe, err := enc.Encrypt(payload)
	if err != nil {
		return "", fmt.Errorf("seal ticket: %w", err)
	}
	return jwe.CompactSerialize()
}

func (p *protector) Unprotect(payload string) (*protect.Ticket, error) {
	jwe, err := jose.ParseEncrypted(payload, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, errors.Join(protect.ErrInvalidPayload, err)
	}

	kid := jwe.Header.KeyID
	secret, ok := p.f.secretFor(kid)
	if !ok {
		return nil, fmt.Errorf("%w: unknown key id %q", protect.ErrInvalidPayload, kid)
	}
	cek, err := deriveKey(secret, p.purposes)
	if err != nil {
		return nil, err
	}

	raw, err := jwe.Decrypt(cek)
	if err != nil {
		// Wrong purpose chain and tampering are indistinguishable here.
		return nil, errors.Join(protect.ErrInvalidPayload, err)
	}
	var t protect.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, errors.Join(protect.ErrInvalidPayload, err)
	}
	if !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt) {
		return nil, protect.ErrExpired
	}
	return &t, nil
}

func deriveKey(secret []byte, purposes []string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, framePurposes(purposes))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive purpose key: %w", err)
	}
	return key, nil
}

// framePurposes length-prefixes each segment so distinct chains can never
// yield the same derivation info after concatenation.
func framePurposes(purposes []string) []byte {
	buf := make([]byte, 0, 64)
	for _, p := range purposes {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(p)))
		buf = append(buf, n[:]...)
		buf = append(buf, p...)
	}
	return buf
}
