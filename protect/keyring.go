package protect

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrKeyNotFound is returned by KeyStore.Get for an unknown key ID.
var ErrKeyNotFound = errors.New("protection key not found")

// ErrNoActiveKey is returned by KeyStore.Active when the ring is empty or no
// key has been activated yet.
var ErrNoActiveKey = errors.New("key ring has no active key")

// Key is a single entry in a protection key ring. The active key seals new
// payloads; retired keys stay in the ring so previously issued payloads remain
// readable.
type Key struct {
	ID        string
	Secret    []byte
	CreatedAt time.Time
}

// NewKey generates a ring key with a fresh UUID and 32 bytes of random secret.
func NewKey() (Key, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return Key{}, fmt.Errorf("generate key secret: %w", err)
	}
	return Key{ID: uuid.NewString(), Secret: secret, CreatedAt: time.Now().UTC()}, nil
}

// KeyStore is the minimal contract factories need a ring backend to provide.
// Implementations must be safe for concurrent use; in-memory and distributed
// backends both satisfy it.
type KeyStore interface {
	// Active returns the key that seals new payloads, or ErrNoActiveKey.
	Active(ctx context.Context) (Key, error)
	// Get returns the key with the given ID, or ErrKeyNotFound.
	Get(ctx context.Context, id string) (Key, error)
	// Save persists the key; when activate is true it also becomes the active
	// key. Saving an existing ID overwrites it.
	Save(ctx context.Context, key Key, activate bool) error
	// List returns every key in the ring in creation order.
	List(ctx context.Context) ([]Key, error)
}
