// Package memorystore provides an in-memory implementation of
// protect.KeyStore for single-process deployments and tests.
package memorystore

import (
	"context"
	"sync"

	"github.com/ggoodman/authscheme-go/protect"
)

// Store is an in-memory key ring. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	keys   map[string]protect.Key
	order  []string
	active string
}

func New() *Store {
	return &Store{keys: make(map[string]protect.Key)}
}

func (s *Store) Active(ctx context.Context) (protect.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == "" {
		return protect.Key{}, protect.ErrNoActiveKey
	}
	return copyKey(s.keys[s.active]), nil
}

func (s *Store) Get(ctx context.Context, id string) (protect.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return protect.Key{}, protect.ErrKeyNotFound
	}
	return copyKey(k), nil
}

func (s *Store) Save(ctx context.Context, key protect.Key, activate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; !ok {
		s.order = append(s.order, key.ID)
	}
	s.keys[key.ID] = copyKey(key)
	if activate {
		s.active = key.ID
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]protect.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protect.Key, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyKey(s.keys[id]))
	}
	return out, nil
}

func copyKey(k protect.Key) protect.Key {
	k.Secret = append([]byte(nil), k.Secret...)
	return k
}

// Ensure interface compliance
var _ protect.KeyStore = (*Store)(nil)
