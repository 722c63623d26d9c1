// Package keystoretest provides a conformance test suite that any
// protect.KeyStore implementation must pass. Driver packages invoke
// RunKeyStoreTests from their own tests with a factory producing a fresh,
// empty store.
package keystoretest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/authscheme-go/protect"
)

// StoreFactory creates a new, empty KeyStore instance for testing.
type StoreFactory func(t *testing.T) protect.KeyStore

// RunKeyStoreTests runs the complete KeyStore test suite against the provided
// factory.
func RunKeyStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("EmptyRing_ActiveReturnsNoActiveKey", func(t *testing.T) { testEmptyRingActive(t, factory) })
	t.Run("Get_UnknownID_ReturnsKeyNotFound", func(t *testing.T) { testGetUnknown(t, factory) })
	t.Run("SaveActivate_ActiveReturnsSavedKey", func(t *testing.T) { testSaveActivate(t, factory) })
	t.Run("SaveWithoutActivate_ActiveUnchanged", func(t *testing.T) { testSaveWithoutActivate(t, factory) })
	t.Run("Rotation_OldKeysRemainLoadable", func(t *testing.T) { testRotation(t, factory) })
	t.Run("List_ReturnsKeysInCreationOrder", func(t *testing.T) { testListOrder(t, factory) })
	t.Run("SecretRoundTrip_PreservesBytes", func(t *testing.T) { testSecretRoundTrip(t, factory) })
}

func newTestKey(t *testing.T) protect.Key {
	t.Helper()
	k, err := protect.NewKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k
}

func testEmptyRingActive(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.Active(ctx); !errors.Is(err, protect.ErrNoActiveKey) {
		t.Fatalf("expected ErrNoActiveKey, got %v", err)
	}
}

func testGetUnknown(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.Get(ctx, "no-such-key"); !errors.Is(err, protect.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func testSaveActivate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	k := newTestKey(t)
	if err := s.Save(ctx, k, true); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got.ID != k.ID {
		t.Fatalf("expected active key %s, got %s", k.ID, got.ID)
	}
	if !bytes.Equal(got.Secret, k.Secret) {
		t.Fatal("active key secret mismatch")
	}
}

func testSaveWithoutActivate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := newTestKey(t)
	if err := s.Save(ctx, first, true); err != nil {
		t.Fatalf("save first: %v", err)
	}
	second := newTestKey(t)
	if err := s.Save(ctx, second, false); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := s.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("expected active key %s, got %s", first.ID, got.ID)
	}
	if _, err := s.Get(ctx, second.ID); err != nil {
		t.Fatalf("second key should be loadable: %v", err)
	}
}

func testRotation(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	old := newTestKey(t)
	if err := s.Save(ctx, old, true); err != nil {
		t.Fatalf("save old: %v", err)
	}
	fresh := newTestKey(t)
	if err := s.Save(ctx, fresh, true); err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	got, err := s.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got.ID != fresh.ID {
		t.Fatalf("expected active key %s after rotation, got %s", fresh.ID, got.ID)
	}

	loaded, err := s.Get(ctx, old.ID)
	if err != nil {
		t.Fatalf("old key should remain loadable: %v", err)
	}
	if !bytes.Equal(loaded.Secret, old.Secret) {
		t.Fatal("old key secret mismatch after rotation")
	}
}

func testListOrder(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	want := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		k := newTestKey(t)
		if err := s.Save(ctx, k, i == 2); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		want = append(want, k.ID)
	}

	keys, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i].ID != want[i] {
			t.Fatalf("key %d: expected %s, got %s", i, want[i], keys[i].ID)
		}
	}
}

func testSecretRoundTrip(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	k := newTestKey(t)
	secret := append([]byte(nil), k.Secret...)
	if err := s.Save(ctx, k, true); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Mutating the caller's copy must not reach the store.
	for i := range k.Secret {
		k.Secret[i] = 0
	}

	got, err := s.Get(ctx, k.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got.Secret, secret) {
		t.Fatal("stored secret was mutated through the caller's slice")
	}
}
