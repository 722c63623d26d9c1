// Package authtest provides a static in-memory Authenticator for tests and
// development environments where a real token issuer is not available.
package authtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ggoodman/authscheme-go/auth"
)

// Static authenticates exact bearer token strings registered with Add. Every
// other token fails with auth.ErrUnauthorized.
type Static struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewStatic returns an empty Static authenticator.
func NewStatic() *Static {
	return &Static{users: make(map[string]*User)}
}

// Add registers a token that authenticates as userID with the given claims.
func (s *Static) Add(token, userID string, claims map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[token] = &User{ID: userID, ClaimsMap: claims}
}

func (s *Static) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[tok]; ok {
		return u, nil
	}
	return nil, auth.ErrUnauthorized
}

var _ auth.Authenticator = (*Static)(nil)

// User is a fixed principal returned by Static.
type User struct {
	ID        string
	ClaimsMap map[string]any
}

func (u *User) UserID() string { return u.ID }

func (u *User) Claims(ref any) error {
	b, err := json.Marshal(u.ClaimsMap)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
