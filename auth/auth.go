package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope indicates the caller authenticated but lacks required scope.
var ErrInsufficientScope = errors.New("insufficient scope")

// ErrForwardCycle indicates scheme forwarding fields form a loop and no
// terminal scheme can be resolved.
var ErrForwardCycle = errors.New("scheme forwarding cycle")

// UserInfo represents an authenticated principal.
// Implementations should be lightweight and safe for concurrent use.
type UserInfo interface {
	// UserID returns the unique identifier for the user.
	UserID() string
	// Claims unmarshalls the user's claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns associated user info.
// It should return ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

type userKey struct{}

type rawTokenKey struct{}

func withUser(ctx context.Context, ui UserInfo) context.Context {
	return context.WithValue(ctx, userKey{}, ui)
}

// UserFromContext returns the authenticated principal stored by the
// middleware, if any.
func UserFromContext(ctx context.Context) (UserInfo, bool) {
	ui, ok := ctx.Value(userKey{}).(UserInfo)
	return ui, ok
}

func withRawToken(ctx context.Context, tok string) context.Context {
	return context.WithValue(ctx, rawTokenKey{}, tok)
}

// RawTokenFromContext returns the bearer token the request authenticated
// with. It is only present when the resolved scheme has SaveToken enabled.
func RawTokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(rawTokenKey{}).(string)
	return tok, ok
}
