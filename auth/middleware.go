package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	authscheme "github.com/ggoodman/authscheme-go"
	"github.com/ggoodman/authscheme-go/internal/logctx"
)

// Op names the authentication operations a scheme can forward to another
// scheme. Each has its own forwarding field on the record, with
// ForwardDefault as the fallback.
type Op int

const (
	OpAuthenticate Op = iota
	OpChallenge
	OpForbid
	OpSignIn
	OpSignOut
)

func (op Op) String() string {
	switch op {
	case OpAuthenticate:
		return "authenticate"
	case OpChallenge:
		return "challenge"
	case OpForbid:
		return "forbid"
	case OpSignIn:
		return "sign-in"
	case OpSignOut:
		return "sign-out"
	}
	return "unknown"
}

const defaultChallengeScheme = "Bearer"

var (
	errNoCredentials          = errors.New("no credentials supplied")
	errBadAuthorizationHeader = errors.New("invalid authorization header")
)

// MiddlewareOption configures optional aspects of a Middleware.
type MiddlewareOption func(*Middleware)

// WithLogger sets the logger used for authentication diagnostics. The default
// discards everything.
func WithLogger(log *slog.Logger) MiddlewareOption {
	return func(m *Middleware) {
		if log != nil {
			m.log = log
		}
	}
}

// Middleware authenticates requests against a named scheme from a registry.
// Scheme records are resolved per request, so configuration reloads take
// effect without restarting; the verifier built for a record is reused until
// the registry hands out a new record for the scheme.
type Middleware struct {
	reg    *authscheme.Registry
	scheme string
	base   context.Context
	log    *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedAuthenticator
}

type cachedAuthenticator struct {
	record *authscheme.Options
	authn  Authenticator
}

// NewMiddleware returns a Middleware authenticating against scheme. ctx
// bounds background key refresh for the verifiers it builds, so pass a
// context that stays alive as long as the middleware serves requests.
func NewMiddleware(ctx context.Context, reg *authscheme.Registry, scheme string, opts ...MiddlewareOption) (*Middleware, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if scheme == authscheme.DefaultSchemeName {
		return nil, errors.New("a named scheme is required")
	}
	m := &Middleware{
		reg:    reg,
		scheme: scheme,
		base:   ctx,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		cache:  make(map[string]cachedAuthenticator),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ResolveScheme follows forwarding fields from name until a record handles op
// itself, and returns that record with its scheme name. Forwarding loops
// yield ErrForwardCycle.
func (m *Middleware) ResolveScheme(name string, op Op) (string, *authscheme.Options, error) {
	seen := make(map[string]bool)
	for {
		if seen[name] {
			return "", nil, fmt.Errorf("%w: %s via %q", ErrForwardCycle, op, name)
		}
		seen[name] = true

		o, err := m.reg.Get(name)
		if err != nil {
			return "", nil, fmt.Errorf("scheme %q: %w", name, err)
		}
		next := forwardTarget(o, op)
		if next == "" {
			return name, o, nil
		}
		name = next
	}
}

func forwardTarget(o *authscheme.Options, op Op) string {
	var specific string
	switch op {
	case OpAuthenticate:
		specific = o.ForwardAuthenticate
	case OpChallenge:
		specific = o.ForwardChallenge
	case OpForbid:
		specific = o.ForwardForbid
	case OpSignIn:
		specific = o.ForwardSignIn
	case OpSignOut:
		specific = o.ForwardSignOut
	}
	if specific != "" {
		return specific
	}
	return o.ForwardDefault
}

// Wrap authenticates each request before invoking next. On success the
// principal (and, with SaveToken, the raw bearer token) is stored in the
// request context; on failure the resolved scheme's challenge is written and
// next is never called.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, o, err := m.ResolveScheme(m.scheme, OpAuthenticate)
		if err != nil {
			m.log.Error("scheme resolution failed",
				slog.String("scheme", m.scheme),
				slog.String("err", err.Error()),
			)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
			RequestID:  r.Header.Get("X-Request-Id"),
			Method:     r.Method,
			UserAgent:  r.UserAgent(),
			RemoteAddr: r.RemoteAddr,
			Path:       r.URL.Path,
		})
		ctx = logctx.WithSchemeData(ctx, &logctx.SchemeData{Name: name, Operation: OpAuthenticate.String()})

		tok, err := bearerToken(r)
		if err != nil {
			m.writeChallenge(ctx, w, err)
			return
		}

		authn, err := m.authenticatorFor(name, o)
		if err != nil {
			m.log.Error("authenticator construction failed",
				slog.String("scheme", name),
				slog.String("err", err.Error()),
			)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		ui, err := authn.CheckAuthentication(ctx, tok)
		if err != nil {
			m.log.Debug("authentication failed",
				slog.String("scheme", name),
				slog.String("err", err.Error()),
			)
			m.writeChallenge(ctx, w, err)
			return
		}

		ctx = withUser(ctx, ui)
		ctx = logctx.WithPrincipalData(ctx, &logctx.PrincipalData{Subject: ui.UserID()})
		if o.SaveToken {
			ctx = withRawToken(ctx, tok)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Challenge writes the resolved scheme's authentication-required challenge.
func (m *Middleware) Challenge(w http.ResponseWriter) error {
	_, o, err := m.ResolveScheme(m.scheme, OpChallenge)
	if err != nil {
		return err
	}
	NewAuthenticationRequired(challengeScheme(o)).Write(w)
	return nil
}

// Forbid writes the resolved scheme's insufficient-authorization challenge.
func (m *Middleware) Forbid(w http.ResponseWriter) error {
	_, o, err := m.ResolveScheme(m.scheme, OpForbid)
	if err != nil {
		return err
	}
	NewInsufficientScopeChallenge(challengeScheme(o), "").Write(w)
	return nil
}

func (m *Middleware) writeChallenge(ctx context.Context, w http.ResponseWriter, cause error) {
	_, o, err := m.ResolveScheme(m.scheme, OpChallenge)
	if err != nil {
		m.log.Error("challenge resolution failed",
			slog.String("scheme", m.scheme),
			slog.String("err", err.Error()),
		)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	cs := challengeScheme(o)
	detail := ""
	if o.IncludeErrorDetails && cause != nil {
		detail = cause.Error()
	}

	var ch *AuthenticationChallenge
	switch {
	case errors.Is(cause, errNoCredentials):
		ch = NewAuthenticationRequired(cs)
	case errors.Is(cause, errBadAuthorizationHeader):
		ch = NewInvalidAuthorizationHeader(cs)
	case errors.Is(cause, ErrInsufficientScope):
		ch = NewInsufficientScopeChallenge(cs, detail)
	default:
		ch = NewInvalidTokenChallenge(cs, detail)
	}
	ch.Write(w)
}

func (m *Middleware) authenticatorFor(name string, o *authscheme.Options) (Authenticator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.cache[name]; ok && entry.record == o {
		return entry.authn, nil
	}
	authn, err := NewVerifier(m.base, o)
	if err != nil {
		return nil, err
	}
	m.cache[name] = cachedAuthenticator{record: o, authn: authn}
	return authn, nil
}

func challengeScheme(o *authscheme.Options) string {
	if o.Challenge != "" {
		return o.Challenge
	}
	return defaultChallengeScheme
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoCredentials
	}
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", errBadAuthorizationHeader
	}
	tok := strings.TrimSpace(header[len(prefix):])
	if tok == "" {
		return "", errBadAuthorizationHeader
	}
	return tok, nil
}
