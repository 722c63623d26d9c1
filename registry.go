package authscheme

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ggoodman/authscheme-go/confsource"
)

// DefaultCacheSize bounds the registry's options cache when WithCacheSize is
// not used. Scheme names can be request-derived, so the cache is bounded
// rather than a plain map.
const DefaultCacheSize = 128

// RegistryOption configures optional aspects of a Registry.
type RegistryOption func(*Registry)

// WithDefaults sets the template cloned into every freshly built record, so
// fields absent from configuration inherit these values instead of zero
// values.
func WithDefaults(defaults *Options) RegistryOption {
	return func(r *Registry) { r.defaults = defaults }
}

// WithCacheSize bounds the number of materialized records kept in memory.
func WithCacheSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.size = n
		}
	}
}

// Registry owns the named-options lifecycle: it builds records on first use,
// caches them, and invalidates them explicitly or when the configuration
// source reports a change. Records handed out by Get are shared; callers must
// treat them as read-only.
type Registry struct {
	b        *Builder
	defaults *Options
	log      *slog.Logger
	size     int

	mu    sync.Mutex
	cache *lru.Cache[string, *Options]
}

// NewRegistry returns a Registry building records through b. Diagnostics go to
// the builder's logger.
func NewRegistry(b *Builder, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{b: b, log: b.log, size: DefaultCacheSize}
	for _, opt := range opts {
		opt(r)
	}
	cache, err := lru.New[string, *Options](r.size)
	if err != nil {
		return nil, fmt.Errorf("options cache: %w", err)
	}
	r.cache = cache
	return r, nil
}

// Get returns the materialized record for name, building and caching it on
// first use. Concurrent calls for the same name observe a single build.
func (r *Registry) Get(name string) (*Options, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.cache.Get(name); ok {
		return o, nil
	}

	o := r.newRecord()
	if err := r.b.Configure(name, o); err != nil {
		return nil, err
	}
	r.cache.Add(name, o)

	if n := len(o.TokenValidation.ValidIssuers) - len(o.TokenValidation.IssuerSigningKeys); n > 0 {
		r.log.Warn("issuers without signing keys",
			slog.String("scheme", name),
			slog.Int("unmatched", n),
			slog.Int("issuers", len(o.TokenValidation.ValidIssuers)),
		)
	}
	return o, nil
}

// Invalidate drops the cached record for name, reporting whether one was
// present. The next Get rebuilds it from the current source snapshot.
func (r *Registry) Invalidate(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Remove(name)
}

// InvalidateAll drops every cached record.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
}

// WatchSource invalidates all cached records whenever the builder's
// configuration source reports a change. It blocks until ctx ends; callers
// typically run it on its own goroutine. Sources that do not implement
// confsource.Watcher yield ErrWatchUnsupported.
func (r *Registry) WatchSource(ctx context.Context) error {
	w, ok := r.b.Source().(confsource.Watcher)
	if !ok {
		return ErrWatchUnsupported
	}
	return w.Watch(ctx, func() {
		r.log.Info("configuration changed; invalidating cached scheme options")
		r.InvalidateAll()
	})
}

func (r *Registry) newRecord() *Options {
	if r.defaults != nil {
		return r.defaults.Clone()
	}
	return &Options{}
}
