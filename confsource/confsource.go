// Package confsource defines the read-only hierarchical configuration tree the
// scheme options builder reads from, plus the change-notification contract
// watchable sources implement.
//
// A Section is a node in a string-keyed tree. Lookups never return nil:
// requesting a missing child yields a Section whose Exists reports false and
// whose own lookups keep returning absent sections, so callers can chain
// navigation without nil checks. Values are strings; absent and empty values
// are deliberately indistinguishable.
//
// Sources are point-in-time snapshots. A source that can change over its
// lifetime (file reload, programmatic replacement) additionally implements
// Watcher so consumers such as the options registry can invalidate derived
// state.
package confsource

import (
	"context"
	"sync"
)

// Section is a node in the configuration tree.
type Section interface {
	// Key returns the last path segment of this node ("" at the root).
	Key() string
	// Value returns the scalar value at this node, or "" when it has none.
	Value() string
	// Get returns the value of the named direct child, or "" when the child
	// is absent or has no scalar value.
	Get(key string) string
	// Section returns the named direct child. The result is never nil; a
	// missing child reports Exists() == false.
	Section(key string) Section
	// Children returns the direct children in configuration order.
	Children() []Section
	// Exists reports whether this node is present in the tree.
	Exists() bool
}

// Watcher is implemented by sources whose contents can change. Watch blocks
// until ctx ends, invoking fn after each change; it returns ctx.Err() on
// cancellation or nil if the source is closed.
type Watcher interface {
	Watch(ctx context.Context, fn func()) error
}

// ChangeNotifier provides a simple in-process pub-sub for configuration change
// events. Watchable sources embed one and call Notify after swapping in a new
// snapshot.
type ChangeNotifier struct {
	subscribers   []chan struct{}
	subscribersMu sync.RWMutex
	closed        bool
}

// Notify signals all registered subscribers that the source contents changed.
func (cn *ChangeNotifier) Notify() {
	cn.subscribersMu.RLock()
	defer cn.subscribersMu.RUnlock()

	if cn.closed {
		return
	}

	// Best-effort fan-out: non-blocking send to each subscriber to avoid
	// head-of-line blocking on slow consumers.
	for _, ch := range cn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscriber returns a channel that receives a signal whenever Notify is
// called. The channel is buffered with capacity 1; coalesced notifications are
// acceptable because consumers re-read the whole source anyway.
func (cn *ChangeNotifier) Subscriber() <-chan struct{} {
	cn.subscribersMu.Lock()
	defer cn.subscribersMu.Unlock()

	if cn.closed {
		ch := make(chan struct{})
		close(ch)
		return ch
	}

	ch := make(chan struct{}, 1)
	cn.subscribers = append(cn.subscribers, ch)
	return ch
}

// Close releases all subscribers; their channels are closed and subsequent
// Notify calls are no-ops.
func (cn *ChangeNotifier) Close() {
	cn.subscribersMu.Lock()
	if cn.closed {
		cn.subscribersMu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subscribers
	cn.subscribers = nil
	cn.subscribersMu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// WatchChannel adapts a ChangeNotifier subscription to the Watcher contract.
// It blocks until ctx ends or the notifier is closed, invoking fn once per
// delivered signal.
func WatchChannel(ctx context.Context, cn *ChangeNotifier, fn func()) error {
	ch := cn.Subscriber()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			fn()
		}
	}
}
