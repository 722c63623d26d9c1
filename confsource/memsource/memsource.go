// Package memsource provides an in-memory confsource.Section built from
// nested maps and slices. It is the standard source for tests and for hosts
// that assemble configuration programmatically; Replace swaps the whole tree
// and notifies watchers, which makes invalidation paths testable without
// touching the filesystem.
package memsource

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/ggoodman/authscheme-go/confsource"
)

// Source is a mutable, watchable configuration tree. The zero value is not
// usable; construct with New.
type Source struct {
	mu       sync.RWMutex
	root     *node
	notifier confsource.ChangeNotifier
}

// New builds a Source from a nested tree. Map values become child sections
// enumerated in sorted key order; slice values become children keyed "0",
// "1", ... in slice order (use slices wherever ordering is meaningful);
// scalars become values.
func New(tree map[string]any) *Source {
	return &Source{root: buildNode("", tree)}
}

// Replace swaps in a new tree and notifies watchers. Sections obtained before
// the call keep reading the old snapshot.
func (s *Source) Replace(tree map[string]any) {
	root := buildNode("", tree)
	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
	s.notifier.Notify()
}

// Close releases all watchers.
func (s *Source) Close() { s.notifier.Close() }

// Watch blocks until ctx ends, invoking fn after every Replace.
func (s *Source) Watch(ctx context.Context, fn func()) error {
	return confsource.WatchChannel(ctx, &s.notifier, fn)
}

func (s *Source) snapshot() *node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// The Source itself is the root section of the current snapshot.

func (s *Source) Key() string                           { return "" }
func (s *Source) Value() string                         { return s.snapshot().value }
func (s *Source) Get(key string) string                 { return s.snapshot().get(key) }
func (s *Source) Section(key string) confsource.Section { return s.snapshot().section(key) }
func (s *Source) Children() []confsource.Section        { return s.snapshot().childSections() }
func (s *Source) Exists() bool                          { return true }

var (
	_ confsource.Section = (*Source)(nil)
	_ confsource.Watcher = (*Source)(nil)
)

type node struct {
	key      string
	value    string
	children []*node
	absent   bool
}

func buildNode(key string, v any) *node {
	n := &node{key: key}
	switch t := v.(type) {
	case nil:
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			n.children = append(n.children, buildNode(k, t[k]))
		}
	case []any:
		for i, item := range t {
			n.children = append(n.children, buildNode(strconv.Itoa(i), item))
		}
	case []string:
		for i, item := range t {
			n.children = append(n.children, buildNode(strconv.Itoa(i), item))
		}
	case string:
		n.value = t
	default:
		n.value = fmt.Sprint(t)
	}
	return n
}

func (n *node) child(key string) *node {
	if n.absent {
		return nil
	}
	for _, c := range n.children {
		if c.key == key {
			return c
		}
	}
	return nil
}

func (n *node) get(key string) string {
	if c := n.child(key); c != nil {
		return c.value
	}
	return ""
}

func (n *node) section(key string) confsource.Section {
	if c := n.child(key); c != nil {
		return section{n: c}
	}
	return section{n: &node{key: key, absent: true}}
}

func (n *node) childSections() []confsource.Section {
	if n.absent || len(n.children) == 0 {
		return nil
	}
	out := make([]confsource.Section, len(n.children))
	for i, c := range n.children {
		out[i] = section{n: c}
	}
	return out
}

type section struct{ n *node }

func (s section) Key() string                           { return s.n.key }
func (s section) Value() string                         { return s.n.value }
func (s section) Get(key string) string                 { return s.n.get(key) }
func (s section) Section(key string) confsource.Section { return s.n.section(key) }
func (s section) Children() []confsource.Section        { return s.n.childSections() }
func (s section) Exists() bool                          { return !s.n.absent }
