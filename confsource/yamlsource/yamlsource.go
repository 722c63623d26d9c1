// Package yamlsource provides a confsource.Section backed by a YAML document
// on disk. Mapping children preserve document order, sequences become children
// keyed "0", "1", ..., and scalar values may reference environment variables
// with $VAR or ${VAR} syntax.
//
// The source holds an immutable snapshot of the last successful load. Reload
// swaps in a new snapshot and notifies watchers; Run watches the file through
// fsnotify and reloads on change, keeping the previous snapshot when a reload
// fails.
package yamlsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/ggoodman/authscheme-go/confsource"
)

// Config for a YAML-backed source. Defaults can be loaded via envdecode.
type Config struct {
	// Path of the YAML document. ENV: AUTHSCHEME_CONFIG_PATH
	Path string `env:"AUTHSCHEME_CONFIG_PATH,required"`
	// Debounce between filesystem events and reload. ENV: AUTHSCHEME_CONFIG_DEBOUNCE
	Debounce time.Duration `env:"AUTHSCHEME_CONFIG_DEBOUNCE,default=500ms"`
	// ExpandEnv substitutes $VAR and ${VAR} references in scalar values.
	// ENV: AUTHSCHEME_CONFIG_EXPAND_ENV
	ExpandEnv bool `env:"AUTHSCHEME_CONFIG_EXPAND_ENV,default=true"`
}

// Option configures optional aspects of a Source.
type Option func(*Source)

// WithLogger sets the logger used by Run and Reload diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(s *Source) {
		if log != nil {
			s.log = log
		}
	}
}

// Source is a YAML-file-backed configuration tree.
type Source struct {
	cfg Config
	log *slog.Logger

	mu       sync.RWMutex
	root     *node
	notifier confsource.ChangeNotifier
}

// New loads the document at cfg.Path and returns the source. The initial load
// must succeed; later reload failures keep the previous snapshot.
func New(cfg Config, opts ...Option) (*Source, error) {
	if cfg.Path == "" {
		return nil, errors.New("yamlsource: path is required")
	}
	s := &Source{cfg: cfg, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFromEnv builds a Source using envdecode to populate Config.
func NewFromEnv(opts ...Option) (*Source, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("yamlsource: decode env: %w", err)
	}
	return New(cfg, opts...)
}

// Reload re-reads the document, swaps in the new snapshot, and notifies
// watchers. On error the previous snapshot stays in place.
func (s *Source) Reload() error {
	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.cfg.Path, err)
	}
	root, err := parseDocument(data, s.cfg.ExpandEnv)
	if err != nil {
		return fmt.Errorf("parse %s: %w", s.cfg.Path, err)
	}

	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
	s.notifier.Notify()
	return nil
}

// Close releases all watchers.
func (s *Source) Close() { s.notifier.Close() }

// Watch blocks until ctx ends, invoking fn after every successful Reload,
// whether triggered by Run or called directly.
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

// --- YAML node tree ---

// parseDocument builds the tree from the yaml.Node API rather than
// map[string]any so that mapping children keep document order.
func parseDocument(data []byte, expandEnv bool) (*node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	root := &node{}
	if len(doc.Content) == 0 {
		return root, nil
	}
	if err := buildNode(root, doc.Content[0], expandEnv); err != nil {
		return nil, err
	}
	return root, nil
}

func buildNode(n *node, y *yaml.Node, expandEnv bool) error {
	switch y.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(y.Content); i += 2 {
			child := &node{key: y.Content[i].Value}
			if err := buildNode(child, y.Content[i+1], expandEnv); err != nil {
				return err
			}
			n.children = append(n.children, child)
		}
	case yaml.SequenceNode:
		for i, item := range y.Content {
			child := &node{key: strconv.Itoa(i)}
			if err := buildNode(child, item, expandEnv); err != nil {
				return err
			}
			n.children = append(n.children, child)
		}
	case yaml.ScalarNode:
		if y.Tag == "!!null" {
			return nil
		}
		v := y.Value
		if expandEnv {
			v = os.ExpandEnv(v)
		}
		n.value = v
	case yaml.AliasNode:
		return buildNode(n, y.Alias, expandEnv)
	case yaml.DocumentNode:
		if len(y.Content) > 0 {
			return buildNode(n, y.Content[0], expandEnv)
		}
	}
	return nil
}

type node struct {
	key      string
	value    string
	children []*node
	absent   bool
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
