// Package store holds the document store backends a sync pass writes to.
// A backend is chosen by the scheme of the store URI.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"

	"github.com/homemade/vaultsync/sync"
)

// Store persists tagged events and per-category cursors.
type Store interface {
	sync.EventStore
	// LatestEvents returns up to limit documents of eventType, newest blockTimestamp first.
	LatestEvents(ctx context.Context, eventType string, limit int) ([]sync.StoredEvent, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type Options struct {
	Database         string
	Collection       string
	CursorCollection string
}

func (o Options) withDefaults() Options {
	if o.Collection == "" {
		o.Collection = "events"
	}
	if o.CursorCollection == "" {
		o.CursorCollection = "sync_state"
	}
	return o
}

// Factory opens a backend for uri.
type Factory func(ctx context.Context, uri string, opts Options) (Store, error)

var ErrUnsupportedScheme = errors.New("unsupported store scheme")

var factoryRegistry = struct {
	mu        gosync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// Register makes a backend available under scheme. Later registrations win.
func Register(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	scheme = normalizeScheme(scheme)
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	factory, ok := factoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// Open connects to the store named by uri and verifies it is reachable.
func Open(ctx context.Context, uri string, opts Options) (Store, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, errors.New("store uri is empty")
	}
	scheme, _, found := strings.Cut(uri, "://")
	if !found {
		return nil, fmt.Errorf("%w: store uri has no scheme, expected e.g. mongodb:// or sqlite://", ErrUnsupportedScheme)
	}
	factory, ok := lookupFactory(scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	s, err := factory(ctx, uri, opts.withDefaults())
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("ping %s store: %w", scheme, err)
	}
	return s, nil
}

func init() {
	Register("memory", func(ctx context.Context, uri string, opts Options) (Store, error) {
		return NewMemoryStore(), nil
	})
	Register("mongodb", openMongo)
	Register("mongodb+srv", openMongo)
	Register("postgres", openPostgres)
	Register("postgresql", openPostgres)
	Register("sqlite", openSQLite)
}

// tableName keeps SQL identifiers built from configuration safe to interpolate.
func tableName(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty table name")
	}
	for _, r := range name {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return "", fmt.Errorf("invalid table name %q", name)
		}
	}
	return name, nil
}
