package store

import (
	"context"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to open a Store.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu     sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "sqlite", "postgres").
//
// Call Register from an init() function in a backend package. Registering the
// same kind twice panics: this fails fast instead of allowing ambiguous
// backend selection.
func Register(kind string, f factory) {
	regMu.Lock()
	defer regMu.Unlock()

	if kind == "" {
		panic("store: Register called with empty kind")
	}
	if f == nil {
		panic("store: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("store: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Open constructs a Store using the registered backend factory.
//
// Errors:
//   - If cfg.Kind is empty or not registered.
//   - Whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("store: missing Kind")
	}

	regMu.RLock()
	f := factories[cfg.Kind]
	regMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported store kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
