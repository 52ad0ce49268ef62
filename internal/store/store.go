package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ryosukesatoh/paperwatch/internal/config"
)

// ErrCorrupt marks persisted state that exists but cannot be decoded.
var ErrCorrupt = errors.New("store: corrupt state")

// Store persists the set of delivered paper IDs across runs. Load always
// returns a usable set, even alongside an error.
type Store interface {
	Load(ctx context.Context) (Set, error)
	Save(ctx context.Context, ids Set) error
	Close() error
}

// New creates a Store for the configured backend.
func New(cfg config.StoreConfig) (Store, error) {
	switch cfg.Type {
	case "", "json":
		return NewJSONFileStore(cfg.Path), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "redis":
		return NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key), nil
	default:
		return nil, fmt.Errorf("store: unsupported type %q", cfg.Type)
	}
}
