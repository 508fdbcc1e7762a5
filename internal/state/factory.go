package state

import (
	"context"
	"fmt"
)

// Config selects and configures a snapshot store backend.
type Config struct {
	Backend string // "memory", "file", or "redis"
	Dir     string // file backend root
	Redis   RedisConfig
}

// NewStore builds the store named by cfg.Backend.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("state: file backend requires a directory")
		}
		return NewFileStore(cfg.Dir)
	case "redis":
		return NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("state: unknown backend %q", cfg.Backend)
	}
}
