package cache

import (
	"context"
	"fmt"

	"github.com/darkace1998/PostureLens/internal/config"
)

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.KeyPrefix,
		})
	case "sqlite":
		return NewSQLite(cfg.SQLitePath, cfg.PruneInterval)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
