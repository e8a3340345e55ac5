package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	Path      string
	RedisAddr string
	RedisDB   int
	Prefix    string
}

// Open builds the configured backend. Redis is pinged so a dead server fails fast.
func Open(ctx context.Context, opts Options) (KV, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr, DB: opts.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", opts.RedisAddr, err)
		}
		return NewRedis(client, opts.Prefix), nil
	case BackendMemory:
		return NewMemory(), nil
	case "", BackendFile:
		return OpenFile(opts.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
