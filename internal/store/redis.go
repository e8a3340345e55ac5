package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "digitbot:"

// Compile-time checks that both backends satisfy KV.
var (
	_ KV = (*Redis)(nil)
	_ KV = (*File)(nil)
)

// Redis stores records as JSON strings under a key prefix, for operators who already run a local
// Redis next to the bot.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedis wraps an existing client. An empty prefix uses "digitbot:".
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) Get(ctx context.Context, key string) (Record, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	return rec, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, value any) error {
	rec, err := encode(key, value, r.now())
	if err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.prefix+key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := r.client.Scan(ctx, 0, r.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
