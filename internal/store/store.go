// Package store persists small JSON datasets (journal, session state, market metadata) under
// explicit keys with a last-updated stamp used for expiry.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// MarketCacheTTL bounds how long cached broker metadata is trusted.
	MarketCacheTTL = time.Hour
	// StaleAfter is the generic eviction age for any record.
	StaleAfter = 24 * time.Hour
)

// ErrNotFound is returned by Load when a key is absent.
var ErrNotFound = errors.New("store: key not found")

// Record is the envelope every value is stored in.
type Record struct {
	Key         string          `json:"key"`
	LastUpdated time.Time       `json:"last_updated"`
	Data        json.RawMessage `json:"data"`
}

// Decode unmarshals the payload into v.
func (r Record) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("decode %s: empty payload", r.Key)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", r.Key, err)
	}
	return nil
}

// Fresh reports whether the record was written within ttl of now.
func (r Record) Fresh(ttl time.Duration, now time.Time) bool {
	return now.Sub(r.LastUpdated) < ttl
}

// KV is a key-value store of JSON records.
type KV interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Key joins dataset name parts, e.g. Key("session", "even_odd", "R_100").
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Load decodes key into v, returning ErrNotFound when absent.
func Load(ctx context.Context, kv KV, key string, v any) error {
	rec, ok, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return rec.Decode(v)
}

// LoadFresh is Load that also treats records older than ttl as absent.
func LoadFresh(ctx context.Context, kv KV, key string, ttl time.Duration, now time.Time, v any) error {
	rec, ok, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok || !rec.Fresh(ttl, now) {
		return ErrNotFound
	}
	return rec.Decode(v)
}

// EvictStale deletes every record last updated more than maxAge before now.
func EvictStale(ctx context.Context, kv KV, maxAge time.Duration, now time.Time) (int, error) {
	keys, err := kv.Keys(ctx, "")
	if err != nil {
		return 0, err
	}
	evicted := 0
	for _, key := range keys {
		rec, ok, err := kv.Get(ctx, key)
		if err != nil {
			return evicted, err
		}
		if !ok || rec.Fresh(maxAge, now) {
			continue
		}
		if err := kv.Delete(ctx, key); err != nil {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}

func encode(key string, value any, now time.Time) (Record, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", key, err)
	}
	return Record{Key: key, LastUpdated: now.UTC(), Data: data}, nil
}
