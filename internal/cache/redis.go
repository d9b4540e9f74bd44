package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a JSON value cache used by the backend for search results.
type Cache struct {
	client *redis.Client
	prefix string
}

func NewCache(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

// Get decodes the value at key into dest. A miss returns ok=false and no error.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	return c.client.Set(ctx, c.prefix+key, data, ttl).Err()
}

// DeletePrefix removes every key starting with prefix.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	return deleteMatching(ctx, c.client, globEscape(c.prefix+prefix)+"*")
}

// Persister stores query cache entries in Redis so a restarted client
// starts warm. Each entry is a hash of the JSON data and its fetch time.
type Persister struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPersister namespaces entries under prefix (e.g. "ragdesk:query:<user>:")
// and expires them after ttl; zero keeps them until cleared.
func NewPersister(client *redis.Client, prefix string, ttl time.Duration) *Persister {
	return &Persister{client: client, prefix: prefix, ttl: ttl}
}

func (p *Persister) Load(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	vals, err := p.client.HMGet(ctx, p.prefix+key, "data", "updated_at").Result()
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("load %s: %w", key, err)
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, time.Time{}, false, nil
	}
	var updatedAt time.Time
	if ts, ok := vals[1].(string); ok {
		if updatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, time.Time{}, false, fmt.Errorf("parse updated_at for %s: %w", key, err)
		}
	}
	return []byte(data), updatedAt, true, nil
}

func (p *Persister) Save(ctx context.Context, key string, data []byte, updatedAt time.Time) error {
	k := p.prefix + key
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, k, "data", data, "updated_at", updatedAt.UTC().Format(time.RFC3339Nano))
	if p.ttl > 0 {
		pipe.Expire(ctx, k, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Delete removes prefix itself and every key below it ("prefix/...").
func (p *Persister) Delete(ctx context.Context, prefix string) error {
	if prefix == "" {
		return p.Clear(ctx)
	}
	k := p.prefix + prefix
	if err := p.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", prefix, err)
	}
	return deleteMatching(ctx, p.client, globEscape(k+"/")+"*")
}

func (p *Persister) Clear(ctx context.Context) error {
	return deleteMatching(ctx, p.client, globEscape(p.prefix)+"*")
}

func deleteMatching(ctx context.Context, client *redis.Client, pattern string) error {
	iter := client.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("delete keys: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", pattern, err)
	}
	if len(batch) > 0 {
		if err := client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("delete keys: %w", err)
		}
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func globEscape(s string) string {
	return globEscaper.Replace(s)
}
