// Package recommend produces batch job recommendations: a get-or-compute
// cache over the scoring engine, and a collaborative filter over similar
// workers' accepted applications.
package recommend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"onetime/matching-service/internal/logger"
)

// ErrMiss is returned by a Backend when the key is absent.
var ErrMiss = errors.New("cache miss")

// Backend is a generic key-value store with TTL and pattern deletion.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) error
}

// Cache is advisory: a nil or failing backend only costs latency.
type Cache struct {
	backend Backend
	log     *logger.Logger
	group   singleflight.Group
}

// NewCache wraps backend, which may be nil.
func NewCache(backend Backend, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{backend: backend, log: log.With("component", "RecommendationCache")}
}

// GetOrCompute returns the cached value for key or computes, stores and
// returns it. Concurrent misses for one key share a single computation.
// Only compute errors are returned.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if c == nil || c.backend == nil {
		return compute(ctx)
	}

	if raw, err := c.backend.Get(ctx, key); err == nil {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		c.log.Warn("discarding undecodable cache entry", "key", key)
	} else if !errors.Is(err, ErrMiss) {
		c.log.Warn("cache get failed, computing directly", "key", key, "err", err)
	}

	load := func(ctx context.Context) (T, error) {
		fresh, err := compute(ctx)
		if err != nil {
			return fresh, err
		}
		if raw, err := json.Marshal(fresh); err != nil {
			c.log.Warn("cache encode failed", "key", key, "err", err)
		} else if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
			c.log.Warn("cache set failed", "key", key, "err", err)
		}
		return fresh, nil
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) { return load(ctx) })
	if err != nil && shared && ctx.Err() == nil && isContextErr(err) {
		// the caller that ran the shared computation went away
		c.log.Debug("shared computation cancelled, computing again", "key", key)
		return load(ctx)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Invalidate drops every entry under prefix for workerID. Failures are logged.
func (c *Cache) Invalidate(ctx context.Context, prefix, workerID string) {
	if c == nil || c.backend == nil {
		return
	}
	pattern := fmt.Sprintf("%s:%s:*", prefix, workerID)
	if err := c.backend.DeletePattern(ctx, pattern); err != nil {
		c.log.Warn("cache invalidate failed", "pattern", pattern, "err", err)
	}
}

// CanonicalKey builds "prefix:workerID:hash" where hash covers a canonical
// JSON rendering of opts. Object keys are emitted in sorted order, so two
// logically equal option sets always produce the same key regardless of
// struct field order or map iteration order.
func CanonicalKey(prefix, workerID string, opts any) (string, error) {
	canon, err := CanonicalJSON(opts)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return fmt.Sprintf("%s:%s:%x", prefix, workerID, sum[:12]), nil
}

// CanonicalJSON re-encodes v through a generic JSON value. encoding/json
// writes map keys sorted, and UseNumber keeps numbers textually intact.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical key encode: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical key decode: %w", err)
	}
	return json.Marshal(generic)
}

// ─── Redis backend ───────────────────────────────────────────────────────────

// RedisBackend stores entries as plain Redis strings with expiry.
type RedisBackend struct {
	rdb *redis.Client
}

func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return data, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.rdb.Set(ctx, key, value, ttl).Err()
}

// DeletePattern walks the keyspace with SCAN, never KEYS, and deletes matches.
func (b *RedisBackend) DeletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := b.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := b.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// ─── In-memory backend ──────────────────────────────────────────────────────

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend is a process-local Backend for tests and single-instance runs.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok || b.now().After(e.expiresAt) {
		delete(b.entries, key)
		return nil, ErrMiss
	}
	return e.value, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = memoryEntry{value: value, expiresAt: b.now().Add(ttl)}
	return nil
}

// DeletePattern supports a single trailing "*" wildcard, which is all
// Invalidate emits.
func (b *MemoryBackend) DeletePattern(_ context.Context, pattern string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix, wildcard := strings.CutSuffix(pattern, "*")
	for k := range b.entries {
		if (wildcard && strings.HasPrefix(k, prefix)) || k == pattern {
			delete(b.entries, k)
		}
	}
	return nil
}
