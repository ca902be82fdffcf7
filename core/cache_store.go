package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
)

// cacheKeyspace is the shared prefix of every cache version. Activation
// deletes all versions under it except the current one.
const cacheKeyspace = "edge-cache:"

// CachedResponse is the stored form of an upstream response. Writes are
// last-write-wins puts; entries never expire, version migration is the only
// eviction.
type CachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// CacheStore is the versioned request/response store shared by all fetch
// handlers of a worker version.
type CacheStore interface {
	Put(ctx context.Context, key string, resp CachedResponse) error
	Get(ctx context.Context, key string) (*CachedResponse, error)
	// DeleteOtherVersions removes every cache version except this store's own.
	// Returns the number of keys deleted.
	DeleteOtherVersions(ctx context.Context) (int, error)
	Version() string
}

// RedisCacheStore implements CacheStore on redis.
type RedisCacheStore struct {
	client  redis.UniversalClient
	version string
}

// NewRedisCacheStore opens the cache store for the given version name.
func NewRedisCacheStore(client redis.UniversalClient, version string) (*RedisCacheStore, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, errors.New("empty cache version")
	}
	if strings.Contains(version, ":") {
		return nil, fmt.Errorf("cache version %q must not contain ':'", version)
	}
	return &RedisCacheStore{client: client, version: version}, nil
}

func (s *RedisCacheStore) Version() string { return s.version }

func (s *RedisCacheStore) prefix() string {
	return cacheKeyspace + s.version + ":"
}

func (s *RedisCacheStore) Put(ctx context.Context, key string, resp CachedResponse) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal cached response: %w", err)
	}
	return s.client.Set(ctx, s.prefix()+key, data, 0).Err()
}

// Get returns the cached response for key, or nil when the key is absent.
func (s *RedisCacheStore) Get(ctx context.Context, key string) (*CachedResponse, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}
	data, err := s.client.Get(ctx, s.prefix()+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var resp CachedResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal cached response: %w", err)
	}
	return &resp, nil
}

func (s *RedisCacheStore) DeleteOtherVersions(ctx context.Context) (int, error) {
	keep := s.prefix()
	deleted := 0
	iter := s.client.Scan(ctx, 0, cacheKeyspace+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, keep) {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return deleted, fmt.Errorf("redis del %s: %w", key, err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// CacheKey normalizes a request into its cache key. Only GETs are cached, so
// the method is omitted; query strings distinguish entries.
func CacheKey(r *http.Request) string {
	key := r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	return key
}
