package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
)

// DefaultRedisKey holds the server list document when no key is given.
const DefaultRedisKey = "mcp-toolhub:servers"

// RedisStore keeps the server list as one JSON document under a key, so
// several hubs can share a list.
type RedisStore struct {
	client redis.UniversalClient
	key    string
	owned  bool
}

// NewRedisStore wraps an existing client. The caller keeps ownership of it.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// OpenRedisStore connects to a redis:// URL and checks the server answers.
func OpenRedisStore(ctx context.Context, rawURL, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, mcperrors.StoreError("redis", "open", fmt.Errorf("parse url: %w", err))
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, mcperrors.StoreError("redis", "open", fmt.Errorf("redis ping: %w", err))
	}
	s := NewRedisStore(client, key)
	s.owned = true
	return s, nil
}

// Key returns the key the document is stored under.
func (s *RedisStore) Key() string {
	return s.key
}

func (s *RedisStore) Load(ctx context.Context) ([]ServerConfig, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []ServerConfig{}, nil
	}
	if err != nil {
		return nil, mcperrors.StoreError("redis", "load", err)
	}
	return Decode(data, FormatJSON)
}

func (s *RedisStore) Save(ctx context.Context, servers []ServerConfig) error {
	data, err := Encode(servers, FormatJSON)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return mcperrors.StoreError("redis", "save", err)
	}
	return nil
}

// Close releases the client if the store opened it.
func (s *RedisStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
