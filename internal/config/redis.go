package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// DefaultRedisKey - ключ документа, если в URL не указан ?key=.
const DefaultRedisKey = "roombot:config"

// RedisBackend хранит документ как YAML-строку под одним ключом.
type RedisBackend struct {
	rdb *redis.Client
	key string
	url string
}

// NewRedisBackend разбирает redis://host:port/db?key=... .
func NewRedisBackend(location string) (*RedisBackend, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	key := u.Query().Get("key")
	if key == "" {
		key = DefaultRedisKey
	}
	q := u.Query()
	q.Del("key")
	u.RawQuery = q.Encode()

	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	u.User = nil
	return &RedisBackend{rdb: redis.NewClient(opts), key: key, url: u.String()}, nil
}

// NewRedisBackendFromClient - для тестов и встраивания.
func NewRedisBackendFromClient(rdb *redis.Client, key string) *RedisBackend {
	return &RedisBackend{rdb: rdb, key: key, url: "redis"}
}

func (r *RedisBackend) String() string { return r.url + "#" + r.key }

func (r *RedisBackend) Load(ctx context.Context) (map[string]any, error) {
	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrDocumentMissing
		}
		return nil, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML from redis: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return normalize(doc).(map[string]any), nil
}

func (r *RedisBackend) Save(ctx context.Context, doc map[string]any) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

// Close закрывает пул соединений.
func (r *RedisBackend) Close() error { return r.rdb.Close() }
