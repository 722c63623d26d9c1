// Package redisstore provides a Redis-backed protect.KeyStore so multiple
// processes can share one protection key ring.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/authscheme-go/protect"
)

// Config for a Redis-backed key ring. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: PROTECT_KEY_PREFIX
	KeyPrefix string `env:"PROTECT_KEY_PREFIX,default=authscheme:keys:"`
}

// Store is a Redis-backed key ring.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "authscheme:keys:"
	}
	return &Store{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	// Use envdecode; defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

// --- Key helpers ---

func (s *Store) entryKey(id string) string { return s.keyPrefix + "key:" + id }
func (s *Store) activeKey() string         { return s.keyPrefix + "active" }
func (s *Store) ringKey() string           { return s.keyPrefix + "ring" }

// storedKey is the persisted wire shape; Secret marshals as base64.
type storedKey struct {
	ID        string    `json:"id"`
	Secret    []byte    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) Active(ctx context.Context) (protect.Key, error) {
	id, err := s.client.Get(ctx, s.activeKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return protect.Key{}, protect.ErrNoActiveKey
		}
		return protect.Key{}, err
	}
	return s.Get(ctx, id)
}

func (s *Store) Get(ctx context.Context, id string) (protect.Key, error) {
	data, err := s.client.Get(ctx, s.entryKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return protect.Key{}, protect.ErrKeyNotFound
		}
		return protect.Key{}, err
	}
	var sk storedKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return protect.Key{}, fmt.Errorf("decode key %s: %w", id, err)
	}
	return protect.Key{ID: sk.ID, Secret: sk.Secret, CreatedAt: sk.CreatedAt}, nil
}

func (s *Store) Save(ctx context.Context, key protect.Key, activate bool) error {
	data, err := json.Marshal(storedKey{ID: key.ID, Secret: key.Secret, CreatedAt: key.CreatedAt})
	if err != nil {
		return err
	}
	// Ring membership is tracked in a list. Rotation writes are rare, so the
	// exists-then-push window is acceptable; last write wins on the payload.
	exists, err := s.client.Exists(ctx, s.entryKey(key.ID)).Result()
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.entryKey(key.ID), data, 0).Err(); err != nil {
		return err
	}
	if exists == 0 {
		if err := s.client.RPush(ctx, s.ringKey(), key.ID).Err(); err != nil {
			return err
		}
	}
	if activate {
		if err := s.client.Set(ctx, s.activeKey(), key.ID, 0).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]protect.Key, error) {
	ids, err := s.client.LRange(ctx, s.ringKey(), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]protect.Key, 0, len(ids))
	for _, id := range ids {
		k, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, protect.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// Ensure interface compliance
var _ protect.KeyStore = (*Store)(nil)
