package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	apperrors "chartseer/internal/errors"
)

// RedisConfig configures the Redis blob cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	Prefix   string        `mapstructure:"prefix" default:"chartseer:"`
	TTL      time.Duration `mapstructure:"ttl" default:"24h"`
}

// RedisBlobStore keeps learned blobs in Redis, writing through to a durable
// backing store when one is given. Reads fall back to the backing store on a
// miss or when Redis is unreachable.
type RedisBlobStore struct {
	client  *redis.Client
	cfg     RedisConfig
	backing BlobStore
	logger  zerolog.Logger
}

// NewRedisBlobStore connects to Redis. backing may be nil.
func NewRedisBlobStore(cfg RedisConfig, backing BlobStore, logger zerolog.Logger) (*RedisBlobStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is empty: %w", apperrors.ErrConfigInvalid)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "chartseer:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	return &RedisBlobStore{
		client:  client,
		cfg:     cfg,
		backing: backing,
		logger:  logger,
	}, nil
}

// Ping verifies connectivity.
func (r *RedisBlobStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %v: %w", err, apperrors.ErrConnectionFailed)
	}
	return nil
}

func (r *RedisBlobStore) key(k string) string {
	return r.cfg.Prefix + k
}

// LoadBlob implements BlobStore.
func (r *RedisBlobStore) LoadBlob(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	switch {
	case err == nil:
		return data, true, nil
	case errors.Is(err, redis.Nil):
	default:
		if r.backing == nil {
			return nil, false, fmt.Errorf("redis get %s: %v: %w", key, err, apperrors.ErrConnectionFailed)
		}
		r.logger.Warn().Err(err).Str("key", key).Msg("Redis read failed, using backing store")
	}

	if r.backing == nil {
		return nil, false, nil
	}
	data, ok, err := r.backing.LoadBlob(ctx, key)
	if err != nil || !ok {
		return data, ok, err
	}
	if err := r.client.Set(ctx, r.key(key), data, r.cfg.TTL).Err(); err != nil {
		r.logger.Debug().Err(err).Str("key", key).Msg("Failed to warm Redis cache")
	}
	return data, true, nil
}

// SaveBlob implements BlobStore. The backing store is written first and its
// failure is returned; a Redis failure is only fatal without a backing store.
func (r *RedisBlobStore) SaveBlob(ctx context.Context, key string, data []byte) error {
	if r.backing != nil {
		if err := r.backing.SaveBlob(ctx, key, data); err != nil {
			return err
		}
	}
	if err := r.client.Set(ctx, r.key(key), data, r.cfg.TTL).Err(); err != nil {
		if r.backing == nil {
			return fmt.Errorf("redis set %s: %v: %w", key, err, apperrors.ErrConnectionFailed)
		}
		r.logger.Warn().Err(err).Str("key", key).Msg("Redis write failed, blob kept in backing store")
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisBlobStore) Close() error {
	return r.client.Close()
}
