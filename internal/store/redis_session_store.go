package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devrev/botforge/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSessionStore implements SessionStore for Redis; expiry is handled by key TTLs
type RedisSessionStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisSessionStore creates a new Redis session store
func NewRedisSessionStore(host string, port int, password string, db int, logger *zap.Logger) (*RedisSessionStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSessionStoreWithClient(client, logger), nil
}

// NewRedisSessionStoreWithClient wraps an existing client
func NewRedisSessionStoreWithClient(client *redis.Client, logger *zap.Logger) *RedisSessionStore {
	return &RedisSessionStore{
		client: client,
		logger: logger,
	}
}

// Put stores a pending input with TTL, replacing any previous one
func (s *RedisSessionStore) Put(ctx context.Context, key string, input *model.PendingInput, ttl time.Duration) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// Take atomically reads and deletes the entry
func (s *RedisSessionStore) Take(ctx context.Context, key string) (*model.PendingInput, error) {
	data, err := s.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var input model.PendingInput
	if err := json.Unmarshal(data, &input); err != nil {
		s.logger.Warn("Dropping unreadable session", zap.String("key", key), zap.Error(err))
		return nil, ErrNotFound
	}
	return &input, nil
}

// Delete removes a session key
func (s *RedisSessionStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Ping checks the Redis connection
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
