// Package session provides the server-side store behind the session cookie.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSession means the session id does not resolve: never issued, expired,
// or revoked. All three look identical to callers.
var ErrNoSession = errors.New("session not found or expired")

// Data is the state bound to one logged-in session.
type Data struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore keeps sessions in Redis keyed by the hash of the opaque cookie
// value; Redis TTLs handle expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "sess:"}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "sess:"}
}

func (s *RedisStore) key(sessionHash string) string {
	return s.prefix + sessionHash
}

// Save stores the session with the given lifetime.
func (s *RedisStore) Save(ctx context.Context, sessionHash string, data Data, ttl time.Duration) error {
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now()
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.client.Set(ctx, s.key(sessionHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Lookup resolves a session hash back to its Data.
func (s *RedisStore) Lookup(ctx context.Context, sessionHash string) (Data, error) {
	jsonData, err := s.client.Get(ctx, s.key(sessionHash)).Result()
	if err == redis.Nil {
		return Data{}, ErrNoSession
	}
	if err != nil {
		return Data{}, fmt.Errorf("lookup session: %w", err)
	}

	var data Data
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return Data{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return data, nil
}

// Revoke deletes a session. Revoking an absent session is not an error.
func (s *RedisStore) Revoke(ctx context.Context, sessionHash string) error {
	if err := s.client.Del(ctx, s.key(sessionHash)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
