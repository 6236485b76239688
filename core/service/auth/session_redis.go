package auth

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/loopxjstar/Get-Gmails/core/domain"
	"github.com/loopxjstar/Get-Gmails/core/port/out"

	"github.com/redis/go-redis/v9"
)

// sessionKeyPrefix namespaces session entries in redis.
const sessionKeyPrefix = "session:"

// RedisSessionStore keeps sessions in redis with native key expiry. Used
// when REDIS_URL is configured; expiry replaces the in-memory janitor.
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

// sessionRecord is the wire form. The domain struct hides token fields
// from JSON on purpose, so the store carries its own tagged copy.
type sessionRecord struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *RedisSessionStore) Put(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	rec := sessionRecord{
		ID:           sess.ID,
		Email:        sess.Email,
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		TokenType:    sess.TokenType,
		Expiry:       sess.Expiry,
		Scopes:       sess.Scopes,
		CreatedAt:    sess.CreatedAt,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKeyPrefix+sess.ID, data, ttl).Err()
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, out.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec sessionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &domain.Session{
		ID:           rec.ID,
		Email:        rec.Email,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		TokenType:    rec.TokenType,
		Expiry:       rec.Expiry,
		Scopes:       rec.Scopes,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionKeyPrefix+id).Err()
}

var _ out.SessionStore = (*RedisSessionStore)(nil)
