package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// ErrTokenNotFound indicates the store holds no token under the key.
var ErrTokenNotFound = errors.New("token not found")

// RedisKeyPrefix prefixes token keys in Redis.
const RedisKeyPrefix = "acct:token:"

// RefreshTokenLifetime bounds how long a stored token is kept. Refresh tokens
// issued by Visma Connect are valid for 30 days.
const RefreshTokenLifetime = 30 * 24 * time.Hour

// TokenStore persists tokens between process runs.
type TokenStore interface {
	Load(ctx context.Context, key string) (*oauth2.Token, error)
	Save(ctx context.Context, key string, token *oauth2.Token) error
}

// MemoryStore keeps tokens in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]oauth2.Token
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]oauth2.Token)}
}

// Load returns a copy of the token stored under key.
func (s *MemoryStore) Load(_ context.Context, key string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.tokens[key]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &tok, nil
}

// Save stores a copy of token under key.
func (s *MemoryStore) Save(_ context.Context, key string, token *oauth2.Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[key] = *token
	return nil
}

// storedToken is the JSON layout in Redis.
type storedToken struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// RedisStore keeps tokens in Redis so several processes share one refresh
// chain.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed token store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Load reads the token stored under key.
func (s *RedisStore) Load(ctx context.Context, key string) (*oauth2.Token, error) {
	data, err := s.redis.Get(ctx, RedisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode stored token: %w", err)
	}

	return &oauth2.Token{
		AccessToken:  st.AccessToken,
		TokenType:    st.TokenType,
		RefreshToken: st.RefreshToken,
		Expiry:       st.Expiry,
	}, nil
}

// Save writes token under key. The key expires with the refresh token.
func (s *RedisStore) Save(ctx context.Context, key string, token *oauth2.Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}

	data, err := json.Marshal(storedToken{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		SavedAt:      time.Now(),
	})
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	if err := s.redis.Set(ctx, RedisKeyPrefix+key, data, RefreshTokenLifetime).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
