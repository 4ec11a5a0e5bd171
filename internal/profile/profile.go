//go:generate go run go.uber.org/mock/mockgen -source=profile.go -destination=mocks/mock_store.go -package=mocks

// Package profile stores each user's preferred reading language, which the
// chat service uses as the translation target for messages they receive.
package profile

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/polyglot/internal/apperr"
)

// KeyPrefix is the Redis key prefix for preference hashes.
const KeyPrefix = "profile:"

const fieldLanguage = "preferred_language"

// Store reads and writes preferred languages. PreferredLanguage returns an
// error matching apperr.ErrNotFound when the user has never set one.
type Store interface {
	PreferredLanguage(ctx context.Context, userID string) (string, error)
	SetPreferredLanguage(ctx context.Context, userID, language string) error
}

// MemoryStore keeps preferences in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prefs: make(map[string]string)}
}

func (s *MemoryStore) PreferredLanguage(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lang, ok := s.prefs[userID]
	if !ok {
		return "", apperr.NotFound("profile", userID)
	}
	return lang, nil
}

func (s *MemoryStore) SetPreferredLanguage(_ context.Context, userID, language string) error {
	s.mu.Lock()
	s.prefs[userID] = strings.ToLower(language)
	s.mu.Unlock()
	return nil
}

// RedisStore keeps preferences in a hash at profile:<user_id>.
type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) PreferredLanguage(ctx context.Context, userID string) (string, error) {
	lang, err := s.rdb.HGet(ctx, KeyPrefix+userID, fieldLanguage).Result()
	if errors.Is(err, redis.Nil) {
		return "", apperr.NotFound("profile", userID)
	}
	if err != nil {
		return "", apperr.Unavailable("profile: get", err)
	}
	return lang, nil
}

func (s *RedisStore) SetPreferredLanguage(ctx context.Context, userID, language string) error {
	err := s.rdb.HSet(ctx, KeyPrefix+userID, fieldLanguage, strings.ToLower(language)).Err()
	return apperr.Unavailable("profile: set", err)
}
