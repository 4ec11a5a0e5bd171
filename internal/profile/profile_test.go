package profile

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/whisper/polyglot/internal/apperr"
)

// newTestRedis connects to a local Redis and clears profile keys.
// Tests that call this helper require a running Redis on localhost:6379.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		iter := client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return client
}

func TestStores(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"redis":  func(t *testing.T) Store { return NewRedisStore(newTestRedis(t)) },
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			_, err := s.PreferredLanguage(ctx, "u1")
			require.True(t, apperr.IsNotFound(err))

			require.NoError(t, s.SetPreferredLanguage(ctx, "u1", "Hindi"))
			lang, err := s.PreferredLanguage(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, "hindi", lang)

			require.NoError(t, s.SetPreferredLanguage(ctx, "u1", "tamil"))
			lang, err = s.PreferredLanguage(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, "tamil", lang)
		})
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	s := NewRedisStore(client)

	_, err := s.PreferredLanguage(context.Background(), "u1")
	require.True(t, apperr.IsUnavailable(err))
	require.True(t, apperr.IsUnavailable(s.SetPreferredLanguage(context.Background(), "u1", "hindi")))
}
