package conversation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/whisper/polyglot/internal/apperr"
	"github.com/whisper/polyglot/internal/conversation"
	"github.com/whisper/polyglot/internal/postgres/postgrestest"
)

// newTestRedis connects to a local Redis and clears conversation keys.
// Tests that call this helper require a running Redis on localhost:6379.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		for _, pattern := range []string{conversation.ConversationPrefix + "*", conversation.ParticipantPrefix + "*"} {
			iter := client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return client
}

func storeBackends(t *testing.T) map[string]func(t *testing.T) conversation.Store {
	return map[string]func(t *testing.T) conversation.Store{
		"memory": func(t *testing.T) conversation.Store { return conversation.NewMemoryStore() },
		"redis": func(t *testing.T) conversation.Store {
			return conversation.NewRedisStore(newTestRedis(t))
		},
		"postgres": func(t *testing.T) conversation.Store {
			return conversation.NewPostgresStore(postgrestest.Open(t, "conversations"))
		},
	}
}

func TestStores_CreateIfAbsent(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ac, ok := store.(conversation.AtomicCreator)
			require.True(t, ok, "%s must support conditional create", name)

			ctx := context.Background()
			pair, _ := conversation.NewPair("u1", "u2")
			first := &conversation.Conversation{
				ID: "c-first", ParticipantA: pair.Low, ParticipantB: pair.High,
				PairKey: pair.Key(), CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
			}
			got, created, err := ac.CreateIfAbsent(ctx, first)
			require.NoError(t, err)
			require.True(t, created)
			require.Equal(t, "c-first", got.ID)

			second := *first
			second.ID = "c-second"
			got, created, err = ac.CreateIfAbsent(ctx, &second)
			require.NoError(t, err)
			require.False(t, created)
			require.Equal(t, "c-first", got.ID)
			require.True(t, got.CreatedAt.Equal(first.CreatedAt))

			_, err = store.Get(ctx, "c-second")
			require.True(t, apperr.IsNotFound(err))
		})
	}
}

func TestStores_ConcurrentRegistry(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			reg := conversation.NewRegistry(open(t), quietLogger())
			ctx := context.Background()

			var wg sync.WaitGroup
			ids := make([]string, 16)
			errs := make([]error, 16)
			for i := range ids {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					a, b := "alice", "bob"
					if i%2 == 0 {
						a, b = b, a
					}
					conv, err := reg.GetOrCreate(ctx, a, b)
					if err != nil {
						errs[i] = err
						return
					}
					ids[i] = conv.ID
				}(i)
			}
			wg.Wait()
			for i := range ids {
				require.NoError(t, errs[i])
				require.Equal(t, ids[0], ids[i])
			}

			list, err := reg.ListFor(ctx, "bob")
			require.NoError(t, err)
			require.Len(t, list, 1)
		})
	}
}

func TestStores_ListTouchDelete(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			reg := conversation.NewRegistry(store, quietLogger())
			ctx := context.Background()

			c1, err := reg.GetOrCreate(ctx, "u1", "u2")
			require.NoError(t, err)
			c2, err := reg.GetOrCreate(ctx, "u3", "u1")
			require.NoError(t, err)

			at := time.Now().Add(time.Minute).UTC().Truncate(time.Microsecond)
			require.NoError(t, reg.Touch(ctx, c2.ID, at))
			require.True(t, apperr.IsNotFound(reg.Touch(ctx, "missing", at)))

			got, err := reg.Get(ctx, c2.ID)
			require.NoError(t, err)
			require.NotNil(t, got.LastMessageAt)
			require.True(t, got.LastMessageAt.Equal(at))

			list, err := reg.ListFor(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, list, 2)
			require.Equal(t, c2.ID, list[0].ID)
			require.Equal(t, c1.ID, list[1].ID)

			require.NoError(t, store.Delete(ctx, c1.ID))
			_, err = reg.Get(ctx, c1.ID)
			require.True(t, apperr.IsNotFound(err))

			found, err := store.FindByPair(ctx, c1.PairKey)
			require.NoError(t, err)
			require.Empty(t, found)
		})
	}
}
