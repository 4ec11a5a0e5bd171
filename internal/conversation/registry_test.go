package conversation_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/whisper/polyglot/internal/apperr"
	"github.com/whisper/polyglot/internal/conversation"
	"github.com/whisper/polyglot/internal/conversation/mocks"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// plainStore hides CreateIfAbsent so the registry takes the
// lookup/insert/re-check path.
type plainStore struct {
	conversation.Store
}

// racingStore inserts a rival record for the same pair just before each
// candidate, as if another caller had committed first.
type racingStore struct {
	conversation.Store
	once sync.Once
}

func (s *racingStore) Insert(ctx context.Context, c *conversation.Conversation) error {
	s.once.Do(func() {
		rival := *c
		rival.ID = "rival-" + c.ID
		rival.CreatedAt = c.CreatedAt.Add(time.Second)
		_ = s.Store.Insert(ctx, &rival)
	})
	return s.Store.Insert(ctx, c)
}

func TestNewPair(t *testing.T) {
	tests := []struct {
		name    string
		a, b    string
		want    conversation.Pair
		wantErr bool
	}{
		{"ordered", "u1", "u2", conversation.Pair{Low: "u1", High: "u2"}, false},
		{"reversed", "u2", "u1", conversation.Pair{Low: "u1", High: "u2"}, false},
		{"trimmed", " u2 ", "u1", conversation.Pair{Low: "u1", High: "u2"}, false},
		{"empty", "", "u1", conversation.Pair{}, true},
		{"self", "u1", "u1", conversation.Pair{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := conversation.NewPair(tt.a, tt.b)
			if tt.wantErr {
				require.ErrorIs(t, err, conversation.ErrInvalidPair)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	p1, _ := conversation.NewPair("alice", "bob")
	p2, _ := conversation.NewPair("bob", "alice")
	require.Equal(t, p1.Key(), p2.Key())
	require.Len(t, p1.Key(), 16)

	// "a"+"bc" and "ab"+"c" must not collide.
	p3, _ := conversation.NewPair("a", "bc")
	p4, _ := conversation.NewPair("ab", "c")
	require.NotEqual(t, p3.Key(), p4.Key())
}

func TestGetOrCreate_OrderIndependent(t *testing.T) {
	stores := map[string]conversation.Store{
		"atomic":   conversation.NewMemoryStore(),
		"fallback": plainStore{conversation.NewMemoryStore()},
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			reg := conversation.NewRegistry(store, quietLogger())
			ctx := context.Background()

			ab, err := reg.GetOrCreate(ctx, "u1", "u2")
			require.NoError(t, err)
			ba, err := reg.GetOrCreate(ctx, "u2", "u1")
			require.NoError(t, err)

			require.Equal(t, ab.ID, ba.ID)
			require.Equal(t, "u1", ab.ParticipantA)
			require.Equal(t, "u2", ab.ParticipantB)
			require.Nil(t, ab.LastMessageAt)
		})
	}
}

func TestGetOrCreate_ConcurrentFirstContact(t *testing.T) {
	stores := map[string]conversation.Store{
		"atomic":   conversation.NewMemoryStore(),
		"fallback": plainStore{conversation.NewMemoryStore()},
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			reg := conversation.NewRegistry(store, quietLogger())
			ctx := context.Background()

			const callers = 32
			ids := make([]string, callers)
			errs := make([]error, callers)
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					a, b := "u1", "u2"
					if i%2 == 1 {
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

			for i, id := range ids {
				require.NoError(t, errs[i])
				require.Equal(t, ids[0], id)
			}
			convs, err := reg.ListFor(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, convs, 1, "no duplicate conversation may survive")
		})
	}
}

func TestGetOrCreate_FallbackDiscardsLoser(t *testing.T) {
	mem := conversation.NewMemoryStore()
	reg := conversation.NewRegistry(&racingStore{Store: plainStore{mem}}, quietLogger())
	ctx := context.Background()

	conv, err := reg.GetOrCreate(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Contains(t, conv.ID, "rival-", "the earlier insert must win")

	pair, _ := conversation.NewPair("u1", "u2")
	stored, err := mem.FindByPair(ctx, pair.Key())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, conv.ID, stored[0].ID)

	again, err := reg.GetOrCreate(ctx, "u2", "u1")
	require.NoError(t, err)
	require.Equal(t, conv.ID, again.ID)
}

func TestGetOrCreate_InvalidPair(t *testing.T) {
	reg := conversation.NewRegistry(conversation.NewMemoryStore(), quietLogger())
	_, err := reg.GetOrCreate(context.Background(), "u1", "u1")
	require.ErrorIs(t, err, conversation.ErrInvalidPair)
}

func TestRegistry_StoreUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	down := apperr.Unavailable("conversation: get", errors.New("connection refused"))

	store.EXPECT().Get(gomock.Any(), "c1").Return(nil, down)
	store.EXPECT().FindByPair(gomock.Any(), gomock.Any()).Return(nil, down)
	store.EXPECT().ListByParticipant(gomock.Any(), "u1").Return(nil, down)

	reg := conversation.NewRegistry(store, quietLogger())
	ctx := context.Background()

	_, err := reg.Get(ctx, "c1")
	require.True(t, apperr.IsUnavailable(err))
	require.False(t, apperr.IsNotFound(err))

	_, err = reg.GetOrCreate(ctx, "u1", "u2")
	require.True(t, apperr.IsUnavailable(err))

	_, err = reg.ListFor(ctx, "u1")
	require.True(t, apperr.IsUnavailable(err))
}

func TestRegistry_AtomicStoreUsed(t *testing.T) {
	ctrl := gomock.NewController(t)
	existing := &conversation.Conversation{ID: "c1", ParticipantA: "u1", ParticipantB: "u2"}

	store := struct {
		*mocks.MockStore
		*mocks.MockAtomicCreator
	}{mocks.NewMockStore(ctrl), mocks.NewMockAtomicCreator(ctrl)}
	store.MockAtomicCreator.EXPECT().CreateIfAbsent(gomock.Any(), gomock.Any()).Return(existing, false, nil)

	conv, err := conversation.NewRegistry(store, quietLogger()).GetOrCreate(context.Background(), "u2", "u1")
	require.NoError(t, err)
	require.Equal(t, "c1", conv.ID)
}

func TestGet_NotFound(t *testing.T) {
	reg := conversation.NewRegistry(conversation.NewMemoryStore(), quietLogger())
	_, err := reg.Get(context.Background(), "missing")
	require.True(t, apperr.IsNotFound(err))
	require.False(t, apperr.IsUnavailable(err))
}

func TestListFor_OrderedByActivity(t *testing.T) {
	reg := conversation.NewRegistry(conversation.NewMemoryStore(), quietLogger())
	ctx := context.Background()

	c12, err := reg.GetOrCreate(ctx, "u1", "u2")
	require.NoError(t, err)
	c13, err := reg.GetOrCreate(ctx, "u3", "u1")
	require.NoError(t, err)
	_, err = reg.GetOrCreate(ctx, "u2", "u3")
	require.NoError(t, err)

	require.NoError(t, reg.Touch(ctx, c12.ID, time.Now().Add(time.Hour)))

	convs, err := reg.ListFor(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	require.Equal(t, c12.ID, convs[0].ID)
	require.Equal(t, c13.ID, convs[1].ID)

	none, err := reg.ListFor(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestTouch_MonotonicAndNotFound(t *testing.T) {
	reg := conversation.NewRegistry(conversation.NewMemoryStore(), quietLogger())
	ctx := context.Background()
	conv, err := reg.GetOrCreate(ctx, "u1", "u2")
	require.NoError(t, err)

	later := time.Now().Add(time.Minute).UTC()
	require.NoError(t, reg.Touch(ctx, conv.ID, later))
	require.NoError(t, reg.Touch(ctx, conv.ID, later.Add(-time.Hour)))

	got, err := reg.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageAt)
	require.True(t, got.LastMessageAt.Equal(later))

	err = reg.Touch(ctx, "missing", later)
	require.True(t, apperr.IsNotFound(err))
}

func TestRecipient(t *testing.T) {
	c := &conversation.Conversation{ParticipantA: "u1", ParticipantB: "u2"}

	r, err := c.Recipient("u1")
	require.NoError(t, err)
	require.Equal(t, "u2", r)

	r, err = c.Recipient("u2")
	require.NoError(t, err)
	require.Equal(t, "u1", r)

	_, err = c.Recipient("u3")
	require.ErrorIs(t, err, conversation.ErrNotParticipant)
}
