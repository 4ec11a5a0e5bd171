package message_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/whisper/polyglot/internal/message"
	"github.com/whisper/polyglot/internal/postgres/postgrestest"
)

func newBadgerStore(t *testing.T) message.Store {
	t.Helper()
	req := require.New(t)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	log := logrus.New()
	log.SetOutput(io.Discard)
	store, err := message.NewBadgerStore(db, log)
	req.NoError(err)
	t.Cleanup(func() {
		store.Close()
		db.Close()
	})
	return store
}

func backends() map[string]func(t *testing.T) message.Store {
	return map[string]func(t *testing.T) message.Store{
		"memory":   func(t *testing.T) message.Store { return message.NewMemoryStore() },
		"badger":   newBadgerStore,
		"postgres": func(t *testing.T) message.Store { return message.NewPostgresStore(postgrestest.Open(t, "messages")) },
	}
}

func msg(conv, sender, text string, at time.Time) *message.Message {
	return &message.Message{
		ConversationID:     conv,
		SenderID:           sender,
		OriginalText:       text,
		SourceLanguage:     "english",
		TranslatedText:     text,
		TranslatedLanguage: "english",
		Timestamp:          at,
	}
}

func texts(ms []*message.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.OriginalText
	}
	return out
}

func TestStore_AppendAssignsIDAndTimestamp(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			store := open(t)
			in := msg("c1", "u1", "hello", time.Time{})

			stored, err := store.Append(context.Background(), in)
			req.NoError(err)
			req.NotEmpty(stored.ID)
			req.False(stored.Timestamp.IsZero())
			req.Empty(in.ID, "input must not be mutated")

			other, err := store.Append(context.Background(), msg("c1", "u2", "hi", time.Time{}))
			req.NoError(err)
			req.NotEqual(stored.ID, other.ID)
		})
	}
}

func TestStore_ListOrdersOnRead(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			store := open(t)
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Microsecond)

			// Appended out of timestamp order; "b1" and "b2" tie.
			for _, m := range []*message.Message{
				msg("c1", "u1", "c", base.Add(2*time.Second)),
				msg("c1", "u2", "a", base),
				msg("c1", "u1", "b1", base.Add(time.Second)),
				msg("c1", "u2", "b2", base.Add(time.Second)),
				msg("c2", "u9", "other conversation", base),
			} {
				_, err := store.Append(ctx, m)
				req.NoError(err)
			}

			got, err := store.List(ctx, "c1", 10)
			req.NoError(err)
			req.Equal([]string{"a", "b1", "b2", "c"}, texts(got))

			again, err := store.List(ctx, "c1", 10)
			req.NoError(err)
			req.Equal(texts(got), texts(again), "repeated reads must not reorder")
		})
	}
}

func TestStore_ListLimitIsMonotonic(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			store := open(t)
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Microsecond)

			for i := 0; i < 60; i++ {
				_, err := store.Append(ctx, msg("c1", "u1", fmt.Sprintf("m%02d", i), base.Add(time.Duration(i)*time.Millisecond)))
				req.NoError(err)
			}

			prev := []string{}
			for _, limit := range []int{1, 5, 20, 60, 100} {
				got, err := store.List(ctx, "c1", limit)
				req.NoError(err)
				req.LessOrEqual(len(got), limit)
				for i := 1; i < len(got); i++ {
					req.False(got[i].Timestamp.Before(got[i-1].Timestamp))
				}
				req.Equal(prev, texts(got)[:len(prev)], "smaller limit must be a prefix")
				prev = texts(got)
			}

			def, err := store.List(ctx, "c1", 0)
			req.NoError(err)
			req.Len(def, message.DefaultLimit)
		})
	}
}

func TestStore_UnknownConversationIsEmpty(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			got, err := open(t).List(context.Background(), "nope", 10)
			require.NoError(t, err)
			require.Empty(t, got)
		})
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()
			at := time.Now().UTC().Truncate(time.Microsecond)

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, _ = store.Append(ctx, msg("c1", "u1", fmt.Sprint(i), at))
				}(i)
			}
			wg.Wait()

			got, err := store.List(ctx, "c1", 100)
			require.NoError(t, err)
			require.Len(t, got, 20)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"ok", "hello", false},
		{"hindi", "नमस्ते", false},
		{"empty", "", true},
		{"too many bytes", string(make([]byte, message.MaxMessageBytes+1)), true},
		{"too many runes", stringOfRunes('a', message.MaxTextChars+1), true},
		{"invalid utf8", "\xff\xfe", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := message.Validate(tt.text)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func stringOfRunes(r rune, n int) string {
	rs := make([]rune, n)
	for i := range rs {
		rs[i] = r
	}
	return string(rs)
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, 50, message.ClampLimit(0, 50, 500))
	require.Equal(t, 50, message.ClampLimit(-3, 50, 500))
	require.Equal(t, 10, message.ClampLimit(10, 50, 500))
	require.Equal(t, 500, message.ClampLimit(10_000, 50, 500))
	require.Equal(t, message.DefaultLimit, message.ClampLimit(0, 0, 0))
}
