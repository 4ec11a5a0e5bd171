//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
package message

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the source of truth for message history.
//
// Append assigns an id when m.ID is empty and a timestamp when
// m.Timestamp is zero. It does not check that the conversation exists.
//
// List returns at most limit messages (DefaultLimit when limit <= 0) in
// ascending (timestamp, arrival) order, starting from the oldest. Appends
// may arrive out of timestamp order; stores order on read. An unknown
// conversation yields an empty slice, not an error. Backend failures match
// apperr.ErrStoreUnavailable.
type Store interface {
	Append(ctx context.Context, m *Message) (*Message, error)
	List(ctx context.Context, conversationID string, limit int) ([]*Message, error)
}

// prepare fills the id and timestamp and returns a copy for storage.
func prepare(m *Message) *Message {
	cp := *m
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	cp.Timestamp = cp.Timestamp.UTC()
	return &cp
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
