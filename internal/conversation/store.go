//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
package conversation

import (
	"context"
	"time"
)

// Store persists conversations. Implementations report a missing id with an
// error matching apperr.ErrNotFound and backend failures with one matching
// apperr.ErrStoreUnavailable.
type Store interface {
	Get(ctx context.Context, id string) (*Conversation, error)
	// FindByPair returns every record stored under pairKey in insertion
	// order. Stores with a uniqueness constraint return at most one.
	FindByPair(ctx context.Context, pairKey string) ([]*Conversation, error)
	Insert(ctx context.Context, c *Conversation) error
	Delete(ctx context.Context, id string) error
	ListByParticipant(ctx context.Context, participant string) ([]*Conversation, error)
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
}

// AtomicCreator is implemented by stores that can create a conversation
// only if none exists for its pair key, in a single step. created reports
// whether c was stored; otherwise the existing record is returned.
type AtomicCreator interface {
	CreateIfAbsent(ctx context.Context, c *Conversation) (conv *Conversation, created bool, err error)
}
