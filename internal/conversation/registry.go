package conversation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/whisper/polyglot/internal/metrics"
)

// Registry is the single authority for conversation identity.
type Registry struct {
	store Store
	log   *logrus.Logger
	now   func() time.Time
	newID func() string
}

// NewRegistry creates a Registry over store.
func NewRegistry(store Store, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		store: store,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// GetOrCreate returns the conversation for the unordered pair {a, b},
// creating it on first contact. (a, b) and (b, a) resolve to the same
// conversation, and concurrent callers for one pair all receive the same
// record.
func (r *Registry) GetOrCreate(ctx context.Context, a, b string) (*Conversation, error) {
	pair, err := NewPair(a, b)
	if err != nil {
		return nil, err
	}
	candidate := &Conversation{
		ID:           r.newID(),
		ParticipantA: pair.Low,
		ParticipantB: pair.High,
		PairKey:      pair.Key(),
		CreatedAt:    r.now().UTC(),
	}

	if ac, ok := r.store.(AtomicCreator); ok {
		conv, created, err := ac.CreateIfAbsent(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("conversation: get or create: %w", err)
		}
		if created {
			r.log.WithFields(logrus.Fields{
				"conversation_id": conv.ID,
				"participant_a":   conv.ParticipantA,
				"participant_b":   conv.ParticipantB,
			}).Info("conversation: created")
		}
		return conv, nil
	}
	return r.createChecked(ctx, candidate)
}

// createChecked is the fallback for stores without a conditional create:
// lookup, insert, then re-check. The first record inserted for a pair wins;
// a candidate that finds an earlier record on re-check deletes itself and
// returns that record.
func (r *Registry) createChecked(ctx context.Context, candidate *Conversation) (*Conversation, error) {
	existing, err := r.store.FindByPair(ctx, candidate.PairKey)
	if err != nil {
		return nil, fmt.Errorf("conversation: get or create: %w", err)
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	if err := r.store.Insert(ctx, candidate); err != nil {
		return nil, fmt.Errorf("conversation: get or create: %w", err)
	}

	all, err := r.store.FindByPair(ctx, candidate.PairKey)
	if err != nil {
		return nil, fmt.Errorf("conversation: get or create: re-check: %w", err)
	}
	if len(all) == 0 || all[0].ID == candidate.ID {
		r.log.WithField("conversation_id", candidate.ID).Info("conversation: created")
		return candidate, nil
	}

	winner := all[0]
	metrics.ConversationConflicts.Inc()
	r.log.WithFields(logrus.Fields{
		"winner":    winner.ID,
		"discarded": candidate.ID,
	}).Debug("conversation: lost creation race")
	if err := r.store.Delete(ctx, candidate.ID); err != nil {
		r.log.WithError(err).WithField("conversation_id", candidate.ID).
			Warn("conversation: failed to discard losing record")
	}
	return winner, nil
}

// Get looks a conversation up by id.
func (r *Registry) Get(ctx context.Context, id string) (*Conversation, error) {
	conv, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("conversation: get: %w", err)
	}
	return conv, nil
}

// ListFor returns every conversation participant appears in, most recently
// active first.
func (r *Registry) ListFor(ctx context.Context, participant string) ([]*Conversation, error) {
	convs, err := r.store.ListByParticipant(ctx, participant)
	if err != nil {
		return nil, fmt.Errorf("conversation: list: %w", err)
	}
	convs = lo.UniqBy(convs, func(c *Conversation) string { return c.ID })
	sort.SliceStable(convs, func(i, j int) bool {
		ti, tj := convs[i].lastActivity(), convs[j].lastActivity()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return convs[i].ID < convs[j].ID
	})
	return convs, nil
}

// Touch records at as the conversation's last message time.
func (r *Registry) Touch(ctx context.Context, id string, at time.Time) error {
	if err := r.store.TouchLastMessage(ctx, id, at.UTC()); err != nil {
		return fmt.Errorf("conversation: touch: %w", err)
	}
	return nil
}
