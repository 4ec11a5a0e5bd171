package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/whisper/polyglot/internal/apperr"
)

// MemoryStore keeps conversations in process memory. It is safe for
// concurrent use and implements AtomicCreator.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Conversation
	byPair map[string][]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Conversation),
		byPair: make(map[string][]string),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, apperr.NotFound("conversation", id)
	}
	return c.clone(), nil
}

func (s *MemoryStore) FindByPair(_ context.Context, pairKey string) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(pairKey), nil
}

func (s *MemoryStore) findLocked(pairKey string) []*Conversation {
	ids := s.byPair[pairKey]
	out := make([]*Conversation, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id].clone())
	}
	return out
}

func (s *MemoryStore) Insert(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; ok {
		return apperr.ErrConflict
	}
	s.insertLocked(c)
	return nil
}

func (s *MemoryStore) insertLocked(c *Conversation) {
	s.byID[c.ID] = c.clone()
	s.byPair[c.PairKey] = append(s.byPair[c.PairKey], c.ID)
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, c *Conversation) (*Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.findLocked(c.PairKey); len(existing) > 0 {
		return existing[0], false, nil
	}
	s.insertLocked(c)
	return c.clone(), true, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	ids := s.byPair[c.PairKey]
	for i, v := range ids {
		if v == id {
			s.byPair[c.PairKey] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byPair[c.PairKey]) == 0 {
		delete(s.byPair, c.PairKey)
	}
	return nil
}

func (s *MemoryStore) ListByParticipant(_ context.Context, participant string) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Conversation
	for _, c := range s.byID {
		if c.HasParticipant(participant) {
			out = append(out, c.clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) TouchLastMessage(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return apperr.NotFound("conversation", id)
	}
	if c.LastMessageAt == nil || at.After(*c.LastMessageAt) {
		t := at
		c.LastMessageAt = &t
	}
	return nil
}
