package message

import (
	"context"
	"sort"
	"sync"
)

type memEntry struct {
	seq uint64
	msg Message
}

// MemoryStore keeps messages in process memory, append-only per
// conversation.
type MemoryStore struct {
	mu    sync.RWMutex
	seq   uint64
	convs map[string][]memEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string][]memEntry)}
}

func (s *MemoryStore) Append(_ context.Context, m *Message) (*Message, error) {
	stored := prepare(m)
	s.mu.Lock()
	s.seq++
	s.convs[stored.ConversationID] = append(s.convs[stored.ConversationID], memEntry{seq: s.seq, msg: *stored})
	s.mu.Unlock()
	out := *stored
	return &out, nil
}

func (s *MemoryStore) List(_ context.Context, conversationID string, limit int) ([]*Message, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	entries := make([]memEntry, len(s.convs[conversationID]))
	copy(entries, s.convs[conversationID])
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		ti, tj := entries[i].msg.Timestamp, entries[j].msg.Timestamp
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return entries[i].seq < entries[j].seq
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]*Message, len(entries))
	for i := range entries {
		m := entries[i].msg
		out[i] = &m
	}
	return out, nil
}
