// Package conversation resolves unordered participant pairs to a single
// canonical Conversation and tracks per-conversation activity.
package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidPair is returned when a participant id is empty or both ids
	// are the same.
	ErrInvalidPair = errors.New("conversation: invalid participant pair")

	// ErrNotParticipant is returned by Recipient for a sender outside the
	// conversation.
	ErrNotParticipant = errors.New("conversation: sender is not a participant")
)

// Conversation is a two-party chat. ParticipantA is always the
// lexicographically lower id.
type Conversation struct {
	ID            string     `json:"id"`
	ParticipantA  string     `json:"participant_a"`
	ParticipantB  string     `json:"participant_b"`
	PairKey       string     `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at"`
}

// Recipient returns the participant that is not sender.
func (c *Conversation) Recipient(sender string) (string, error) {
	switch sender {
	case c.ParticipantA:
		return c.ParticipantB, nil
	case c.ParticipantB:
		return c.ParticipantA, nil
	default:
		return "", ErrNotParticipant
	}
}

// HasParticipant reports whether id is one of the two participants.
func (c *Conversation) HasParticipant(id string) bool {
	return id == c.ParticipantA || id == c.ParticipantB
}

// lastActivity is LastMessageAt, or CreatedAt for a conversation without
// messages.
func (c *Conversation) lastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func (c *Conversation) clone() *Conversation {
	cp := *c
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		cp.LastMessageAt = &t
	}
	return &cp
}

// Pair is a canonical, order-independent participant pair.
type Pair struct {
	Low  string
	High string
}

// NewPair canonicalizes two participant ids. Surrounding whitespace is
// ignored.
func NewPair(a, b string) (Pair, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" || a == b {
		return Pair{}, ErrInvalidPair
	}
	if b < a {
		a, b = b, a
	}
	return Pair{Low: a, High: b}, nil
}

// Key returns a stable uniqueness key for the pair: the first 8 bytes of
// sha256(low + "\x00" + high), hex encoded.
func (p Pair) Key() string {
	h := sha256.New()
	h.Write([]byte(p.Low))
	h.Write([]byte{0})
	h.Write([]byte(p.High))
	return hex.EncodeToString(h.Sum(nil)[:8])
}
