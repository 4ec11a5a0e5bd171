// Package message persists chat messages with a stable per-conversation
// chronological order and serves bounded history reads.
package message

import (
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // matches the ws max frame payload
	MaxTextChars    = 2000

	// DefaultLimit is used by List when the caller passes limit <= 0.
	DefaultLimit = 50
)

// Message is a stored chat message. It is immutable once appended.
type Message struct {
	ID                 string    `json:"id"`
	ConversationID     string    `json:"conversation_id"`
	SenderID           string    `json:"sender_id"`
	OriginalText       string    `json:"original_text"`
	SourceLanguage     string    `json:"source_language"`
	TranslatedText     string    `json:"translated_text"`
	TranslatedLanguage string    `json:"translated_language"`
	Timestamp          time.Time `json:"timestamp"`
	IsVoice            bool      `json:"is_voice"`
}

// Validate checks that a message text meets content requirements.
func Validate(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	return nil
}

// ClampLimit maps a requested history size onto [1, max]: non-positive
// values become def and anything above max is capped.
func ClampLimit(limit, def, max int) int {
	if def <= 0 {
		def = DefaultLimit
	}
	if max < def {
		max = def
	}
	switch {
	case limit <= 0:
		return def
	case limit > max:
		return max
	default:
		return limit
	}
}
