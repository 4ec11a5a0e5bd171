package message

import (
	"context"
	"database/sql"

	"github.com/whisper/polyglot/internal/apperr"
)

// PostgresStore persists messages in the messages table. The BIGSERIAL seq
// column breaks timestamp ties in arrival order.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a message store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, m *Message) (*Message, error) {
	stored := prepare(m)
	const query = `
		INSERT INTO messages (id, conversation_id, sender_id, original_text, source_language,
		                      translated_text, translated_language, "timestamp", is_voice)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		stored.ID,
		stored.ConversationID,
		stored.SenderID,
		stored.OriginalText,
		stored.SourceLanguage,
		stored.TranslatedText,
		stored.TranslatedLanguage,
		stored.Timestamp,
		stored.IsVoice,
	)
	if err != nil {
		return nil, apperr.Unavailable("message: append", err)
	}
	return stored, nil
}

func (s *PostgresStore) List(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	const query = `
		SELECT id, conversation_id, sender_id, original_text, source_language,
		       translated_text, translated_language, "timestamp", is_voice
		FROM messages
		WHERE conversation_id = $1
		ORDER BY "timestamp", seq
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, conversationID, normalizeLimit(limit))
	if err != nil {
		return nil, apperr.Unavailable("message: list", err)
	}
	defer rows.Close()

	out := []*Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.SenderID,
			&m.OriginalText,
			&m.SourceLanguage,
			&m.TranslatedText,
			&m.TranslatedLanguage,
			&m.Timestamp,
			&m.IsVoice,
		); err != nil {
			return nil, apperr.Unavailable("message: list", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("message: list", err)
	}
	return out, nil
}
