package conversation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/whisper/polyglot/internal/apperr"
)

// PostgresStore persists conversations in the conversations table. The
// UNIQUE constraint on pair_key makes CreateIfAbsent atomic.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database handle.
// The schema is owned by the internal/postgres migrations.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const conversationColumns = `id, participant_a, participant_b, pair_key, created_at, last_message_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c    Conversation
		last sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.PairKey, &c.CreatedAt, &last); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	if last.Valid {
		t := last.Time.UTC()
		c.LastMessageAt = &t
	}
	return &c, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("conversation", id)
	}
	if err != nil {
		return nil, apperr.Unavailable("conversation: get", err)
	}
	return c, nil
}

func (s *PostgresStore) FindByPair(ctx context.Context, pairKey string) ([]*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE pair_key = $1`, pairKey)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("conversation: find by pair", err)
	}
	return []*Conversation{c}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, c *Conversation) error {
	const query = `
		INSERT INTO conversations (id, participant_a, participant_b, pair_key, created_at, last_message_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.ParticipantA, c.ParticipantB, c.PairKey, c.CreatedAt, c.LastMessageAt)
	if err != nil {
		return apperr.Unavailable("conversation: insert", err)
	}
	return nil
}

// CreateIfAbsent inserts c unless its pair already exists. ON CONFLICT DO
// NOTHING returns no row on conflict, in which case the stored record is
// read back.
func (s *PostgresStore) CreateIfAbsent(ctx context.Context, c *Conversation) (*Conversation, bool, error) {
	const query = `
		INSERT INTO conversations (id, participant_a, participant_b, pair_key, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pair_key) DO NOTHING
		RETURNING ` + conversationColumns

	row := s.db.QueryRowContext(ctx, query, c.ID, c.ParticipantA, c.ParticipantB, c.PairKey, c.CreatedAt)
	created, err := scanConversation(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, apperr.Unavailable("conversation: create", err)
	}

	existing, err := s.FindByPair(ctx, c.PairKey)
	if err != nil {
		return nil, false, err
	}
	if len(existing) == 0 {
		// Deleted between the conflict and the read.
		return nil, false, apperr.Unavailable("conversation: create", errors.New("pair vanished after conflict"))
	}
	return existing[0], false, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return apperr.Unavailable("conversation: delete", err)
	}
	return nil
}

func (s *PostgresStore) ListByParticipant(ctx context.Context, participant string) ([]*Conversation, error) {
	const query = `
		SELECT ` + conversationColumns + ` FROM conversations WHERE participant_a = $1
		UNION
		SELECT ` + conversationColumns + ` FROM conversations WHERE participant_b = $1`

	rows, err := s.db.QueryContext(ctx, query, participant)
	if err != nil {
		return nil, apperr.Unavailable("conversation: list", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, apperr.Unavailable("conversation: list", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("conversation: list", err)
	}
	return out, nil
}

func (s *PostgresStore) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE conversations
		SET last_message_at = GREATEST(COALESCE(last_message_at, $2), $2)
		WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return apperr.Unavailable("conversation: touch", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("conversation", id)
	}
	return nil
}
