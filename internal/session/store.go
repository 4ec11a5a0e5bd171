package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// roomsSuffix names the set of conversations a session has joined.
	roomsSuffix = ":rooms"

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour

	// Status constants for the connection state machine.
	StatusConnected = "connected"
	StatusJoined    = "joined"
)

// Session represents one WebSocket connection's state stored in Redis.
type Session struct {
	ID         string   `redis:"id"`
	Status     string   `redis:"status"`      // connected | joined
	UserID     string   `redis:"user_id"`     // empty until the first join
	Server     string   `redis:"server"`      // which WS server instance
	CreatedAt  int64    `redis:"created_at"`  // unix timestamp
	LastActive int64    `redis:"last_active"` // unix timestamp
	Rooms      []string `redis:"-"`
}

// Store manages session state in Redis.
type Store struct {
	client     redis.UniversalClient
	serverName string // identifier for this WS server instance
}

// NewStore creates a session store over an established Redis client.
func NewStore(client redis.UniversalClient, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Dial connects to Redis at addr and verifies the connection.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}
	return client, nil
}

func roomsKey(sessionID string) string {
	return SessionPrefix + sessionID + roomsSuffix
}

// Create stores a new session in Redis with connected status and 1h TTL.
func (s *Store) Create(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	now := time.Now().Unix()

	session := map[string]interface{}{
		"id":          sessionID,
		"status":      StatusConnected,
		"user_id":     "",
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session and its joined rooms. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var session Session
	if err := s.client.HGetAll(ctx, key).Scan(&session); err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, nil // not found
	}
	rooms, err := s.client.SMembers(ctx, roomsKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	session.Rooms = rooms
	return &session, nil
}

// Joined records that the session joined a conversation as userID.
func (s *Store) Joined(ctx context.Context, sessionID, userID, conversationID string) error {
	key := SessionPrefix + sessionID
	pipe := s.client.TxPipeline()
	fields := []interface{}{"status", StatusJoined, "last_active", time.Now().Unix()}
	if userID != "" {
		fields = append(fields, "user_id", userID)
	}
	pipe.HSet(ctx, key, fields...)
	pipe.SAdd(ctx, roomsKey(sessionID), conversationID)
	pipe.Expire(ctx, key, SessionTTL)
	pipe.Expire(ctx, roomsKey(sessionID), SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Left removes a conversation from the session's joined rooms.
func (s *Store) Left(ctx context.Context, sessionID, conversationID string) error {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, roomsKey(sessionID), conversationID)
	pipe.HSet(ctx, SessionPrefix+sessionID, "last_active", time.Now().Unix())
	_, err := pipe.Exec(ctx)
	return err
}

// RefreshTTL extends the session's TTL.
func (s *Store) RefreshTTL(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()
	pipe.Expire(ctx, SessionPrefix+sessionID, SessionTTL)
	pipe.Expire(ctx, roomsKey(sessionID), SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session from Redis.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, SessionPrefix+sessionID, roomsKey(sessionID)).Err()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}
