package conversation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/polyglot/internal/apperr"
)

const (
	ConversationPrefix = "conversation:"
	PairPrefix         = "conversation:pair:"
	ParticipantPrefix  = "participant:"
	participantSuffix  = ":conversations"
)

func participantKey(id string) string { return ParticipantPrefix + id + participantSuffix }

// RedisStore keeps each conversation in a hash at conversation:<id>, a
// pair pointer at conversation:pair:<key>, and per-participant id sets.
type RedisStore struct {
	rdb          redis.UniversalClient
	createScript *redis.Script
	deleteScript *redis.Script
	touchScript  *redis.Script
}

// NewRedisStore creates a conversation store backed by Redis.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{
		rdb:          rdb,
		createScript: redis.NewScript(createIfAbsentLua),
		deleteScript: redis.NewScript(deleteLua),
		touchScript:  redis.NewScript(touchLua),
	}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Conversation, error) {
	result, err := s.rdb.HGetAll(ctx, ConversationPrefix+id).Result()
	if err != nil {
		return nil, apperr.Unavailable("conversation: get", err)
	}
	if len(result) == 0 {
		return nil, apperr.NotFound("conversation", id)
	}
	return fromHash(result), nil
}

func (s *RedisStore) FindByPair(ctx context.Context, pairKey string) ([]*Conversation, error) {
	id, err := s.rdb.Get(ctx, PairPrefix+pairKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("conversation: find by pair", err)
	}
	c, err := s.Get(ctx, id)
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []*Conversation{c}, nil
}

// Insert writes c and claims the pair pointer only if it is free.
func (s *RedisStore) Insert(ctx context.Context, c *Conversation) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, ConversationPrefix+c.ID, toHash(c))
	pipe.SetNX(ctx, PairPrefix+c.PairKey, c.ID, 0)
	pipe.SAdd(ctx, participantKey(c.ParticipantA), c.ID)
	pipe.SAdd(ctx, participantKey(c.ParticipantB), c.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.Unavailable("conversation: insert", err)
	}
	return nil
}

func (s *RedisStore) CreateIfAbsent(ctx context.Context, c *Conversation) (*Conversation, bool, error) {
	keys := []string{
		PairPrefix + c.PairKey,
		ConversationPrefix + c.ID,
		participantKey(c.ParticipantA),
		participantKey(c.ParticipantB),
	}
	res, err := s.createScript.Run(ctx, s.rdb, keys,
		c.ID, c.ParticipantA, c.ParticipantB, c.PairKey, c.CreatedAt.UnixNano()).Slice()
	if err != nil {
		return nil, false, apperr.Unavailable("conversation: create", err)
	}
	if len(res) != 2 {
		return nil, false, apperr.Unavailable("conversation: create", errors.New("unexpected script reply"))
	}
	created, _ := res[0].(int64)
	id, _ := res[1].(string)
	if created == 1 {
		return c.clone(), true, nil
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if apperr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	keys := []string{
		ConversationPrefix + id,
		PairPrefix + c.PairKey,
		participantKey(c.ParticipantA),
		participantKey(c.ParticipantB),
	}
	if err := s.deleteScript.Run(ctx, s.rdb, keys, id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return apperr.Unavailable("conversation: delete", err)
	}
	return nil
}

func (s *RedisStore) ListByParticipant(ctx context.Context, participant string) ([]*Conversation, error) {
	ids, err := s.rdb.SMembers(ctx, participantKey(participant)).Result()
	if err != nil {
		return nil, apperr.Unavailable("conversation: list", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, ConversationPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperr.Unavailable("conversation: list", err)
	}

	out := make([]*Conversation, 0, len(ids))
	for _, cmd := range cmds {
		if h := cmd.Val(); len(h) > 0 {
			out = append(out, fromHash(h))
		}
	}
	return out, nil
}

func (s *RedisStore) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	n, err := s.touchScript.Run(ctx, s.rdb, []string{ConversationPrefix + id}, at.UnixNano()).Int()
	if err != nil {
		return apperr.Unavailable("conversation: touch", err)
	}
	if n < 0 {
		return apperr.NotFound("conversation", id)
	}
	return nil
}

func toHash(c *Conversation) map[string]interface{} {
	h := map[string]interface{}{
		"id":            c.ID,
		"participant_a": c.ParticipantA,
		"participant_b": c.ParticipantB,
		"pair_key":      c.PairKey,
		"created_at":    c.CreatedAt.UnixNano(),
	}
	if c.LastMessageAt != nil {
		h["last_message_at"] = c.LastMessageAt.UnixNano()
	}
	return h
}

func fromHash(h map[string]string) *Conversation {
	createdAt, _ := strconv.ParseInt(h["created_at"], 10, 64)
	c := &Conversation{
		ID:           h["id"],
		ParticipantA: h["participant_a"],
		ParticipantB: h["participant_b"],
		PairKey:      h["pair_key"],
		CreatedAt:    time.Unix(0, createdAt).UTC(),
	}
	if v, ok := h["last_message_at"]; ok {
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(0, ns).UTC()
			c.LastMessageAt = &t
		}
	}
	return c
}

// createIfAbsentLua claims the pair pointer and writes the conversation in
// one step. Returns {1, id} when created, {0, existing_id} otherwise.
const createIfAbsentLua = `
local existing = redis.call('GET', KEYS[1])
if existing then return {0, existing} end

redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2],
    'id', ARGV[1],
    'participant_a', ARGV[2],
    'participant_b', ARGV[3],
    'pair_key', ARGV[4],
    'created_at', ARGV[5])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[1])
return {1, ARGV[1]}
`

// deleteLua removes a conversation and releases the pair pointer only if it
// still points at this id.
const deleteLua = `
redis.call('DEL', KEYS[1])
if redis.call('GET', KEYS[2]) == ARGV[1] then
    redis.call('DEL', KEYS[2])
end
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('SREM', KEYS[4], ARGV[1])
return 1
`

// touchLua moves last_message_at forward only. Returns -1 if the
// conversation does not exist.
const touchLua = `
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local cur = tonumber(redis.call('HGET', KEYS[1], 'last_message_at'))
local at = tonumber(ARGV[1])
if cur == nil or at > cur then
    redis.call('HSET', KEYS[1], 'last_message_at', ARGV[1])
    return 1
end
return 0
`
