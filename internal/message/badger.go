package message

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/whisper/polyglot/internal/apperr"
)

const (
	badgerKeyPrefix = "msg:"
	badgerSeqKey    = "seq:messages"
	badgerSeqLease  = 1000
)

// BadgerStore persists messages in an embedded BadgerDB. Keys have the form
// "msg:{conversation}:{unixnano 19-digit}:{seq 20-digit}", so a forward
// prefix scan yields messages in (timestamp, arrival) order.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	log *logrus.Logger
}

// OpenBadger opens (or creates) a BadgerDB at path with badger's own
// logging reduced to errors.
func OpenBadger(path string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("message: open badger at %s: %w", path, err)
	}
	return db, nil
}

// NewBadgerStore creates a store on db. The caller keeps ownership of db;
// Close releases only the store's sequence lease.
func NewBadgerStore(db *badger.DB, log *logrus.Logger) (*BadgerStore, error) {
	seq, err := db.GetSequence([]byte(badgerSeqKey), badgerSeqLease)
	if err != nil {
		return nil, fmt.Errorf("message: badger sequence: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BadgerStore{db: db, seq: seq, log: log}, nil
}

func badgerPrefix(conversationID string) []byte {
	return []byte(badgerKeyPrefix + conversationID + ":")
}

func (s *BadgerStore) Append(_ context.Context, m *Message) (*Message, error) {
	stored := prepare(m)
	n, err := s.seq.Next()
	if err != nil {
		return nil, apperr.Unavailable("message: append", err)
	}
	key := fmt.Sprintf("%s%s:%019d:%020d", badgerKeyPrefix, stored.ConversationID, stored.Timestamp.UnixNano(), n)

	value, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("message: encode: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return nil, apperr.Unavailable("message: append", err)
	}
	return stored, nil
}

func (s *BadgerStore) List(_ context.Context, conversationID string, limit int) ([]*Message, error) {
	limit = normalizeLimit(limit)
	prefix := badgerPrefix(conversationID)

	out := []*Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchSize = min(limit, opts.PrefetchSize)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if len(out) == limit {
				break
			}
			err := it.Item().Value(func(v []byte) error {
				var m Message
				if err := json.Unmarshal(v, &m); err != nil {
					return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
				}
				out = append(out, &m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Unavailable("message: list", err)
	}
	s.log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"count":           len(out),
	}).Debug("message: badger list")
	return out, nil
}

// Close releases the unused part of the sequence lease.
func (s *BadgerStore) Close() error {
	return s.seq.Release()
}
