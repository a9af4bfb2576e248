package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dukepan/chatroom-gateway/internal/models"
)

const maxConflictRetries = 5

// BadgerStore keeps the history in an embedded Badger database.
//
// Keys:
//
//	seq:{room}              last assigned sequence, big-endian uint64
//	msg:{room}:{sequence}   JSON encoded diskMessage
//
// Both numbers are zero padded to 20 digits so a prefix scan walks the
// messages of a room in sequence order.
type BadgerStore struct {
	db *badger.DB
}

type diskMessage struct {
	SenderID int64              `json:"s"`
	Kind     models.MessageKind `json:"k"`
	Content  string             `json:"c"`
	At       int64              `json:"t"`
}

// OpenBadgerStore opens (or creates) a Badger database at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", path, err)
	}
	return NewBadgerStore(db), nil
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func seqKey(roomID int64) []byte {
	return []byte(fmt.Sprintf("seq:%020d", roomID))
}

func msgPrefix(roomID int64) []byte {
	return []byte(fmt.Sprintf("msg:%020d:", roomID))
}

func msgKey(roomID, sequence int64) []byte {
	return []byte(fmt.Sprintf("msg:%020d:%020d", roomID, sequence))
}

// Append writes the message and bumps the room counter in one transaction.
// A conflicting concurrent append aborts the transaction without writing,
// so it is safe to run it again.
func (s *BadgerStore) Append(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	var stored models.Message
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctx.Err() != nil {
			return models.Message{}, ctx.Err()
		}
		stored, err = s.append(msg)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return stored, err
}

func (s *BadgerStore) append(msg models.NewMessage) (models.Message, error) {
	now := time.Now().UTC()
	stored := models.Message{
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Kind:      msg.Kind,
		Content:   msg.Content,
		CreatedAt: now,
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		var last uint64
		item, err := txn.Get(seqKey(msg.RoomID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				last = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		}

		stored.Sequence = int64(last + 1)
		counter := make([]byte, 8)
		binary.BigEndian.PutUint64(counter, last+1)
		if err := txn.Set(seqKey(msg.RoomID), counter); err != nil {
			return err
		}

		value, err := json.Marshal(diskMessage{
			SenderID: msg.SenderID,
			Kind:     msg.Kind,
			Content:  msg.Content,
			At:       now.UnixNano(),
		})
		if err != nil {
			return err
		}
		return txn.Set(msgKey(msg.RoomID, stored.Sequence), value)
	})
	if err != nil {
		return models.Message{}, err
	}
	return stored, nil
}

func (s *BadgerStore) ListSince(ctx context.Context, roomID, fromSequence int64, limit int) ([]models.Message, error) {
	messages := []models.Message{}
	if fromSequence == math.MaxInt64 {
		return messages, nil
	}
	prefix := msgPrefix(roomID)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(msgKey(roomID, fromSequence+1)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			item := it.Item()
			sequence, err := strconv.ParseInt(string(item.Key()[len(prefix):]), 10, 64)
			if err != nil {
				return fmt.Errorf("malformed key %q: %w", item.Key(), err)
			}

			var dm diskMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &dm)
			}); err != nil {
				return err
			}

			messages = append(messages, models.Message{
				RoomID:    roomID,
				SenderID:  dm.SenderID,
				Kind:      dm.Kind,
				Content:   dm.Content,
				Sequence:  sequence,
				CreatedAt: time.Unix(0, dm.At).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *BadgerStore) LastSequence(ctx context.Context, roomID int64) (int64, error) {
	var last uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(seqKey(roomID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			last = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return int64(last), nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
