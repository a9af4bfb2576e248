package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dukepan/chatroom-gateway/internal/db"
	"github.com/dukepan/chatroom-gateway/internal/models"
)

// PostgresStore keeps the history in the chat_history table. The per-room
// counter row in room_sequences is locked by the upsert until the insert
// commits, so concurrent appends to a room are serialized by Postgres.
type PostgresStore struct {
	db *db.Database
}

func NewPostgresStore(database *db.Database) *PostgresStore {
	return &PostgresStore{db: database}
}

func (s *PostgresStore) Append(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback(ctx)

	stored := models.Message{
		RoomID:   msg.RoomID,
		SenderID: msg.SenderID,
		Kind:     msg.Kind,
		Content:  msg.Content,
	}

	if err := tx.QueryRow(ctx,
		`INSERT INTO room_sequences (chatroom_id, last_seq) VALUES ($1, 1)
		 ON CONFLICT (chatroom_id) DO UPDATE SET last_seq = room_sequences.last_seq + 1
		 RETURNING last_seq`,
		msg.RoomID,
	).Scan(&stored.Sequence); err != nil {
		return models.Message{}, fmt.Errorf("next sequence: %w", err)
	}

	if err := tx.QueryRow(ctx,
		`INSERT INTO chat_history (chatroom_id, seq, sender_id, kind, content)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		msg.RoomID, stored.Sequence, msg.SenderID, msg.Kind, msg.Content,
	).Scan(&stored.CreatedAt); err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Message{}, err
	}
	return stored, nil
}

func (s *PostgresStore) ListSince(ctx context.Context, roomID, fromSequence int64, limit int) ([]models.Message, error) {
	query := `SELECT chatroom_id, sender_id, kind, content, seq, created_at
	          FROM chat_history
	          WHERE chatroom_id = $1 AND seq > $2
	          ORDER BY seq ASC`
	args := []any{roomID, fromSequence}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Message, error) {
		var m models.Message
		err := row.Scan(&m.RoomID, &m.SenderID, &m.Kind, &m.Content, &m.Sequence, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *PostgresStore) LastSequence(ctx context.Context, roomID int64) (int64, error) {
	var last int64
	err := s.db.QueryRow(ctx,
		`SELECT last_seq FROM room_sequences WHERE chatroom_id = $1`, roomID,
	).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return last, nil
}

// Close is a no-op; the pool belongs to the Database.
func (s *PostgresStore) Close() error {
	return nil
}
