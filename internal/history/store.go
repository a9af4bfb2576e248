package history

import (
	"context"

	"github.com/dukepan/chatroom-gateway/internal/models"
)

// Store is a durable, append-only message log partitioned by room. Append
// assigns the next sequence of the room atomically with the write, so
// sequences of a room start at 1 and never skip or repeat.
type Store interface {
	Append(ctx context.Context, msg models.NewMessage) (models.Message, error)
	// ListSince returns messages with sequence strictly greater than
	// fromSequence in ascending order. limit <= 0 means no limit.
	ListSince(ctx context.Context, roomID, fromSequence int64, limit int) ([]models.Message, error)
	// LastSequence returns the highest sequence assigned in the room, 0 when
	// nothing was appended yet.
	LastSequence(ctx context.Context, roomID int64) (int64, error)
	Close() error
}
