package rooms

import (
	"context"

	"github.com/dukepan/chatroom-gateway/internal/models"
)

// MembershipStore is the durable source of truth for room membership.
type MembershipStore interface {
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)
	// MembersOf returns every member of roomID in a single lookup.
	MembersOf(ctx context.Context, roomID int64) ([]int64, error)
}

// HistoryStore is the single ordering authority for messages of a room.
type HistoryStore interface {
	Append(ctx context.Context, msg models.NewMessage) (models.Message, error)
	ListSince(ctx context.Context, roomID, fromSequence int64, limit int) ([]models.Message, error)
	LastSequence(ctx context.Context, roomID int64) (int64, error)
}

// Delivery hands a frame to a live connection without blocking. It reports
// false when the connection is gone or could not accept the frame.
type Delivery interface {
	Deliver(connID string, frame models.OutboundFrame) bool
}

// Relay propagates room events to the other nodes of the cluster.
type Relay interface {
	PublishRoomEvent(ctx context.Context, evt models.OutboundEvent) error
	PublishMembershipRemoved(ctx context.Context, roomID, userID int64) error
}
