package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
	"github.com/dukepan/chatroom-gateway/internal/contextkey"
	"github.com/dukepan/chatroom-gateway/internal/models"
	"github.com/dukepan/chatroom-gateway/internal/observability"
	"github.com/dukepan/chatroom-gateway/internal/utils"
)

// Engine is the broadcast state machine. Every mutation of the Registry and
// the Index goes through it, and every operation touching a room runs under
// that room's lock, so presence and message events of a room reach each
// subscriber in the order the operations were linearized.
type Engine struct {
	registry   *Registry
	index      *Index
	membership MembershipStore
	history    HistoryStore
	delivery   Delivery
	relay      Relay
	locks      *roomLocks
	logger     *utils.Logger

	ordersMu sync.Mutex
	orders   map[int64]*roomOrder
	gapWait  time.Duration

	backfillLimit int
}

// NewEngine creates a broadcast engine. Delivery may be nil at construction
// and set later with SetDelivery, since the gateway depends on the engine too.
func NewEngine(membership MembershipStore, history HistoryStore, delivery Delivery, logger *utils.Logger, backfillLimit int) *Engine {
	return &Engine{
		registry:      NewRegistry(),
		index:         NewIndex(membership),
		membership:    membership,
		history:       history,
		delivery:      delivery,
		locks:         newRoomLocks(),
		logger:        logger,
		orders:        make(map[int64]*roomOrder),
		gapWait:       defaultGapWait,
		backfillLimit: backfillLimit,
	}
}

// SetDelivery sets the delivery target. This is used for circular dependencies.
func (e *Engine) SetDelivery(delivery Delivery) {
	e.delivery = delivery
}

// SetRelay enables cross-node propagation of room events. It must be called
// before the first Join.
func (e *Engine) SetRelay(relay Relay) {
	e.relay = relay
}

// Connect registers a freshly authenticated connection.
func (e *Engine) Connect(ctx context.Context, connID string, userID int64) error {
	if err := e.registry.Register(connID, userID); err != nil {
		e.logger.Error(ctx, "Failed to register connection: %v", err)
		return err
	}
	return nil
}

// Join subscribes the connection to roomID and announces the user to every
// subscriber, the joining connection included. When since is non-nil the
// joining connection first receives the messages it missed, so that the
// backfill and the live stream meet without a gap.
func (e *Engine) Join(ctx context.Context, connID string, roomID int64, since *int64) error {
	userID, err := e.userOf(ctx, connID)
	if err != nil {
		return err
	}

	return e.locks.withRoom(roomID, func() error {
		wasSubscribed := e.index.IsSubscribed(roomID, connID)
		if err := e.index.Subscribe(ctx, roomID, connID, userID); err != nil {
			return fmt.Errorf("index.Subscribe: %w", err)
		}
		if wasSubscribed {
			// Joining again only repeats the backfill; others already saw the join.
			return e.backfill(ctx, connID, roomID, since)
		}
		if err := e.registry.addRoom(connID, roomID); err != nil {
			// The connection went away between lookup and subscribe.
			e.index.Unsubscribe(roomID, connID)
			return err
		}

		if err := e.ensureOrder(ctx, roomID); err != nil {
			e.unsubscribe(roomID, connID)
			return fmt.Errorf("history.LastSequence: %w", err)
		}
		if err := e.backfill(ctx, connID, roomID, since); err != nil {
			e.unsubscribe(roomID, connID)
			return err
		}

		evt := models.PresenceJoin(roomID, userID)
		e.fanOut(ctx, roomID, evt)
		e.publish(ctx, evt)
		return nil
	})
}

// backfill delivers the messages after since to connID alone. Caller holds
// the room lock.
func (e *Engine) backfill(ctx context.Context, connID string, roomID int64, since *int64) error {
	if since == nil {
		return nil
	}
	backlog, err := e.history.ListSince(ctx, roomID, *since, e.backfillLimit)
	if err != nil {
		return fmt.Errorf("history.ListSince: %w", err)
	}
	e.delivery.Deliver(connID, models.OutboundFrame{
		Event: models.EventHistory,
		Data: models.HistoryEvent{
			RoomID:   roomID,
			Messages: lo.Map(backlog, func(m models.Message, _ int) models.OutboundMessage { return models.ToOutboundMessage(m) }),
		},
	})
	return nil
}

// unsubscribe undoes a half-finished join. Caller holds the room lock.
func (e *Engine) unsubscribe(roomID int64, connID string) {
	e.index.Unsubscribe(roomID, connID)
	e.registry.removeRoom(connID, roomID)
	e.forgetOrder(roomID)
}

// Send persists the message and, only once it is durable, fans it out to
// every connection subscribed to the room at that moment. Sends on the same
// room are serialized so sequence order and delivery order agree.
func (e *Engine) Send(ctx context.Context, connID string, roomID int64, kind models.MessageKind, content string) (models.Message, error) {
	userID, err := e.userOf(ctx, connID)
	if err != nil {
		return models.Message{}, err
	}

	var msg models.Message
	err = e.locks.withRoom(roomID, func() error {
		isMember, err := e.membership.IsMember(ctx, roomID, userID)
		if err != nil {
			return fmt.Errorf("membership.IsMember: %w: %w", apperr.ErrStorageUnavailable, err)
		}
		if !isMember {
			return fmt.Errorf("user %d in room %d: %w", userID, roomID, apperr.ErrNotAMember)
		}

		msg, err = e.history.Append(ctx, models.NewMessage{
			RoomID:   roomID,
			SenderID: userID,
			Kind:     kind,
			Content:  content,
		})
		if err != nil {
			return fmt.Errorf("history.Append: %w", err)
		}

		evt := models.MessageSent(msg)
		e.deliverMessage(ctx, roomID, evt, observability.OutcomeDelivered)
		e.publish(ctx, evt)
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// Leave unsubscribes the connection from roomID. Leaving a room the
// connection is not subscribed to is a no-op.
func (e *Engine) Leave(ctx context.Context, connID string, roomID int64) error {
	userID, err := e.userOf(ctx, connID)
	if err != nil {
		return err
	}

	return e.locks.withRoom(roomID, func() error {
		if !e.index.IsSubscribed(roomID, connID) {
			return nil
		}
		e.index.Unsubscribe(roomID, connID)
		e.registry.removeRoom(connID, roomID)
		e.announceLeave(ctx, roomID, userID)
		e.forgetOrder(roomID)
		return nil
	})
}

// Disconnect is an implicit Leave of every room the connection joined. It
// never fails and is idempotent.
func (e *Engine) Disconnect(ctx context.Context, connID string) {
	userID, err := e.registry.UserIDOf(connID)
	if err != nil {
		return
	}

	for _, roomID := range e.registry.Unregister(connID) {
		e.locks.withRoom(roomID, func() error {
			e.index.Unsubscribe(roomID, connID)
			e.announceLeave(ctx, roomID, userID)
			e.forgetOrder(roomID)
			return nil
		})
	}
}

// DropMember removes the live subscriptions of a user who was durably
// removed from roomID, on this node and, through the relay, on the others.
func (e *Engine) DropMember(ctx context.Context, roomID, userID int64) {
	e.dropMember(ctx, roomID, userID)

	if e.relay != nil {
		if err := e.relay.PublishMembershipRemoved(ctx, roomID, userID); err != nil {
			e.logger.Warn(ctx, "Failed to relay membership removal of user %d from room %d: %v", userID, roomID, err)
		}
	}
}

// DropMemberLocal is DropMember without relaying, used for removals
// announced by other nodes.
func (e *Engine) DropMemberLocal(ctx context.Context, roomID, userID int64) {
	e.dropMember(ctx, roomID, userID)
}

func (e *Engine) dropMember(ctx context.Context, roomID, userID int64) {
	e.locks.withRoom(roomID, func() error {
		e.dropMemberLocked(ctx, roomID, userID)
		return nil
	})
}

// dropMemberLocked reports whether the user had live subscriptions. Caller
// holds the room lock.
func (e *Engine) dropMemberLocked(ctx context.Context, roomID, userID int64) bool {
	dropped := e.index.DropUser(roomID, userID)
	if len(dropped) == 0 {
		return false
	}
	evt := models.PresenceLeave(roomID, userID)
	for _, connID := range dropped {
		e.registry.removeRoom(connID, roomID)
		e.delivery.Deliver(connID, evt.Frame())
	}
	e.fanOut(ctx, roomID, evt)
	e.publish(ctx, evt)
	e.forgetOrder(roomID)
	return true
}

// Reconcile drops ghost subscriptions of users who are no longer durable
// members of roomID. Membership is fetched with a single lookup; each
// candidate is checked again under the room lock so that a user re-added
// in the meantime keeps their subscription.
func (e *Engine) Reconcile(ctx context.Context, roomID int64) (int, error) {
	members, err := e.membership.MembersOf(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("membership.MembersOf: %w: %w", apperr.ErrStorageUnavailable, err)
	}

	ghosts, _ := lo.Difference(e.index.UsersOf(roomID), members)
	var count int
	for _, userID := range ghosts {
		e.locks.withRoom(roomID, func() error {
			isMember, err := e.membership.IsMember(ctx, roomID, userID)
			if err != nil {
				e.logger.Warn(ctx, "Keeping subscription of user %d in room %d, membership check failed: %v", userID, roomID, err)
				return nil
			}
			if isMember {
				return nil
			}
			if e.dropMemberLocked(ctx, roomID, userID) {
				e.logger.Info(ctx, "Dropped ghost subscription of user %d in room %d", userID, roomID)
				count++
			}
			return nil
		})
	}
	return count, nil
}

// DeliverRemote fans out an event that another node already persisted and
// broadcast to its own subscribers. Messages go through the room's ordering
// buffer, so they interleave with local sends by sequence.
func (e *Engine) DeliverRemote(ctx context.Context, evt models.OutboundEvent) {
	e.locks.withRoom(evt.RoomID, func() error {
		if evt.Type == models.TypeSendMessage {
			e.deliverMessage(ctx, evt.RoomID, evt, observability.OutcomeRemote)
			return nil
		}
		e.fanOutWithOutcome(ctx, evt.RoomID, evt, observability.OutcomeRemote)
		return nil
	})
}

// SubscribersOf returns a snapshot of the connections subscribed to roomID.
func (e *Engine) SubscribersOf(roomID int64) []string {
	return e.index.SubscribersOf(roomID)
}

// UserIDOf returns the user a connection was authenticated as.
func (e *Engine) UserIDOf(connID string) (int64, error) {
	return e.registry.UserIDOf(connID)
}

// ConnectionCount returns the number of live connections.
func (e *Engine) ConnectionCount() int {
	return e.registry.Len()
}

func (e *Engine) userOf(ctx context.Context, connID string) (int64, error) {
	userID, err := e.registry.UserIDOf(connID)
	if err != nil {
		e.logger.Error(context.WithValue(ctx, contextkey.ContextKeyConnectionID, connID), "Operation on unregistered connection: %v", err)
		return 0, err
	}
	return userID, nil
}

// announceLeave emits a leave presence once the user's last connection has
// left the room. Caller holds the room lock.
func (e *Engine) announceLeave(ctx context.Context, roomID, userID int64) {
	if e.index.HasUser(roomID, userID) {
		return
	}
	evt := models.PresenceLeave(roomID, userID)
	e.fanOut(ctx, roomID, evt)
	e.publish(ctx, evt)
}

func (e *Engine) fanOut(ctx context.Context, roomID int64, evt models.OutboundEvent) {
	e.fanOutWithOutcome(ctx, roomID, evt, observability.OutcomeDelivered)
}

func (e *Engine) fanOutWithOutcome(ctx context.Context, roomID int64, evt models.OutboundEvent, outcome string) {
	frame := evt.Frame()
	var dropped int
	for _, connID := range e.index.SubscribersOf(roomID) {
		if e.delivery.Deliver(connID, frame) {
			observability.FanoutDeliveries.WithLabelValues(outcome).Inc()
			continue
		}
		dropped++
		observability.FanoutDeliveries.WithLabelValues(observability.OutcomeDropped).Inc()
	}
	if dropped > 0 {
		e.logger.Debug(ctx, "Fan-out of %s to room %d dropped %d deliveries", evt.Type, roomID, dropped)
	}
}

func (e *Engine) publish(ctx context.Context, evt models.OutboundEvent) {
	if e.relay == nil {
		return
	}
	if err := e.relay.PublishRoomEvent(ctx, evt); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn(ctx, "Failed to relay %s event for room %d: %v", evt.Type, evt.RoomID, err)
	}
}
