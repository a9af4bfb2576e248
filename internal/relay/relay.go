package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dukepan/chatroom-gateway/internal/models"
	"github.com/dukepan/chatroom-gateway/internal/utils"
)

const (
	ChannelRoomEvents       = "room_events"
	ChannelMembershipEvents = "membership_events"
)

// Bus is the pub/sub transport, implemented by *cache.Cache.
type Bus interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Sink receives events published by other nodes. Implemented by the engine.
type Sink interface {
	DeliverRemote(ctx context.Context, evt models.OutboundEvent)
	DropMemberLocal(ctx context.Context, roomID, userID int64)
}

type roomEnvelope struct {
	NodeID string               `json:"nodeId"`
	Event  models.OutboundEvent `json:"event"`
}

type membershipEnvelope struct {
	NodeID string `json:"nodeId"`
	RoomID int64  `json:"roomId"`
	UserID int64  `json:"userId"`
}

// Relay coordinates cross-node fan-out via Redis Pub/Sub. Every node
// publishes the events it fanned out locally and replays the events of the
// other nodes to its own subscribers; events carrying its own node id are
// ignored.
type Relay struct {
	bus    Bus
	sink   Sink
	nodeID string
	logger *utils.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a relay with a fresh node id.
func New(bus Bus, logger *utils.Logger) *Relay {
	return &Relay{
		bus:    bus,
		nodeID: uuid.NewString(),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// SetSink sets the event sink. This is used for circular dependencies.
func (r *Relay) SetSink(sink Sink) {
	r.sink = sink
}

func (r *Relay) NodeID() string {
	return r.nodeID
}

// Start subscribes and begins replaying remote events.
func (r *Relay) Start(ctx context.Context) {
	pubsub := r.bus.Subscribe(ctx, ChannelRoomEvents, ChannelMembershipEvents)
	r.wg.Add(1)
	go r.syncLoop(ctx, pubsub)
}

// Stop gracefully shuts down the relay
func (r *Relay) Stop() {
	close(r.done)
	r.wg.Wait()
}

func (r *Relay) syncLoop(ctx context.Context, pubsub *redis.PubSub) {
	defer r.wg.Done()
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handle(ctx, msg.Channel, msg.Payload)
		}
	}
}

func (r *Relay) handle(ctx context.Context, channel, payload string) {
	switch channel {
	case ChannelRoomEvents:
		var env roomEnvelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			r.logger.Warn(ctx, "Error unmarshaling room event: %v", err)
			return
		}
		if env.NodeID == r.nodeID {
			return
		}
		r.sink.DeliverRemote(ctx, env.Event)
	case ChannelMembershipEvents:
		var env membershipEnvelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			r.logger.Warn(ctx, "Error unmarshaling membership event: %v", err)
			return
		}
		if env.NodeID == r.nodeID {
			return
		}
		r.sink.DropMemberLocal(ctx, env.RoomID, env.UserID)
	default:
		r.logger.Debug(ctx, "Ignoring event on unknown channel %s", channel)
	}
}

// PublishRoomEvent publishes an event already fanned out on this node.
func (r *Relay) PublishRoomEvent(ctx context.Context, evt models.OutboundEvent) error {
	data, err := json.Marshal(roomEnvelope{NodeID: r.nodeID, Event: evt})
	if err != nil {
		return fmt.Errorf("failed to marshal room event: %w", err)
	}
	return r.bus.Publish(ctx, ChannelRoomEvents, string(data))
}

// PublishMembershipRemoved tells the other nodes to drop the live
// subscriptions of a user removed from a room.
func (r *Relay) PublishMembershipRemoved(ctx context.Context, roomID, userID int64) error {
	data, err := json.Marshal(membershipEnvelope{NodeID: r.nodeID, RoomID: roomID, UserID: userID})
	if err != nil {
		return fmt.Errorf("failed to marshal membership event: %w", err)
	}
	return r.bus.Publish(ctx, ChannelMembershipEvents, string(data))
}
