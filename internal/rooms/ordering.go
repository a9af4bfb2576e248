package rooms

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/dukepan/chatroom-gateway/internal/models"
	"github.com/dukepan/chatroom-gateway/internal/observability"
)

const defaultGapWait = 2 * time.Second

type heldEvent struct {
	evt     models.OutboundEvent
	outcome string
}

// roomOrder tracks the last message sequence this node fanned out in a room.
// With several nodes appending to one room, the relay may hand over a
// message after a later one was already appended locally; such messages are
// held until the missing sequence arrives or the gap wait runs out.
//
// A roomOrder is only touched under its room lock.
type roomOrder struct {
	last    int64
	pending map[int64]heldEvent
	timer   *time.Timer
	gen     uint64
}

func (e *Engine) orderOf(roomID int64) *roomOrder {
	e.ordersMu.Lock()
	defer e.ordersMu.Unlock()
	return e.orders[roomID]
}

// ensureOrder starts tracking roomID from its current last sequence. Only
// relayed engines track order; a single node already appends and fans out
// under the same lock. Caller holds the room lock.
func (e *Engine) ensureOrder(ctx context.Context, roomID int64) error {
	if e.relay == nil || e.orderOf(roomID) != nil {
		return nil
	}
	last, err := e.history.LastSequence(ctx, roomID)
	if err != nil {
		return err
	}

	e.ordersMu.Lock()
	e.orders[roomID] = &roomOrder{last: last, pending: make(map[int64]heldEvent)}
	e.ordersMu.Unlock()
	return nil
}

// forgetOrder stops tracking roomID once nobody on this node is subscribed.
// Caller holds the room lock.
func (e *Engine) forgetOrder(roomID int64) {
	if len(e.index.SubscribersOf(roomID)) > 0 {
		return
	}

	e.ordersMu.Lock()
	o, ok := e.orders[roomID]
	delete(e.orders, roomID)
	e.ordersMu.Unlock()

	if ok && o.timer != nil {
		o.timer.Stop()
	}
}

// deliverMessage fans out a sendMessage event in sequence order. Caller
// holds the room lock.
func (e *Engine) deliverMessage(ctx context.Context, roomID int64, evt models.OutboundEvent, outcome string) {
	o := e.orderOf(roomID)
	if o == nil || evt.Message == nil {
		e.fanOutWithOutcome(ctx, roomID, evt, outcome)
		return
	}

	seq := evt.Message.Sequence
	switch {
	case seq <= o.last:
		e.logger.Debug(ctx, "Ignoring sequence %d of room %d, already at %d", seq, roomID, o.last)
		return
	case seq > o.last+1:
		o.pending[seq] = heldEvent{evt: evt, outcome: outcome}
		observability.HeldMessages.Inc()
		if o.timer == nil {
			e.armGapTimer(roomID, o)
		}
		return
	}

	e.fanOutWithOutcome(ctx, roomID, evt, outcome)
	o.last = seq
	e.flushPending(ctx, roomID, o)
}

// flushPending fans out held messages that became contiguous.
func (e *Engine) flushPending(ctx context.Context, roomID int64, o *roomOrder) {
	for {
		held, ok := o.pending[o.last+1]
		if !ok {
			break
		}
		delete(o.pending, o.last+1)
		e.fanOutWithOutcome(ctx, roomID, held.evt, held.outcome)
		o.last++
	}
	if len(o.pending) == 0 && o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

func (e *Engine) armGapTimer(roomID int64, o *roomOrder) {
	o.gen++
	gen := o.gen
	o.timer = time.AfterFunc(e.gapWait, func() {
		e.skipGap(roomID, o, gen)
	})
}

// skipGap gives up on the sequences missing before the oldest held message.
// A timed out append can commit without ever being fanned out, and a relay
// publish can be lost, so the hole may never fill.
func (e *Engine) skipGap(roomID int64, o *roomOrder, gen uint64) {
	ctx := context.Background()
	e.locks.withRoom(roomID, func() error {
		if e.orderOf(roomID) != o || o.gen != gen || o.timer == nil {
			return nil
		}
		o.timer = nil
		if len(o.pending) == 0 {
			return nil
		}

		next := lo.Min(lo.Keys(o.pending))
		e.logger.Warn(ctx, "Skipping sequences %d to %d of room %d that never arrived", o.last+1, next-1, roomID)
		observability.SkippedSequences.Add(float64(next - 1 - o.last))
		o.last = next - 1
		e.flushPending(ctx, roomID, o)
		if len(o.pending) > 0 {
			e.armGapTimer(roomID, o)
		}
		return nil
	})
}
