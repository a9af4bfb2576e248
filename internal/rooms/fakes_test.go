package rooms

import (
	"context"
	"sync"

	"github.com/dukepan/chatroom-gateway/internal/models"
)

type fakeMembership struct {
	mu      sync.Mutex
	members map[int64]map[int64]bool
	err     error
	// listed, when set for a room, is what MembersOf returns instead of the
	// current members, like a read that raced with a re-add.
	listed map[int64][]int64
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{members: make(map[int64]map[int64]bool)}
}

func (f *fakeMembership) add(roomID int64, userIDs ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[roomID] == nil {
		f.members[roomID] = make(map[int64]bool)
	}
	for _, id := range userIDs {
		f.members[roomID][id] = true
	}
}

func (f *fakeMembership) remove(roomID, userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[roomID], userID)
}

func (f *fakeMembership) IsMember(_ context.Context, roomID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.members[roomID][userID], nil
}

func (f *fakeMembership) MembersOf(_ context.Context, roomID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if ids, ok := f.listed[roomID]; ok {
		return ids, nil
	}
	var ids []int64
	for id := range f.members[roomID] {
		ids = append(ids, id)
	}
	return ids, nil
}

// recordingDelivery keeps every frame per connection. Connections listed in
// refuse behave like a full buffer.
type recordingDelivery struct {
	mu     sync.Mutex
	frames map[string][]models.OutboundFrame
	refuse map[string]bool
}

func newRecordingDelivery() *recordingDelivery {
	return &recordingDelivery{
		frames: make(map[string][]models.OutboundFrame),
		refuse: make(map[string]bool),
	}
}

func (d *recordingDelivery) Deliver(connID string, frame models.OutboundFrame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refuse[connID] {
		return false
	}
	d.frames[connID] = append(d.frames[connID], frame)
	return true
}

func (d *recordingDelivery) of(connID string) []models.OutboundFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.OutboundFrame(nil), d.frames[connID]...)
}

// events returns the "message" frames delivered to connID.
func (d *recordingDelivery) events(connID string) []models.OutboundEvent {
	var out []models.OutboundEvent
	for _, f := range d.of(connID) {
		if evt, ok := f.Data.(models.OutboundEvent); ok && f.Event == models.EventMessage {
			out = append(out, evt)
		}
	}
	return out
}

func (d *recordingDelivery) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = make(map[string][]models.OutboundFrame)
}

type fakeRelay struct {
	mu       sync.Mutex
	events   []models.OutboundEvent
	removals [][2]int64
}

func (r *fakeRelay) PublishRoomEvent(_ context.Context, evt models.OutboundEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *fakeRelay) PublishMembershipRemoved(_ context.Context, roomID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removals = append(r.removals, [2]int64{roomID, userID})
	return nil
}

// failingHistory fails every call with err.
type failingHistory struct {
	err error
}

func (h failingHistory) Append(context.Context, models.NewMessage) (models.Message, error) {
	return models.Message{}, h.err
}

func (h failingHistory) ListSince(context.Context, int64, int64, int) ([]models.Message, error) {
	return nil, h.err
}

func (h failingHistory) LastSequence(context.Context, int64) (int64, error) {
	return 0, h.err
}
