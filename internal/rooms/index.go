package rooms

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
	"github.com/dukepan/chatroom-gateway/internal/observability"
)

// Index is the live room -> subscribed connections relation. It is a cache
// of who to fan out to right now; durable membership stays with the
// MembershipStore.
type Index struct {
	membership MembershipStore

	mu          sync.RWMutex
	subscribers map[int64]map[string]int64 // room -> conn -> user
}

// NewIndex creates an empty membership index backed by the given store
func NewIndex(membership MembershipStore) *Index {
	return &Index{
		membership:  membership,
		subscribers: make(map[int64]map[string]int64),
	}
}

// Subscribe adds connID to the live subscriber set of roomID once userID is
// confirmed to be a durable member. Subscribing twice is a no-op.
func (x *Index) Subscribe(ctx context.Context, roomID int64, connID string, userID int64) error {
	isMember, err := x.membership.IsMember(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("membership.IsMember: %w: %w", apperr.ErrStorageUnavailable, err)
	}
	if !isMember {
		return fmt.Errorf("user %d in room %d: %w", userID, roomID, apperr.ErrNotAMember)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	conns := x.subscribers[roomID]
	if conns == nil {
		conns = make(map[string]int64)
		x.subscribers[roomID] = conns
	}
	if _, exists := conns[connID]; !exists {
		conns[connID] = userID
		observability.LiveSubscriptions.Inc()
	}
	return nil
}

// Unsubscribe removes connID from roomID. No-op when absent.
func (x *Index) Unsubscribe(roomID int64, connID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.unsubscribeLocked(roomID, connID)
}

func (x *Index) unsubscribeLocked(roomID int64, connID string) {
	conns, ok := x.subscribers[roomID]
	if !ok {
		return
	}
	if _, exists := conns[connID]; exists {
		delete(conns, connID)
		observability.LiveSubscriptions.Dec()
	}
	if len(conns) == 0 {
		delete(x.subscribers, roomID)
	}
}

// SubscribersOf returns a snapshot of the connections subscribed to roomID.
// The slice is owned by the caller and unaffected by later mutations.
func (x *Index) SubscribersOf(roomID int64) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return lo.Keys(x.subscribers[roomID])
}

// IsSubscribed reports whether connID is currently subscribed to roomID.
func (x *Index) IsSubscribed(roomID int64, connID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.subscribers[roomID][connID]
	return ok
}

// HasUser reports whether any connection of userID is subscribed to roomID.
func (x *Index) HasUser(roomID, userID int64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, uid := range x.subscribers[roomID] {
		if uid == userID {
			return true
		}
	}
	return false
}

// DropUser removes every connection of userID from roomID and returns the
// connections that were dropped. Called once the user is durably removed
// from the room.
func (x *Index) DropUser(roomID, userID int64) []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	var dropped []string
	for connID, uid := range x.subscribers[roomID] {
		if uid == userID {
			dropped = append(dropped, connID)
		}
	}
	for _, connID := range dropped {
		x.unsubscribeLocked(roomID, connID)
	}
	return dropped
}

// UsersOf returns the distinct users with at least one live connection in roomID.
func (x *Index) UsersOf(roomID int64) []int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return lo.Uniq(lo.Values(x.subscribers[roomID]))
}

// Rooms returns the rooms that have at least one live subscriber.
func (x *Index) Rooms() []int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return lo.Keys(x.subscribers)
}
