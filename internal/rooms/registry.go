package rooms

import (
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
	"github.com/dukepan/chatroom-gateway/internal/observability"
)

type connection struct {
	userID int64
	rooms  map[int64]struct{}
}

// Registry maps each live connection to its authenticated user and the rooms
// it has joined. It never touches storage; the Engine orchestrates
// cross-component updates.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*connection)}
}

// Register records a new live connection.
func (r *Registry) Register(connID string, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return fmt.Errorf("register %s: %w", connID, apperr.ErrDuplicateConnection)
	}
	r.conns[connID] = &connection{userID: userID, rooms: make(map[int64]struct{})}
	observability.ActiveConnections.Inc()
	return nil
}

// Unregister removes the connection and returns the rooms it was subscribed
// to. Unregistering an unknown connection is a no-op returning nil.
func (r *Registry) Unregister(connID string) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connID]
	if !exists {
		return nil
	}
	delete(r.conns, connID)
	observability.ActiveConnections.Dec()
	return lo.Keys(conn.rooms)
}

// UserIDOf returns the user a connection was authenticated as.
func (r *Registry) UserIDOf(connID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.conns[connID]
	if !exists {
		return 0, fmt.Errorf("lookup %s: %w", connID, apperr.ErrUnknownConnection)
	}
	return conn.userID, nil
}

// roomsOf returns the rooms a connection has joined.
func (r *Registry) roomsOf(connID string) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.conns[connID]
	if !exists {
		return nil, fmt.Errorf("lookup %s: %w", connID, apperr.ErrUnknownConnection)
	}
	return lo.Keys(conn.rooms), nil
}

func (r *Registry) addRoom(connID string, roomID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connID]
	if !exists {
		return fmt.Errorf("track room %d for %s: %w", roomID, connID, apperr.ErrUnknownConnection)
	}
	conn.rooms[roomID] = struct{}{}
	return nil
}

func (r *Registry) removeRoom(connID string, roomID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, exists := r.conns[connID]; exists {
		delete(conn.rooms, roomID)
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
