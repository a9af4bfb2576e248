// Package gateway owns the live websocket connections of this process. It
// decodes inbound frames into engine operations and implements the engine's
// delivery contract on top of per-connection write buffers.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
	"github.com/dukepan/chatroom-gateway/internal/cache"
	"github.com/dukepan/chatroom-gateway/internal/models"
	"github.com/dukepan/chatroom-gateway/internal/observability"
	"github.com/dukepan/chatroom-gateway/internal/utils"
)

var ErrNotRunning = errors.New("gateway is not running")

// Engine is the subset of the broadcast engine the gateway drives.
type Engine interface {
	Connect(ctx context.Context, connID string, userID int64) error
	Join(ctx context.Context, connID string, roomID int64, since *int64) error
	Leave(ctx context.Context, connID string, roomID int64) error
	Send(ctx context.Context, connID string, roomID int64, kind models.MessageKind, content string) (models.Message, error)
	Disconnect(ctx context.Context, connID string)
}

// Presence records who is online. Implemented by *cache.Cache.
type Presence interface {
	SetUserPresence(ctx context.Context, userID int64, state cache.PresenceState) error
}

type Options struct {
	BufferSize     int
	MaxMessageSize int64
}

type Gateway struct {
	engine   Engine
	presence Presence
	logger   *utils.Logger

	bufferSize     int
	maxMessageSize int64

	mu      sync.RWMutex
	clients map[string]*Client
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(engine Engine, logger *utils.Logger, opts Options) *Gateway {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 8192
	}
	return &Gateway{
		engine:         engine,
		logger:         logger,
		bufferSize:     opts.BufferSize,
		maxMessageSize: opts.MaxMessageSize,
		clients:        make(map[string]*Client),
	}
}

// SetPresence enables the presence cache.
func (g *Gateway) SetPresence(presence Presence) {
	g.presence = presence
}

// Start makes the gateway accept connections. Connections live until Stop
// or until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.running = true
}

// Stop closes every connection with a going-away close frame and waits for
// their disconnects to be processed, or for ctx to expire.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	clients := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	defer g.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d connections to close: %w", len(clients), ctx.Err())
	}
}

// Attach takes ownership of an upgraded websocket connection authenticated
// as userID, registers it with the engine and starts its pumps.
func (g *Gateway) Attach(conn *websocket.Conn, userID int64) (*Client, error) {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		conn.Close()
		return nil, ErrNotRunning
	}
	c := newClient(uuid.NewString(), userID, conn, g)
	g.clients[c.id] = c
	g.wg.Add(1)
	baseCtx := g.ctx
	g.mu.Unlock()

	ctx := c.context(baseCtx)
	if err := g.engine.Connect(ctx, c.id, userID); err != nil {
		g.mu.Lock()
		delete(g.clients, c.id)
		g.mu.Unlock()
		g.wg.Done()
		conn.Close()
		return nil, err
	}

	g.setPresence(ctx, userID, cache.StatusOnline)
	g.logger.Info(ctx, "Connection opened")

	go c.writePump(ctx)
	go c.readPump(ctx)
	return c, nil
}

// detach is the only exit path of a connection; it runs once, when the read
// pump stops.
func (g *Gateway) detach(ctx context.Context, c *Client) {
	defer g.wg.Done()

	g.engine.Disconnect(ctx, c.id)

	g.mu.Lock()
	delete(g.clients, c.id)
	stillOnline := g.hasUserLocked(c.userID)
	g.mu.Unlock()

	c.close(websocket.CloseNormalClosure, "")
	c.conn.Close()

	if !stillOnline {
		g.setPresence(context.WithoutCancel(ctx), c.userID, cache.StatusOffline)
	}
	g.logger.Info(ctx, "Connection closed")
}

func (g *Gateway) hasUserLocked(userID int64) bool {
	for _, other := range g.clients {
		if other.userID == userID {
			return true
		}
	}
	return false
}

func (g *Gateway) setPresence(ctx context.Context, userID int64, status string) {
	if g.presence == nil {
		return
	}
	if err := g.presence.SetUserPresence(ctx, userID, cache.PresenceState{Status: status, LastSeen: time.Now()}); err != nil {
		g.logger.Warn(ctx, "Failed to set presence %s: %v", status, err)
	}
}

// Deliver implements the engine's delivery contract.
func (g *Gateway) Deliver(connID string, frame models.OutboundFrame) bool {
	g.mu.RLock()
	c, ok := g.clients[connID]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	return c.enqueue(frame)
}

// ConnectionCount returns the number of attached connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

func (g *Gateway) handleFrame(ctx context.Context, c *Client, data []byte) {
	event, payload, err := decodeFrame(data)
	if err == nil {
		err = g.dispatch(ctx, c, payload)
	}
	if err == nil {
		return
	}

	code := apperr.Code(err)
	observability.RejectedOperations.WithLabelValues(event, code).Inc()
	if apperr.IsInvariantViolation(err) || code == apperr.CodeInternal {
		g.logger.Error(ctx, "Rejected %s: %v", event, err)
	} else {
		g.logger.Debug(ctx, "Rejected %s: %v", event, err)
	}
	c.enqueue(errorFrame(event, err))
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, payload any) error {
	switch p := payload.(type) {
	case *models.JoinRoomPayload:
		if err := claimedBy(p.UserID, c.userID); err != nil {
			return err
		}
		return g.engine.Join(ctx, c.id, p.RoomID, p.Since)
	case *models.LeaveRoomPayload:
		return g.engine.Leave(ctx, c.id, p.RoomID)
	case *models.SendMessagePayload:
		if err := claimedBy(p.SenderID, c.userID); err != nil {
			return err
		}
		_, err := g.engine.Send(ctx, c.id, p.RoomID, p.Message.Kind, p.Message.Content)
		return err
	default:
		return fmt.Errorf("unhandled payload %T: %w", payload, apperr.ErrInvalidEvent)
	}
}
