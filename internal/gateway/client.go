package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dukepan/chatroom-gateway/internal/contextkey"
	"github.com/dukepan/chatroom-gateway/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Client is a middleman between one websocket connection and the engine.
type Client struct {
	id      string
	userID  int64
	conn    *websocket.Conn
	gateway *Gateway

	mu          sync.Mutex
	send        chan models.OutboundFrame
	closed      bool
	closeCode   int
	closeReason string
}

func newClient(id string, userID int64, conn *websocket.Conn, g *Gateway) *Client {
	return &Client{
		id:      id,
		userID:  userID,
		conn:    conn,
		gateway: g,
		send:    make(chan models.OutboundFrame, g.bufferSize),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserID() int64 {
	return c.userID
}

// context returns ctx tagged with the connection and user for logging.
func (c *Client) context(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, contextkey.ContextKeyConnectionID, c.id)
	return context.WithValue(ctx, contextkey.ContextKeyUserID, c.userID)
}

// enqueue hands a frame to the write pump without blocking. A client whose
// buffer is full is closed: it lost frames and has to reconnect and
// backfill.
func (c *Client) enqueue(frame models.OutboundFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.closeLocked(websocket.CloseTryAgainLater, "send buffer full")
		return false
	}
}

// close stops the write pump, which sends a close frame and tears the
// connection down. Safe to call more than once.
func (c *Client) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(code, reason)
}

func (c *Client) closeLocked(code int, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

// readPump pumps messages from the websocket connection to the engine.
// A goroutine is started for each connection. The application ensures that there is at most one reader per connection by invoking this as a goroutine.
func (c *Client) readPump(ctx context.Context) {
	defer c.gateway.detach(ctx, c)

	c.conn.SetReadLimit(c.gateway.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.gateway.logger.Warn(ctx, "Unexpected websocket close: %v", err)
			}
			return
		}
		c.gateway.handleFrame(ctx, c, message)
	}
}

// writePump pumps messages from the engine to the websocket connection.
// A goroutine is started for each connection. The application ensures that there is at most one writer per connection by invoking this as a goroutine.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.Lock()
				code, reason := c.closeCode, c.closeReason
				c.mu.Unlock()
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				c.gateway.logger.Debug(ctx, "Error writing frame: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
