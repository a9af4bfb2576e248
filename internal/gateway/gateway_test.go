package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
	"github.com/dukepan/chatroom-gateway/internal/cache"
	"github.com/dukepan/chatroom-gateway/internal/history"
	"github.com/dukepan/chatroom-gateway/internal/models"
	"github.com/dukepan/chatroom-gateway/internal/rooms"
	"github.com/dukepan/chatroom-gateway/internal/utils"
)

type staticMembership map[int64][]int64

func (m staticMembership) IsMember(_ context.Context, roomID, userID int64) (bool, error) {
	for _, id := range m[roomID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m staticMembership) MembersOf(_ context.Context, roomID int64) ([]int64, error) {
	return m[roomID], nil
}

type presenceLog struct {
	mu      sync.Mutex
	updates []string
}

func (p *presenceLog) SetUserPresence(_ context.Context, userID int64, state cache.PresenceState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, strconv.FormatInt(userID, 10)+":"+state.Status)
	return nil
}

func (p *presenceLog) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.updates...)
}

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type testServer struct {
	url      string
	gateway  *Gateway
	presence *presenceLog
}

// newTestServer wires a real engine and gateway behind an httptest server.
// The user id is taken from the "user" query parameter.
func newTestServer(t *testing.T, membership staticMembership) *testServer {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hist := history.NewClient(history.NewBadgerStore(db), time.Second, utils.NopLogger())
	engine := rooms.NewEngine(membership, hist, nil, utils.NopLogger(), 50)
	gw := New(engine, utils.NopLogger(), Options{BufferSize: 32})
	engine.SetDelivery(gw)
	presence := &presenceLog{}
	gw.SetPresence(presence)
	gw.Start(context.Background())

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
		if err != nil {
			http.Error(w, "bad user", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _ = gw.Attach(conn, userID)
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Stop(ctx)
		srv.Close()
	})

	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		gateway:  gw,
		presence: presence,
	}
}

func (s *testServer) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url+"/?user="+strconv.FormatInt(userID, 10), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func next(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f wireFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func nextEvent(t *testing.T, conn *websocket.Conn) models.OutboundEvent {
	t.Helper()
	f := next(t, conn)
	require.Equal(t, models.EventMessage, f.Event, string(f.Data))
	var evt models.OutboundEvent
	require.NoError(t, json.Unmarshal(f.Data, &evt))
	return evt
}

func nextError(t *testing.T, conn *websocket.Conn) models.ErrorEvent {
	t.Helper()
	f := next(t, conn)
	require.Equal(t, models.EventError, f.Event, string(f.Data))
	var e models.ErrorEvent
	require.NoError(t, json.Unmarshal(f.Data, &e))
	return e
}

func TestGateway_DirectRoomConversation(t *testing.T) {
	srv := newTestServer(t, staticMembership{42: {1, 2}})
	alice := srv.dial(t, 1)
	bob := srv.dial(t, 2)

	send(t, alice, models.EventJoinRoom, map[string]any{"roomId": 42, "userId": 1})
	require.Equal(t, models.PresenceJoin(42, 1), nextEvent(t, alice))

	send(t, bob, models.EventJoinRoom, map[string]any{"roomId": 42})
	require.Equal(t, models.PresenceJoin(42, 2), nextEvent(t, alice))
	require.Equal(t, models.PresenceJoin(42, 2), nextEvent(t, bob))

	send(t, alice, models.EventSendMessage, map[string]any{
		"senderId": 1,
		"roomId":   42,
		"message":  map[string]any{"kind": "text", "content": "hi"},
	})
	for _, conn := range []*websocket.Conn{alice, bob} {
		evt := nextEvent(t, conn)
		require.Equal(t, models.TypeSendMessage, evt.Type)
		require.Equal(t, int64(1), evt.UserID)
		require.Equal(t, int64(42), evt.RoomID)
		require.NotNil(t, evt.Message)
		require.Equal(t, models.MessageKindText, evt.Message.Kind)
		require.Equal(t, "hi", evt.Message.Content)
		require.Equal(t, int64(1), evt.Message.Sequence)
	}

	require.NoError(t, alice.Close())
	require.Equal(t, models.PresenceLeave(42, 1), nextEvent(t, bob))

	require.Eventually(t, func() bool {
		return len(srv.presence.snapshot()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, srv.gateway.ConnectionCount())
	require.Equal(t, "1:"+cache.StatusOffline, srv.presence.snapshot()[2])
}

func TestGateway_RejectionsGoOnlyToTheInitiator(t *testing.T) {
	srv := newTestServer(t, staticMembership{42: {1, 2}})
	alice := srv.dial(t, 1)
	mallory := srv.dial(t, 3)

	send(t, alice, models.EventJoinRoom, map[string]any{"roomId": 42})
	require.Equal(t, models.PresenceJoin(42, 1), nextEvent(t, alice))

	send(t, mallory, models.EventJoinRoom, map[string]any{"roomId": 42})
	rejected := nextError(t, mallory)
	require.Equal(t, models.EventJoinRoom, rejected.Event)
	require.Equal(t, apperr.CodeNotAMember, rejected.Code)

	send(t, mallory, models.EventSendMessage, map[string]any{"roomId": 42, "message": map[string]any{"kind": "text", "content": "spam"}})
	require.Equal(t, apperr.CodeNotAMember, nextError(t, mallory).Code)

	send(t, mallory, models.EventSendMessage, map[string]any{"senderId": 1, "roomId": 42, "message": map[string]any{"kind": "text", "content": "as alice"}})
	require.Equal(t, apperr.CodeUnauthenticated, nextError(t, mallory).Code)

	require.NoError(t, mallory.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.Equal(t, apperr.CodeInvalidEvent, nextError(t, mallory).Code)

	// The only thing alice sees next is her own message.
	send(t, alice, models.EventSendMessage, map[string]any{"roomId": 42, "message": map[string]any{"kind": "text", "content": "ok"}})
	evt := nextEvent(t, alice)
	require.Equal(t, "ok", evt.Message.Content)
	require.Equal(t, int64(1), evt.Message.Sequence)
}

func TestGateway_JoinWithBackfill(t *testing.T) {
	srv := newTestServer(t, staticMembership{7: {1, 2}})
	alice := srv.dial(t, 1)

	send(t, alice, models.EventJoinRoom, map[string]any{"roomId": 7})
	nextEvent(t, alice)
	for _, content := range []string{"one", "two", "three"} {
		send(t, alice, models.EventSendMessage, map[string]any{"roomId": 7, "message": map[string]any{"kind": "text", "content": content}})
		nextEvent(t, alice)
	}

	bob := srv.dial(t, 2)
	send(t, bob, models.EventJoinRoom, map[string]any{"roomId": 7, "since": 1})

	f := next(t, bob)
	require.Equal(t, models.EventHistory, f.Event)
	var backlog models.HistoryEvent
	require.NoError(t, json.Unmarshal(f.Data, &backlog))
	require.Len(t, backlog.Messages, 2)
	require.Equal(t, "two", backlog.Messages[0].Content)
	require.Equal(t, int64(3), backlog.Messages[1].Sequence)

	require.Equal(t, models.PresenceJoin(7, 2), nextEvent(t, bob))
}

func TestGateway_LeaveRoom(t *testing.T) {
	srv := newTestServer(t, staticMembership{7: {1, 2}})
	alice := srv.dial(t, 1)
	bob := srv.dial(t, 2)

	send(t, alice, models.EventJoinRoom, map[string]any{"roomId": 7})
	nextEvent(t, alice)
	send(t, bob, models.EventJoinRoom, map[string]any{"roomId": 7})
	nextEvent(t, alice)
	nextEvent(t, bob)

	send(t, bob, models.EventLeaveRoom, map[string]any{"roomId": 7})
	require.Equal(t, models.PresenceLeave(7, 2), nextEvent(t, alice))

	send(t, alice, models.EventSendMessage, map[string]any{"roomId": 7, "message": map[string]any{"kind": "text", "content": "alone"}})
	require.Equal(t, "alone", nextEvent(t, alice).Message.Content)

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	require.Error(t, err)
}

func TestGateway_StopClosesConnections(t *testing.T) {
	srv := newTestServer(t, staticMembership{})
	conn := srv.dial(t, 1)
	require.Eventually(t, func() bool {
		return srv.gateway.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.gateway.Stop(ctx))
	require.Zero(t, srv.gateway.ConnectionCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestClient_FullBufferEvicts(t *testing.T) {
	g := New(nil, utils.NopLogger(), Options{BufferSize: 1})
	c := newClient("c1", 1, nil, g)
	g.clients[c.id] = c

	frame := models.PresenceJoin(1, 1).Frame()
	require.True(t, g.Deliver("c1", frame))
	require.False(t, g.Deliver("c1", frame))
	require.True(t, c.closed)
	require.Equal(t, websocket.CloseTryAgainLater, c.closeCode)
	require.False(t, g.Deliver("c1", frame))
	require.False(t, g.Deliver("unknown", frame))
}
