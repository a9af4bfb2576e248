package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dukepan/chatroom-gateway/internal/auth"
	"github.com/dukepan/chatroom-gateway/internal/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the web client's origin once it is configurable.
		return true
	},
}

// WebSocketHandler authenticates the caller and hands the upgraded
// connection to the gateway. Rooms are joined over the socket.
func (r *Router) WebSocketHandler(w http.ResponseWriter, req *http.Request) {
	ctx, span := otel.Tracer("websocket-server").Start(req.Context(), "WebSocketConnection")
	defer span.End()

	token := req.URL.Query().Get("token")
	if token == "" {
		token, _ = auth.ExtractTokenFromHeader(req.Header.Get("Authorization"))
	}
	if token == "" {
		span.SetStatus(codes.Error, "Missing token")
		utils.RespondError(w, http.StatusUnauthorized, "Missing token")
		return
	}

	userID, err := r.Auth.Verify(token)
	if err != nil {
		span.SetStatus(codes.Error, "Invalid token")
		utils.RespondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	span.SetAttributes(attribute.Int64("user.id", userID))

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		span.SetStatus(codes.Error, err.Error())
		return
	}

	if _, err := r.Gateway.Attach(conn, userID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.Logger.Warn(ctx, "Failed to attach websocket for user %d: %v", userID, err)
		return
	}
	span.SetStatus(codes.Ok, "WebSocket connection established")
}
