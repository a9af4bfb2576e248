package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukepan/chatroom-gateway/internal/auth"
	"github.com/dukepan/chatroom-gateway/internal/cache"
	"github.com/dukepan/chatroom-gateway/internal/contextkey"
	"github.com/dukepan/chatroom-gateway/internal/filestore"
	"github.com/dukepan/chatroom-gateway/internal/gateway"
	"github.com/dukepan/chatroom-gateway/internal/middleware"
	"github.com/dukepan/chatroom-gateway/internal/models"
	"github.com/dukepan/chatroom-gateway/internal/utils"
)

// RoomStore is the durable room and membership collaborator. Implemented by
// *db.Database.
type RoomStore interface {
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)
	MembersOf(ctx context.Context, roomID int64) ([]int64, error)
	AddMember(ctx context.Context, roomID, userID int64) error
	RemoveMember(ctx context.Context, roomID, userID int64) error
	GetRoomByID(ctx context.Context, roomID int64) (*models.Room, error)
	GetRoomsByUser(ctx context.Context, userID int64) ([]models.Room, error)
	CreateDirectRoom(ctx context.Context, userID, friendID int64) (*models.Room, error)
	CreateGroupRoom(ctx context.Context, name string, userID int64) (*models.Room, error)
	GetUsersByIDs(ctx context.Context, userIDs []int64) ([]models.User, error)
}

type HistoryReader interface {
	ListSince(ctx context.Context, roomID, fromSequence int64, limit int) ([]models.Message, error)
}

// MemberDropper tells the broadcast engine a user was durably removed.
type MemberDropper interface {
	DropMember(ctx context.Context, roomID, userID int64)
}

type Authenticator interface {
	Verify(token string) (int64, error)
}

type ConnectionAttacher interface {
	Attach(conn *websocket.Conn, userID int64) (*gateway.Client, error)
}

type PresenceReader interface {
	GetPresences(ctx context.Context, userIDs []int64) (map[int64]cache.PresenceState, error)
}

type ImageStore interface {
	SaveImage(r io.Reader) (*filestore.StoredFile, error)
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies wires the router. Presence, RateLimiter and Files are optional.
type Dependencies struct {
	Rooms       RoomStore
	History     HistoryReader
	Engine      MemberDropper
	Gateway     ConnectionAttacher
	Auth        Authenticator
	Presence    PresenceReader
	Files       ImageStore
	RateLimiter *middleware.RateLimiter
	Health      map[string]HealthChecker
	Logger      *utils.Logger

	FileStoragePath string
	BaseFileURL     string
}

type Router struct {
	mux *http.ServeMux
	Dependencies
}

// NewRouter creates a new HTTP router with configured handlers and middleware
func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = utils.NopLogger()
	}
	r := &Router{
		mux:          http.NewServeMux(),
		Dependencies: deps,
	}

	// Public endpoints
	r.mux.HandleFunc("GET /healthz", r.HealthzHandler)
	r.mux.Handle("GET /metrics", promhttp.Handler()) // Prometheus metrics endpoint
	if base := strings.TrimSuffix(deps.BaseFileURL, "/"); base != "" && deps.FileStoragePath != "" {
		// Serve uploaded images from local storage
		r.mux.Handle("GET "+base+"/", http.StripPrefix(base, http.FileServer(http.Dir(deps.FileStoragePath))))
	}

	// The websocket authenticates itself; the token may travel in the query string.
	r.mux.HandleFunc("GET /ws", r.WebSocketHandler)

	// Protected endpoints with AuthMiddleware and RateLimiter
	r.mux.Handle("GET /chat-history/list", r.protected(r.ListHistoryHandler))
	r.mux.Handle("GET /chatroom/create-one-to-one", r.protected(r.CreateDirectRoomHandler))
	r.mux.Handle("GET /chatroom/create-group", r.protected(r.CreateGroupRoomHandler))
	r.mux.Handle("GET /chatroom/list", r.protected(r.ListRoomsHandler))
	r.mux.Handle("GET /chatroom/members", r.protected(r.ListMembersHandler))
	r.mux.Handle("GET /chatroom/info/{id}", r.protected(r.RoomInfoHandler))
	r.mux.Handle("GET /chatroom/join/{id}", r.protected(r.JoinRoomHandler))
	r.mux.Handle("GET /chatroom/quit/{id}", r.protected(r.QuitRoomHandler))
	r.mux.Handle("POST /files/upload", r.protected(r.UploadFileHandler))

	// Request ID runs first so the tracing span and every log line can see it.
	var handler http.Handler = r.mux
	handler = middleware.TracingMiddleware(handler)
	handler = middleware.RequestIDMiddleware(handler)
	return handler
}

func (r *Router) protected(h http.HandlerFunc) http.Handler {
	var next http.Handler = h
	if r.RateLimiter != nil {
		next = r.RateLimiter.Middleware(next)
	}
	return r.AuthMiddleware(next)
}

// AuthMiddleware validates the bearer token and stores the user ID in the context
func (r *Router) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tokenString, err := auth.ExtractTokenFromHeader(req.Header.Get("Authorization"))
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, "Authorization token required")
			return
		}

		userID, err := r.Auth.Verify(tokenString)
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(req.Context(), contextkey.ContextKeyUserID, userID)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}
