package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
	"github.com/dukepan/chatroom-gateway/internal/models"
	"github.com/dukepan/chatroom-gateway/internal/utils"
)

// RoomInfo is a room together with its member ids.
type RoomInfo struct {
	models.Room
	UserIDs []int64 `json:"userIds"`
}

// CreateDirectRoomHandler opens a one-to-one room with friendId.
func (r *Router) CreateDirectRoomHandler(w http.ResponseWriter, req *http.Request) {
	friendID, err := queryID(req, "friendId")
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	room, err := r.Rooms.CreateDirectRoom(req.Context(), userIDFrom(req.Context()), friendID)
	if err != nil {
		r.fail(req.Context(), w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, room)
}

// CreateGroupRoomHandler creates a group room with the caller as its first member.
func (r *Router) CreateGroupRoomHandler(w http.ResponseWriter, req *http.Request) {
	name := strings.TrimSpace(req.URL.Query().Get("name"))
	if name == "" {
		utils.RespondError(w, http.StatusBadRequest, "name is required")
		return
	}

	room, err := r.Rooms.CreateGroupRoom(req.Context(), name, userIDFrom(req.Context()))
	if err != nil {
		r.fail(req.Context(), w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, room)
}

// ListRoomsHandler retrieves all rooms of the caller
func (r *Router) ListRoomsHandler(w http.ResponseWriter, req *http.Request) {
	rooms, err := r.Rooms.GetRoomsByUser(req.Context(), userIDFrom(req.Context()))
	if err != nil {
		r.fail(req.Context(), w, err)
		return
	}
	if rooms == nil {
		rooms = make([]models.Room, 0)
	}
	utils.RespondJSON(w, http.StatusOK, rooms)
}

// RoomInfoHandler retrieves a single room and its member ids.
func (r *Router) RoomInfoHandler(w http.ResponseWriter, req *http.Request) {
	roomID, err := pathID(req)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	if err := r.requireMember(req.Context(), roomID, userIDFrom(req.Context())); err != nil {
		r.fail(req.Context(), w, err)
		return
	}

	room, err := r.Rooms.GetRoomByID(req.Context(), roomID)
	if err != nil {
		r.fail(req.Context(), w, err)
		return
	}
	members, err := r.Rooms.MembersOf(req.Context(), roomID)
	if err != nil {
		r.fail(req.Context(), w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, RoomInfo{Room: *room, UserIDs: members})
}

// ListHistoryHandler returns the full history of a room, oldest first, with
// the sender of every message resolved in one batched lookup.
func (r *Router) ListHistoryHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	roomID, err := queryID(req, "chatroomId")
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	if err := r.requireMember(ctx, roomID, userIDFrom(ctx)); err != nil {
		r.fail(ctx, w, err)
		return
	}

	messages, err := r.History.ListSince(ctx, roomID, 0, 0)
	if err != nil {
		r.fail(ctx, w, err)
		return
	}

	senderIDs := lo.Uniq(lo.Map(messages, func(m models.Message, _ int) int64 { return m.SenderID }))
	users, err := r.Rooms.GetUsersByIDs(ctx, senderIDs)
	if err != nil {
		r.fail(ctx, w, err)
		return
	}
	byID := lo.KeyBy(users, func(u models.User) int64 { return u.ID })

	out := make([]models.HistoryMessage, len(messages))
	for i, m := range messages {
		out[i] = models.HistoryMessage{Message: m}
		if u, ok := byID[m.SenderID]; ok {
			out[i].Sender = &u
		}
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

// requireMember fails with NotAMember unless userID belongs to roomID.
func (r *Router) requireMember(ctx context.Context, roomID, userID int64) error {
	ok, err := r.Rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("membership.IsMember: %w: %w", apperr.ErrStorageUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("user %d in room %d: %w", userID, roomID, apperr.ErrNotAMember)
	}
	return nil
}
