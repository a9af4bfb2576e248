package api

import (
	"net/http"

	"github.com/dukepan/chatroom-gateway/internal/cache"
	"github.com/dukepan/chatroom-gateway/internal/models"
	"github.com/dukepan/chatroom-gateway/internal/utils"
)

// Member is a room member with their last known presence.
type Member struct {
	models.User
	Presence *cache.PresenceState `json:"presence,omitempty"`
}

// ListMembersHandler lists the members of a room with one user lookup and
// one presence lookup.
func (r *Router) ListMembersHandler(w http.ResponseWriter, req *http.Request) {
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

	ids, err := r.Rooms.MembersOf(ctx, roomID)
	if err != nil {
		r.fail(ctx, w, err)
		return
	}
	users, err := r.Rooms.GetUsersByIDs(ctx, ids)
	if err != nil {
		r.fail(ctx, w, err)
		return
	}

	var presences map[int64]cache.PresenceState
	if r.Presence != nil {
		presences, err = r.Presence.GetPresences(ctx, ids)
		if err != nil {
			// Presence is decoration; the member list is still correct without it.
			r.Logger.Warn(ctx, "Failed to load presences for room %d: %v", roomID, err)
		}
	}

	members := make([]Member, len(users))
	for i, u := range users {
		members[i] = Member{User: u}
		if p, ok := presences[u.ID]; ok {
			members[i].Presence = &p
		}
	}
	utils.RespondJSON(w, http.StatusOK, members)
}

// JoinRoomHandler adds joinUserId to a group room. The caller must already
// be a member.
func (r *Router) JoinRoomHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	roomID, err := pathID(req)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	target, err := queryID(req, "joinUserId")
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	if err := r.requireMember(ctx, roomID, userIDFrom(ctx)); err != nil {
		r.fail(ctx, w, err)
		return
	}

	if err := r.Rooms.AddMember(ctx, roomID, target); err != nil {
		r.fail(ctx, w, err)
		return
	}
	r.Logger.Info(ctx, "User %d added to room %d", target, roomID)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "joined"})
}

// QuitRoomHandler durably removes quitUserId from a group room and drops their live subscriptions on every node.
func (r *Router) QuitRoomHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	roomID, err := pathID(req)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	target, err := queryID(req, "quitUserId")
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	if err := r.requireMember(ctx, roomID, userIDFrom(ctx)); err != nil {
		r.fail(ctx, w, err)
		return
	}

	if err := r.Rooms.RemoveMember(ctx, roomID, target); err != nil {
		r.fail(ctx, w, err)
		return
	}
	r.Engine.DropMember(ctx, roomID, target)
	r.Logger.Info(ctx, "User %d removed from room %d", target, roomID)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "quit"})
}
