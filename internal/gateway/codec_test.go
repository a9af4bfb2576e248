package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
	"github.com/dukepan/chatroom-gateway/internal/models"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		event   string
		want    any
		wantErr bool
	}{
		{
			name:  "join",
			raw:   `{"event":"joinRoom","data":{"roomId":42,"userId":1}}`,
			event: models.EventJoinRoom,
			want:  &models.JoinRoomPayload{RoomID: 42, UserID: 1},
		},
		{
			name:  "join with since",
			raw:   `{"event":"joinRoom","data":{"roomId":42,"since":3}}`,
			event: models.EventJoinRoom,
			want:  &models.JoinRoomPayload{RoomID: 42, Since: ptr(int64(3))},
		},
		{
			name:  "leave",
			raw:   `{"event":"leaveRoom","data":{"roomId":5}}`,
			event: models.EventLeaveRoom,
			want:  &models.LeaveRoomPayload{RoomID: 5},
		},
		{
			name:  "send",
			raw:   `{"event":"sendMessage","data":{"senderId":1,"roomId":42,"message":{"kind":"text","content":"hi"}}}`,
			event: models.EventSendMessage,
			want: &models.SendMessagePayload{
				SenderID: 1,
				RoomID:   42,
				Message:  models.MessageBody{Kind: models.MessageKindText, Content: "hi"},
			},
		},
		{name: "not json", raw: `hello`, wantErr: true},
		{name: "unknown event", raw: `{"event":"typing","data":{}}`, event: "typing", wantErr: true},
		{name: "missing data", raw: `{"event":"joinRoom"}`, event: models.EventJoinRoom, wantErr: true},
		{name: "missing room", raw: `{"event":"joinRoom","data":{"userId":1}}`, event: models.EventJoinRoom, wantErr: true},
		{name: "negative since", raw: `{"event":"joinRoom","data":{"roomId":1,"since":-1}}`, event: models.EventJoinRoom, wantErr: true},
		{name: "bad kind", raw: `{"event":"sendMessage","data":{"roomId":1,"message":{"kind":"video","content":"x"}}}`, event: models.EventSendMessage, wantErr: true},
		{name: "empty content", raw: `{"event":"sendMessage","data":{"roomId":1,"message":{"kind":"text","content":""}}}`, event: models.EventSendMessage, wantErr: true},
		{name: "wrong type", raw: `{"event":"leaveRoom","data":{"roomId":"seven"}}`, event: models.EventLeaveRoom, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, payload, err := decodeFrame([]byte(tt.raw))
			require.Equal(t, tt.event, event)
			if tt.wantErr {
				require.ErrorIs(t, err, apperr.ErrInvalidEvent)
				require.Nil(t, payload)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, payload)
		})
	}
}

func TestClaimedBy(t *testing.T) {
	require.NoError(t, claimedBy(0, 7))
	require.NoError(t, claimedBy(7, 7))
	require.ErrorIs(t, claimedBy(8, 7), apperr.ErrUnauthenticated)
}

func TestErrorFrame(t *testing.T) {
	frame := errorFrame(models.EventSendMessage, errors.Join(errors.New("room 1"), apperr.ErrNotAMember))
	require.Equal(t, models.EventError, frame.Event)
	data := frame.Data.(models.ErrorEvent)
	require.Equal(t, models.EventSendMessage, data.Event)
	require.Equal(t, apperr.CodeNotAMember, data.Code)
}

func ptr[T any](v T) *T {
	return &v
}
