package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
	"github.com/dukepan/chatroom-gateway/internal/models"
)

var validate = validator.New()

// decodeFrame parses a raw websocket frame into its event name and a
// validated payload: *models.JoinRoomPayload, *models.LeaveRoomPayload or
// *models.SendMessagePayload. The event name is returned even when the
// payload is rejected so the error can be attributed.
func decodeFrame(data []byte) (string, any, error) {
	var frame models.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", nil, fmt.Errorf("malformed frame: %w: %w", apperr.ErrInvalidEvent, err)
	}

	var payload any
	switch frame.Event {
	case models.EventJoinRoom:
		payload = &models.JoinRoomPayload{}
	case models.EventLeaveRoom:
		payload = &models.LeaveRoomPayload{}
	case models.EventSendMessage:
		payload = &models.SendMessagePayload{}
	default:
		return frame.Event, nil, fmt.Errorf("unknown event %q: %w", frame.Event, apperr.ErrInvalidEvent)
	}

	if len(frame.Data) == 0 {
		return frame.Event, nil, fmt.Errorf("%s without data: %w", frame.Event, apperr.ErrInvalidEvent)
	}
	if err := json.Unmarshal(frame.Data, payload); err != nil {
		return frame.Event, nil, fmt.Errorf("malformed %s data: %w: %w", frame.Event, apperr.ErrInvalidEvent, err)
	}
	if err := validate.Struct(payload); err != nil {
		return frame.Event, nil, fmt.Errorf("invalid %s data: %w: %w", frame.Event, apperr.ErrInvalidEvent, err)
	}
	return frame.Event, payload, nil
}

// claimedBy checks an optional user id carried in a payload against the
// authenticated user of the connection.
func claimedBy(claimed, authenticated int64) error {
	if claimed != 0 && claimed != authenticated {
		return fmt.Errorf("payload claims user %d on a connection of user %d: %w", claimed, authenticated, apperr.ErrUnauthenticated)
	}
	return nil
}

func errorFrame(event string, err error) models.OutboundFrame {
	return models.OutboundFrame{
		Event: models.EventError,
		Data: models.ErrorEvent{
			Event:   event,
			Code:    apperr.Code(err),
			Message: err.Error(),
		},
	}
}
