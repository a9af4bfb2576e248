package models

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventSendMessage = "sendMessage"
)

// Outbound event names.
const (
	EventMessage = "message"
	EventHistory = "history"
	EventError   = "error"
)

// Values of OutboundEvent.Type.
const (
	TypeJoinRoom    = "joinRoom"
	TypeLeave       = "leave"
	TypeSendMessage = "sendMessage"
)

// InboundFrame is a raw websocket frame before its payload is decoded.
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type JoinRoomPayload struct {
	RoomID int64 `json:"roomId" validate:"required,gt=0"`
	UserID int64 `json:"userId" validate:"gte=0"`
	// Since requests a backfill of every message after this sequence.
	Since *int64 `json:"since,omitempty" validate:"omitempty,gte=0"`
}

type LeaveRoomPayload struct {
	RoomID int64 `json:"roomId" validate:"required,gt=0"`
}

type MessageBody struct {
	Kind    MessageKind `json:"kind" validate:"required,oneof=text image"`
	Content string      `json:"content" validate:"required,max=4096"`
}

type SendMessagePayload struct {
	SenderID int64       `json:"senderId" validate:"gte=0"`
	RoomID   int64       `json:"roomId" validate:"required,gt=0"`
	Message  MessageBody `json:"message"`
}

// OutboundMessage is the message body carried by sendMessage and history events.
type OutboundMessage struct {
	SenderID  int64       `json:"senderId,omitempty"`
	Kind      MessageKind `json:"kind"`
	Content   string      `json:"content"`
	Sequence  int64       `json:"sequence"`
	Timestamp time.Time   `json:"timestamp"`
}

// OutboundEvent is the payload of a "message" frame fanned out to a room.
type OutboundEvent struct {
	Type    string           `json:"type"`
	UserID  int64            `json:"userId"`
	RoomID  int64            `json:"roomId"`
	Message *OutboundMessage `json:"message,omitempty"`
}

// HistoryEvent is delivered only to a joining connection that asked for backfill.
type HistoryEvent struct {
	RoomID   int64             `json:"roomId"`
	Messages []OutboundMessage `json:"messages"`
}

// ErrorEvent reports a rejected operation to the initiating connection only.
type ErrorEvent struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OutboundFrame is what is written on the wire.
type OutboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func PresenceJoin(roomID, userID int64) OutboundEvent {
	return OutboundEvent{Type: TypeJoinRoom, UserID: userID, RoomID: roomID}
}

func PresenceLeave(roomID, userID int64) OutboundEvent {
	return OutboundEvent{Type: TypeLeave, UserID: userID, RoomID: roomID}
}

// MessageSent builds the fan-out event for a persisted message.
func MessageSent(msg Message) OutboundEvent {
	out := ToOutboundMessage(msg)
	out.SenderID = 0
	return OutboundEvent{
		Type:    TypeSendMessage,
		UserID:  msg.SenderID,
		RoomID:  msg.RoomID,
		Message: &out,
	}
}

func ToOutboundMessage(msg Message) OutboundMessage {
	return OutboundMessage{
		SenderID:  msg.SenderID,
		Kind:      msg.Kind,
		Content:   msg.Content,
		Sequence:  msg.Sequence,
		Timestamp: msg.CreatedAt,
	}
}

// Frame wraps an outbound event into a "message" frame.
func (e OutboundEvent) Frame() OutboundFrame {
	return OutboundFrame{Event: EventMessage, Data: e}
}
