package models

import (
	"time"
)

// RoomKind is fixed at room creation.
type RoomKind string

const (
	RoomKindDirect RoomKind = "direct"
	RoomKindGroup  RoomKind = "group"
)

// MessageKind describes how clients render the content payload.
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
)

// User represents a user in the chat system
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	NickName  string    `json:"nickName,omitempty"`
	Email     string    `json:"email,omitempty"`
	HeadPic   string    `json:"headPic,omitempty"`
	CreatedAt time.Time `json:"createTime"`
}

// Room represents a chat room
type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Kind      RoomKind  `json:"kind"`
	CreatedAt time.Time `json:"createTime"`
}

// Message is a persisted chat message. Sequence is assigned by the history
// store and totally orders the messages of a room, starting at 1.
type Message struct {
	RoomID    int64       `json:"roomId"`
	SenderID  int64       `json:"senderId"`
	Kind      MessageKind `json:"kind"`
	Content   string      `json:"content"`
	Sequence  int64       `json:"sequence"`
	CreatedAt time.Time   `json:"timestamp"`
}

// NewMessage is what a sender submits; the store turns it into a Message.
type NewMessage struct {
	RoomID   int64
	SenderID int64
	Kind     MessageKind
	Content  string
}

// HistoryMessage includes sender info with message
type HistoryMessage struct {
	Message
	Sender *User `json:"sender"`
}
