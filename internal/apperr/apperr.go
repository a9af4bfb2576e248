// Package apperr declares the error taxonomy shared by the gateway, the
// broadcast engine and the REST handlers.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrNotAMember          = errors.New("not a member of the room")
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrDirectRoomImmutable = errors.New("direct room membership cannot change")
	ErrRoomNotFound        = errors.New("room not found")
	ErrInvalidEvent        = errors.New("invalid event")
	ErrUserNotFound        = errors.New("user not found")
)

// Wire codes sent to clients in error events.
const (
	CodeUnauthenticated     = "Unauthenticated"
	CodeNotAMember          = "NotAMember"
	CodeUnknownConnection   = "UnknownConnection"
	CodeDuplicateConnection = "DuplicateConnection"
	CodeStorageUnavailable  = "StorageUnavailable"
	CodeDirectRoomImmutable = "DirectRoomImmutable"
	CodeRoomNotFound        = "RoomNotFound"
	CodeInvalidEvent        = "InvalidEvent"
	CodeUserNotFound        = "UserNotFound"
	CodeInternal            = "Internal"
)

var codes = []struct {
	err    error
	code   string
	status int
}{
	{ErrUnauthenticated, CodeUnauthenticated, http.StatusUnauthorized},
	{ErrNotAMember, CodeNotAMember, http.StatusForbidden},
	{ErrUnknownConnection, CodeUnknownConnection, http.StatusInternalServerError},
	{ErrDuplicateConnection, CodeDuplicateConnection, http.StatusInternalServerError},
	{ErrStorageUnavailable, CodeStorageUnavailable, http.StatusServiceUnavailable},
	{ErrDirectRoomImmutable, CodeDirectRoomImmutable, http.StatusConflict},
	{ErrRoomNotFound, CodeRoomNotFound, http.StatusNotFound},
	{ErrInvalidEvent, CodeInvalidEvent, http.StatusBadRequest},
	{ErrUserNotFound, CodeUserNotFound, http.StatusBadRequest},
}

// Code returns the wire code for err, or CodeInternal when err is not part of
// the taxonomy.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// HTTPStatus maps err to the status code REST handlers respond with.
func HTTPStatus(err error) int {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.status
		}
	}
	return http.StatusInternalServerError
}

// IsInvariantViolation reports whether err signals a registry bug rather than
// a client mistake.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrUnknownConnection) || errors.Is(err, ErrDuplicateConnection)
}
