package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"sentinel", ErrNotAMember, CodeNotAMember},
		{"wrapped", fmt.Errorf("append: %w", ErrStorageUnavailable), CodeStorageUnavailable},
		{"double wrapped", fmt.Errorf("join: %w", fmt.Errorf("subscribe: %w", ErrNotAMember)), CodeNotAMember},
		{"user not found", fmt.Errorf("user 9: %w", ErrUserNotFound), CodeUserNotFound},
		{"unknown", errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.code, Code(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusUnauthorized, HTTPStatus(ErrUnauthenticated))
	require.Equal(t, http.StatusForbidden, HTTPStatus(fmt.Errorf("x: %w", ErrNotAMember)))
	require.Equal(t, http.StatusConflict, HTTPStatus(ErrDirectRoomImmutable))
	require.Equal(t, http.StatusBadRequest, HTTPStatus(ErrUserNotFound))
	require.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestIsInvariantViolation(t *testing.T) {
	require.True(t, IsInvariantViolation(fmt.Errorf("register: %w", ErrDuplicateConnection)))
	require.True(t, IsInvariantViolation(ErrUnknownConnection))
	require.False(t, IsInvariantViolation(ErrNotAMember))
}
