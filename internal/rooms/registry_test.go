package rooms

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("c1", 10))
	require.ErrorIs(t, r.Register("c1", 11), apperr.ErrDuplicateConnection)

	userID, err := r.UserIDOf("c1")
	require.NoError(t, err)
	require.Equal(t, int64(10), userID)

	_, err = r.UserIDOf("missing")
	require.ErrorIs(t, err, apperr.ErrUnknownConnection)
	require.Equal(t, 1, r.Len())
}

func TestRegistry_UnregisterReturnsRooms(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("c1", 10))
	require.NoError(t, r.addRoom("c1", 1))
	require.NoError(t, r.addRoom("c1", 2))
	r.removeRoom("c1", 1)

	rooms, err := r.roomsOf("c1")
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{2}, rooms)

	require.ElementsMatch(t, []int64{2}, r.Unregister("c1"))
	require.Nil(t, r.Unregister("c1"))
	require.Zero(t, r.Len())

	require.ErrorIs(t, r.addRoom("c1", 3), apperr.ErrUnknownConnection)
}
