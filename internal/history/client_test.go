package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
	"github.com/dukepan/chatroom-gateway/internal/models"
	"github.com/dukepan/chatroom-gateway/internal/utils"
)

type stubStore struct {
	delay  time.Duration
	err    error
	closed bool
}

func (s *stubStore) Append(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return models.Message{}, s.err
	}
	return models.Message{RoomID: msg.RoomID, SenderID: msg.SenderID, Kind: msg.Kind, Content: msg.Content, Sequence: 1, CreatedAt: time.Now()}, nil
}

func (s *stubStore) ListSince(ctx context.Context, roomID, fromSequence int64, limit int) ([]models.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []models.Message{{RoomID: roomID, Sequence: fromSequence + 1}}, nil
}

func (s *stubStore) LastSequence(ctx context.Context, roomID int64) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return 5, nil
}

func (s *stubStore) Close() error {
	s.closed = true
	return nil
}

func TestClient_Append(t *testing.T) {
	newMsg := models.NewMessage{RoomID: 3, SenderID: 4, Kind: models.MessageKindText, Content: "hi"}

	t.Run("success", func(t *testing.T) {
		client := NewClient(&stubStore{}, time.Second, utils.NopLogger())
		msg, err := client.Append(context.Background(), newMsg)
		require.NoError(t, err)
		require.Equal(t, int64(1), msg.Sequence)
		require.Equal(t, "hi", msg.Content)
	})

	t.Run("store failure is storage unavailable", func(t *testing.T) {
		cause := errors.New("disk full")
		client := NewClient(&stubStore{err: cause}, time.Second, utils.NopLogger())
		_, err := client.Append(context.Background(), newMsg)
		require.ErrorIs(t, err, apperr.ErrStorageUnavailable)
		require.ErrorIs(t, err, cause)
		require.Equal(t, apperr.CodeStorageUnavailable, apperr.Code(err))
	})

	t.Run("timeout is storage unavailable", func(t *testing.T) {
		client := NewClient(&stubStore{delay: 200 * time.Millisecond}, 20*time.Millisecond, utils.NopLogger())
		start := time.Now()
		_, err := client.Append(context.Background(), newMsg)
		require.ErrorIs(t, err, apperr.ErrStorageUnavailable)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Less(t, time.Since(start), 150*time.Millisecond)
	})
}

func TestClient_ListSince(t *testing.T) {
	client := NewClient(&stubStore{}, time.Second, utils.NopLogger())
	msgs, err := client.ListSince(context.Background(), 5, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, int64(11), msgs[0].Sequence)

	failing := NewClient(&stubStore{err: errors.New("boom")}, time.Second, utils.NopLogger())
	_, err = failing.ListSince(context.Background(), 5, 10, 0)
	require.ErrorIs(t, err, apperr.ErrStorageUnavailable)
}

func TestClient_LastSequence(t *testing.T) {
	client := NewClient(&stubStore{}, time.Second, utils.NopLogger())
	last, err := client.LastSequence(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, int64(5), last)

	failing := NewClient(&stubStore{err: errors.New("boom")}, time.Second, utils.NopLogger())
	_, err = failing.LastSequence(context.Background(), 5)
	require.ErrorIs(t, err, apperr.ErrStorageUnavailable)
}

func TestClient_Close(t *testing.T) {
	store := &stubStore{}
	require.NoError(t, NewClient(store, time.Second, utils.NopLogger()).Close())
	require.True(t, store.closed)
}
