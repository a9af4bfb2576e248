package history

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/dukepan/chatroom-gateway/internal/models"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerStore(db)
}

func Test_Badger_Append_Assigns_Consecutive_Sequences(t *testing.T) {
	req := require.New(t)
	store := newTestBadgerStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		msg, err := store.Append(ctx, models.NewMessage{RoomID: 7, SenderID: 1, Kind: models.MessageKindText, Content: fmt.Sprintf("m%d", i)})
		req.NoError(err)
		req.Equal(int64(i), msg.Sequence)
		req.False(msg.CreatedAt.IsZero())
	}

	// Rooms have independent counters.
	other, err := store.Append(ctx, models.NewMessage{RoomID: 8, SenderID: 2, Kind: models.MessageKindImage, Content: "/files/a.png"})
	req.NoError(err)
	req.Equal(int64(1), other.Sequence)
}

func Test_Badger_ListSince(t *testing.T) {
	req := require.New(t)
	store := newTestBadgerStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := store.Append(ctx, models.NewMessage{RoomID: 1, SenderID: int64(i), Kind: models.MessageKindText, Content: fmt.Sprintf("m%d", i)})
		req.NoError(err)
	}
	_, err := store.Append(ctx, models.NewMessage{RoomID: 2, SenderID: 9, Kind: models.MessageKindText, Content: "elsewhere"})
	req.NoError(err)

	all, err := store.ListSince(ctx, 1, 0, 0)
	req.NoError(err)
	req.Len(all, 5)
	for i, m := range all {
		req.Equal(int64(i+1), m.Sequence)
		req.Equal(int64(1), m.RoomID)
		req.Equal(fmt.Sprintf("m%d", i+1), m.Content)
	}

	after, err := store.ListSince(ctx, 1, 3, 0)
	req.NoError(err)
	req.Len(after, 2)
	req.Equal(int64(4), after[0].Sequence)
	req.Equal(int64(5), after[1].Sequence)

	limited, err := store.ListSince(ctx, 1, 1, 2)
	req.NoError(err)
	req.Len(limited, 2)
	req.Equal(int64(2), limited[0].Sequence)
	req.Equal(int64(3), limited[1].Sequence)

	none, err := store.ListSince(ctx, 1, 5, 0)
	req.NoError(err)
	req.Empty(none)

	empty, err := store.ListSince(ctx, 42, 0, 0)
	req.NoError(err)
	req.Empty(empty)

	// The seek key for the largest cursor would wrap to a negative sequence.
	beyond, err := store.ListSince(ctx, 1, math.MaxInt64, 0)
	req.NoError(err)
	req.NotNil(beyond)
	req.Empty(beyond)
}

func Test_Badger_LastSequence(t *testing.T) {
	req := require.New(t)
	store := newTestBadgerStore(t)
	ctx := context.Background()

	last, err := store.LastSequence(ctx, 3)
	req.NoError(err)
	req.Zero(last)

	for i := 0; i < 4; i++ {
		_, err := store.Append(ctx, models.NewMessage{RoomID: 3, SenderID: 1, Kind: models.MessageKindText, Content: "x"})
		req.NoError(err)
	}
	last, err = store.LastSequence(ctx, 3)
	req.NoError(err)
	req.Equal(int64(4), last)
}

func Test_Badger_Concurrent_Appends_Are_Gap_Free(t *testing.T) {
	req := require.New(t)
	store := newTestBadgerStore(t)
	ctx := context.Background()

	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := store.Append(ctx, models.NewMessage{RoomID: 1, SenderID: int64(w), Kind: models.MessageKindText, Content: "x"}); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	var failed int
	for range errs {
		failed++
	}

	msgs, err := store.ListSince(ctx, 1, 0, 0)
	req.NoError(err)
	req.Len(msgs, writers*perWriter-failed)
	for i, m := range msgs {
		req.Equal(int64(i+1), m.Sequence)
	}
}
