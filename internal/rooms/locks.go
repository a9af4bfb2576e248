package rooms

import "sync"

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// roomLocks serializes Join, Send and Leave per room while letting different
// rooms proceed concurrently. Entries are released once no goroutine holds or
// waits on them.
type roomLocks struct {
	mu    sync.Mutex
	locks map[int64]*roomLock
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[int64]*roomLock)}
}

func (l *roomLocks) lock(roomID int64) {
	l.mu.Lock()
	rl, ok := l.locks[roomID]
	if !ok {
		rl = &roomLock{}
		l.locks[roomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
}

func (l *roomLocks) unlock(roomID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl, ok := l.locks[roomID]
	if !ok {
		panic("rooms: unlock of unlocked room")
	}
	rl.mu.Unlock()
	rl.refs--
	if rl.refs == 0 {
		delete(l.locks, roomID)
	}
}

// withRoom runs fn while holding the lock of roomID.
func (l *roomLocks) withRoom(roomID int64, fn func() error) error {
	l.lock(roomID)
	defer l.unlock(roomID)
	return fn()
}
