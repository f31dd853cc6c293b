package chat

import (
	"context"
	"strconv"
	"sync"
)

// Guard admits at most one holder per key. TryAcquire never blocks; ok is
// false when the key is already held. release must be called exactly once.
type Guard interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
	Held(ctx context.Context, key string) (bool, error)
}

// LocalGuard is an in-process Guard.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]struct{})}
}

func (g *LocalGuard) TryAcquire(_ context.Context, key string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return nil, false, nil
	}
	g.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, true, nil
}

func (g *LocalGuard) Held(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.held[key]
	return busy, nil
}

// FlightKey names the single-flight slot of a conversation: the chat id
// once saved, otherwise the client's draft id.
func FlightKey(chatID int64, draftID string) string {
	if chatID > 0 {
		return "chat:" + strconv.FormatInt(chatID, 10)
	}
	return "draft:" + draftID
}

// chatLocks serializes writes to one chat.
type chatLocks struct {
	mu    sync.Mutex
	locks map[int64]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[int64]*chatLock)}
}

func (l *chatLocks) lock(chatID int64) func() {
	l.mu.Lock()
	cl, ok := l.locks[chatID]
	if !ok {
		cl = &chatLock{}
		l.locks[chatID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, chatID)
		}
		l.mu.Unlock()
	}
}
