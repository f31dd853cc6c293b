package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chatvault/internal/common"
)

const defaultBuffer = 64

// Event is one UI notification. ID is a ULID so clients can resume by order.
type Event struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// Bus fans events out to subscribers. Emit never blocks: a subscriber whose
// buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	log    zerolog.Logger
	now    func() time.Time
}

func NewBus(buffer int, log zerolog.Logger) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{subs: make(map[int]chan Event), buffer: buffer, log: log, now: time.Now}
}

func (b *Bus) Emit(kind string, payload any) {
	id, err := common.NewULID()
	if err != nil {
		b.log.Warn().Err(err).Str("kind", kind).Msg("event id")
	}
	ev := Event{ID: id, Kind: kind, At: b.now().UTC(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sid, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Debug().Int("subscriber", sid).Str("kind", kind).Msg("event dropped, subscriber is slow")
		}
	}
}

// Subscribe returns a channel of future events and a cancel func that closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	sid := b.nextID
	b.nextID++
	b.subs[sid] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sid)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
