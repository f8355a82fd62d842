package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight in-memory signal used to decouple components
// (reaper, display, ingestion) from operational observers.
//
// Contract:
//   - Publish never blocks.
//   - Subscriber channels are buffered; slow subscribers lose events.
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Event types published across beacon.
const (
	TypeDisplayOpened  = "display.opened"
	TypeDisplayClosed  = "display.closed"
	TypeTaskReaped     = "task.reaped"
	TypeClientReaped   = "client.reaped"
	TypeResourceReady  = "resource.ready"
	TypeMessagePosted  = "message.posted"
	TypeMessageDeduped = "message.deduped"
	TypeSweepCompleted = "sweep.completed"
)

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no background
// goroutines.
func New() Bus {
	return &fanout{subs: map[uint64]chan Event{}}
}

type fanout struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; drop on a full buffer. If a subscriber
		// unsubscribes concurrently and the channel closes, recover from
		// the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
