package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by notifyd components.
const (
	TypeQueued     = "dispatch.queued"
	TypeDeduped    = "dispatch.deduped"
	TypeDropped    = "dispatch.dropped"
	TypePublished  = "dispatch.published"
	TypeFailed     = "dispatch.failed"
	TypeHandled    = "handler.handled"
	TypeHandlerErr = "handler.failed"
	TypeForwarded  = "sink.forwarded"
)

// Event is a small in-memory signal about what the daemon is doing.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a full buffer drops the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Counter is implemented by buses that track dropped deliveries.
type Counter interface {
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// offer delivers without blocking. It holds the subscriber lock so a
// concurrent unsubscribe can't close the channel mid-send.
func (s *subscriber) offer(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.offer(e) {
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			s.close()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
