package query

import (
	"sync"

	"github.com/kailas-cloud/stquery/internal/domain/event"
)

const (
	defaultSubscriberBuffer = 256
	defaultHistoryLimit     = 1024
	defaultFinishedLimit    = 128
)

// Bus fans query events out to subscribers. Late subscribers get the
// retained history first. Delivery never blocks the publisher: a subscriber
// whose buffer is full misses events.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	subs     map[string]map[int]chan event.Event
	history  map[string][]event.Event
	finished []string
	done     map[string]bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string]map[int]chan event.Event),
		history: make(map[string][]event.Event),
		done:    make(map[string]bool),
	}
}

// Emit implements event.Sink.
func (b *Bus) Emit(e event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h := b.history[e.QueryID]; len(h) < defaultHistoryLimit {
		b.history[e.QueryID] = append(h, e)
	}
	for _, ch := range b.subs[e.QueryID] {
		select {
		case ch <- e:
		default:
		}
	}

	if e.Kind == event.KindQueryCompleted || e.Kind == event.KindQueryFailed {
		b.finish(e.QueryID)
	}
}

func (b *Bus) finish(id string) {
	for sid, ch := range b.subs[id] {
		close(ch)
		delete(b.subs[id], sid)
	}
	delete(b.subs, id)
	if b.done[id] {
		return
	}
	b.done[id] = true
	b.finished = append(b.finished, id)
	for len(b.finished) > defaultFinishedLimit {
		old := b.finished[0]
		b.finished = b.finished[1:]
		delete(b.history, old)
		delete(b.done, old)
	}
}

// Subscribe streams events of one query. The channel is closed when the
// query finishes or unsubscribe is called.
func (b *Bus) Subscribe(queryID string) (<-chan event.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	history := b.history[queryID]
	ch := make(chan event.Event, len(history)+defaultSubscriberBuffer)
	for _, e := range history {
		ch <- e
	}
	if b.done[queryID] {
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	id := b.nextID
	if b.subs[queryID] == nil {
		b.subs[queryID] = make(map[int]chan event.Event)
	}
	b.subs[queryID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[queryID][id]; ok {
				close(sub)
				delete(b.subs[queryID], id)
			}
		})
	}
}
