package query

import (
	"testing"

	"github.com/kailas-cloud/stquery/internal/domain/event"
)

func drain(ch <-chan event.Event) []event.Event {
	var out []event.Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestBus_LiveDelivery(t *testing.T) {
	b := NewBus()
	ch, unsubscribe := b.Subscribe("q1")
	defer unsubscribe()

	b.Emit(event.Event{QueryID: "q1", Kind: event.KindQueryStarted})
	b.Emit(event.Event{QueryID: "q2", Kind: event.KindQueryStarted})

	got := drain(ch)
	if len(got) != 1 || got[0].QueryID != "q1" {
		t.Errorf("expected one q1 event, got %+v", got)
	}
}

func TestBus_ReplayAndCloseAfterFinish(t *testing.T) {
	b := NewBus()
	b.Emit(event.Event{QueryID: "q1", Kind: event.KindQueryCreated})
	b.Emit(event.Event{QueryID: "q1", Kind: event.KindQueryCompleted})

	ch, _ := b.Subscribe("q1")
	var got []event.Event
	for e := range ch {
		got = append(got, e)
	}
	if len(got) != 2 || got[1].Kind != event.KindQueryCompleted {
		t.Errorf("expected replayed history, got %+v", got)
	}
}

func TestBus_TerminalEventClosesSubscribers(t *testing.T) {
	b := NewBus()
	ch, unsubscribe := b.Subscribe("q1")
	b.Emit(event.Event{QueryID: "q1", Kind: event.KindQueryFailed})

	n := 0
	for range ch {
		n++
	}
	if n != 1 {
		t.Errorf("expected 1 event before close, got %d", n)
	}
	unsubscribe() // no double close
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	ch, unsubscribe := b.Subscribe("q1")
	unsubscribe()
	b.Emit(event.Event{QueryID: "q1", Kind: event.KindQueryStarted})

	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
}

func TestBus_EvictsOldFinishedQueries(t *testing.T) {
	b := NewBus()
	for i := range defaultFinishedLimit + 1 {
		id := string(rune('a'+i%26)) + string(rune('0'+i/26))
		b.Emit(event.Event{QueryID: id, Kind: event.KindQueryCompleted})
	}
	if len(b.history) != defaultFinishedLimit {
		t.Errorf("expected %d retained histories, got %d", defaultFinishedLimit, len(b.history))
	}
}
