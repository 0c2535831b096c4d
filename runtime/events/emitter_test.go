package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEmitterPublishesSharedContext(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	defer bus.Close()
	emitter := NewEmitter(bus, "session-1", "turn-1")

	var got *Event
	var wg sync.WaitGroup
	wg.Add(1)

	bus.Subscribe(EventTopicSwitched, func(e *Event) {
		got = e
		wg.Done()
	})

	emitter.TopicSwitched("products", "orders", 0.83, 1)

	if !waitForWG(&wg, 200*time.Millisecond) {
		t.Fatal("timed out waiting for topic switched event")
	}

	if got.SessionID != "session-1" || got.TurnID != "turn-1" || got.Timestamp.IsZero() {
		t.Fatalf("unexpected context: %+v", got)
	}

	data, ok := got.Data.(TopicSwitchedData)
	if !ok {
		t.Fatalf("unexpected data type: %T", got.Data)
	}
	if data.From != "products" || data.To != "orders" || data.SwitchCount != 1 {
		t.Fatalf("unexpected switch data: %+v", data)
	}
}

func TestEmitterPublishesVariousEvents(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(WithWorkerPoolSize(1))
	emitter := NewEmitter(bus, "session-2", "turn-2")

	var seen []EventType
	var mu sync.Mutex

	bus.SubscribeAll(func(e *Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	emitter.TurnStarted(10)
	emitter.ReferenceResolved(ReferenceResolvedData{Applied: true, EntityID: "sony"})
	emitter.TopicClassified(TopicClassifiedData{Topic: "products", Confidence: 0.8})
	emitter.EntitiesTracked(1, 0, 0, 0)
	emitter.PersistenceConflict(1)
	emitter.ContextPersisted(2, 2, time.Millisecond)
	emitter.PersistenceFailed(errors.New("down"), 3)
	emitter.TurnFailed("tools", errors.New("boom"), time.Millisecond)
	emitter.TurnCompleted("products", []string{"search_products"}, time.Millisecond, 2, true)

	// Close drains the queue; a single worker preserves publish order.
	bus.Close()

	want := []EventType{
		EventTurnStarted,
		EventReferenceResolved,
		EventTopicClassified,
		EventEntitiesTracked,
		EventPersistenceConflict,
		EventContextPersisted,
		EventPersistenceFailed,
		EventTurnFailed,
		EventTurnCompleted,
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(seen), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestEmitterErrorPayloads(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(WithWorkerPoolSize(1))
	emitter := NewEmitter(bus, "s", "t")

	var failed TurnFailedData
	var persist PersistenceFailedData
	bus.Subscribe(EventTurnFailed, func(e *Event) { failed = e.Data.(TurnFailedData) })
	bus.Subscribe(EventPersistenceFailed, func(e *Event) { persist = e.Data.(PersistenceFailedData) })

	emitter.TurnFailed("resolve", nil, 0)
	emitter.PersistenceFailed(errors.New("redis down"), 4)
	bus.Close()

	if failed.Stage != "resolve" || failed.Error != "" {
		t.Fatalf("unexpected turn failed data: %+v", failed)
	}
	if persist.Error != "redis down" || persist.Attempts != 4 {
		t.Fatalf("unexpected persistence failed data: %+v", persist)
	}
}

func TestNilEmitterIsNoop(t *testing.T) {
	t.Parallel()

	var emitter *Emitter
	emitter.TurnStarted(1)
	emitter.TurnCompleted("general", nil, 0, 1, false)

	NewEmitter(nil, "s", "t").TurnStarted(1)
}
