package events

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileEventStore {
	t.Helper()
	store, err := NewFileEventStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileEventStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestFileEventStoreAppendAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []*Event{
		{Type: EventTurnStarted, Timestamp: base, SessionID: "sess/1", TurnID: "t1", Data: TurnStartedData{MessageLength: 5}},
		{Type: EventTopicSwitched, Timestamp: base.Add(time.Second), SessionID: "sess/1", TurnID: "t1",
			Data: TopicSwitchedData{From: "products", To: "orders", SwitchCount: 1}},
		{Type: EventTurnCompleted, Timestamp: base.Add(2 * time.Second), SessionID: "sess/1", TurnID: "t2"},
		{Type: EventTurnStarted, Timestamp: base, SessionID: "other", TurnID: "x"},
	}
	for _, e := range events {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := store.Query(ctx, &EventFilter{SessionID: "sess/1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].Sequence >= all[1].Sequence {
		t.Fatalf("expected increasing sequence numbers, got %d then %d", all[0].Sequence, all[1].Sequence)
	}

	var switched TopicSwitchedData
	if err := json.Unmarshal(all[1].Data, &switched); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if switched.To != "orders" {
		t.Fatalf("unexpected payload: %+v", switched)
	}

	tests := []struct {
		name   string
		filter EventFilter
		want   int
	}{
		{"by turn", EventFilter{SessionID: "sess/1", TurnID: "t1"}, 2},
		{"by type", EventFilter{SessionID: "sess/1", Types: []EventType{EventTurnCompleted}}, 1},
		{"since", EventFilter{SessionID: "sess/1", Since: base.Add(time.Second)}, 2},
		{"until", EventFilter{SessionID: "sess/1", Until: base}, 1},
		{"limit", EventFilter{SessionID: "sess/1", Limit: 1}, 1},
		{"unknown session", EventFilter{SessionID: "nobody"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Query(ctx, &tt.filter)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("expected %d events, got %d", tt.want, len(got))
			}
		})
	}
}

func TestFileEventStoreSessionIDsAreEncoded(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileEventStore(dir)
	if err != nil {
		t.Fatalf("NewFileEventStore: %v", err)
	}
	defer store.Close()

	if err := store.Append(context.Background(), &Event{Type: EventTurnStarted, SessionID: "../escape"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".jsonl") || strings.Contains(entries[0].Name(), "/") {
		t.Fatalf("unexpected journal files: %v", entries)
	}
}

func TestFileEventStoreErrors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, &Event{Type: EventTurnStarted}); err == nil {
		t.Fatal("expected error for event without session")
	}
	if _, err := store.Query(ctx, &EventFilter{}); err == nil {
		t.Fatal("expected error for query without session")
	}
}

func TestRecorderWritesBusEvents(t *testing.T) {
	store := newTestStore(t)
	bus := NewEventBus(WithWorkerPoolSize(1))

	var recordErr error
	bus.SubscribeAll(store.Recorder(func(err error) { recordErr = err }))

	emitter := NewEmitter(bus, "sess-r", "turn-r")
	emitter.TurnStarted(3)
	emitter.TurnCompleted("general", nil, time.Millisecond, 1, true)
	bus.Close()

	if recordErr != nil {
		t.Fatalf("recorder error: %v", recordErr)
	}
	got, err := store.Query(context.Background(), &EventFilter{SessionID: "sess-r"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 || got[0].Type != EventTurnStarted || got[1].TurnID != "turn-r" {
		t.Fatalf("unexpected recorded events: %+v", got)
	}
}
