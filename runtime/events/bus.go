// Package events provides a lightweight pub/sub event bus for turn observability.
package events

import "sync"

const (
	defaultWorkerPoolSize  = 4
	defaultEventBufferSize = 256
)

// Listener is a function that handles events.
type Listener func(*Event)

type subscription struct {
	id       uint64
	listener Listener
}

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// WithWorkerPoolSize sets the number of delivery goroutines. Values below 1 are ignored.
func WithWorkerPoolSize(n int) BusOption {
	return func(eb *EventBus) {
		if n > 0 {
			eb.workerCount = n
		}
	}
}

// WithEventBufferSize sets how many events may wait for delivery. Values below 1 are ignored.
func WithEventBufferSize(n int) BusOption {
	return func(eb *EventBus) {
		if n > 0 {
			eb.bufferSize = n
		}
	}
}

// EventBus manages event distribution to listeners.
// Events are queued and delivered by a fixed pool of workers; Close drains the queue.
type EventBus struct {
	mu              sync.RWMutex
	listeners       map[EventType][]subscription
	globalListeners []subscription
	nextID          uint64
	closed          bool

	workerCount int
	bufferSize  int
	queue       chan *Event
	workers     sync.WaitGroup
}

// NewEventBus creates a new event bus and starts its workers.
func NewEventBus(opts ...BusOption) *EventBus {
	eb := &EventBus{
		listeners:   make(map[EventType][]subscription),
		workerCount: defaultWorkerPoolSize,
		bufferSize:  defaultEventBufferSize,
	}
	for _, opt := range opts {
		opt(eb)
	}

	eb.queue = make(chan *Event, eb.bufferSize)
	eb.workers.Add(eb.workerCount)
	for range eb.workerCount {
		go eb.worker()
	}
	return eb
}

// Subscribe registers a listener for a specific event type.
// The returned function removes the listener.
func (eb *EventBus) Subscribe(eventType EventType, listener Listener) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.listeners[eventType] = append(eb.listeners[eventType], subscription{id: id, listener: listener})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.listeners[eventType] = removeSubscription(eb.listeners[eventType], id)
	}
}

// SubscribeAll registers a listener for all event types.
// The returned function removes the listener.
func (eb *EventBus) SubscribeAll(listener Listener) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.globalListeners = append(eb.globalListeners, subscription{id: id, listener: listener})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.globalListeners = removeSubscription(eb.globalListeners, id)
	}
}

// Publish queues an event for delivery. It never blocks: false is returned when the
// bus is closed or the buffer is full and the event was dropped.
func (eb *EventBus) Publish(event *Event) bool {
	if eb == nil || event == nil {
		return false
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return false
	}

	select {
	case eb.queue <- event:
		return true
	default:
		return false
	}
}

// Close stops accepting events and blocks until every queued event has been delivered.
// It is safe to call more than once.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return
	}
	eb.closed = true
	close(eb.queue)
	eb.mu.Unlock()

	eb.workers.Wait()
}

// Clear removes all listeners (primarily for tests).
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners = make(map[EventType][]subscription)
	eb.globalListeners = nil
}

func (eb *EventBus) worker() {
	defer eb.workers.Done()
	for event := range eb.queue {
		eb.dispatch(event)
	}
}

func (eb *EventBus) dispatch(event *Event) {
	eb.mu.RLock()
	specific := make([]subscription, len(eb.listeners[event.Type]))
	copy(specific, eb.listeners[event.Type])
	global := make([]subscription, len(eb.globalListeners))
	copy(global, eb.globalListeners)
	eb.mu.RUnlock()

	for _, sub := range specific {
		safeInvoke(sub.listener, event)
	}
	for _, sub := range global {
		safeInvoke(sub.listener, event)
	}
}

func removeSubscription(subs []subscription, id uint64) []subscription {
	for i, sub := range subs {
		if sub.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

func safeInvoke(listener Listener, event *Event) {
	defer func() { _ = recover() }()
	listener(event)
}
