package jobs

import (
	"sync"
	"time"

	"batch-transcriber/internal/domain"
)

// EventType classifies messages emitted during a run.
type EventType string

const (
	EventTypeStatus           EventType = "status"
	EventTypeFilePlanned      EventType = "file_planned"
	EventTypeChunkProduced    EventType = "chunk_produced"
	EventTypeChunkStarted     EventType = "chunk_started"
	EventTypeChunkTranscribed EventType = "chunk_transcribed"
	EventTypeChunkSkipped     EventType = "chunk_skipped"
	EventTypeError            EventType = "error"
)

// Event is a sequenced progress record.
type Event struct {
	Seq       int64            `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	RunID     string           `json:"runId"`
	Type      EventType        `json:"type"`
	Status    domain.RunStatus `json:"status,omitempty"`
	File      string           `json:"file,omitempty"`
	Chunk     int              `json:"chunk,omitempty"`
	Total     int              `json:"total,omitempty"`
	Message   string           `json:"message,omitempty"`
	Command   string           `json:"command,omitempty"`
	ExitCode  int              `json:"exitCode,omitempty"`
	Stderr    string           `json:"stderr,omitempty"`
}

// EventBus stores recent events, provides incremental reads and fans events
// out to subscribers.
type EventBus struct {
	mu          sync.RWMutex
	nextSeq     int64
	maxEvents   int
	events      []Event
	nextSub     int
	subscribers map[int]func(Event)
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents:   maxEvents,
		events:      make([]Event, 0, maxEvents),
		subscribers: make(map[int]func(Event)),
	}
}

// Publish appends one event, assigns sequence and timestamp, and notifies
// subscribers synchronously outside the lock.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	subs := make([]func(Event), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
	return event
}

// Subscribe registers fn for every future event and returns a function that
// removes it.
func (b *EventBus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
