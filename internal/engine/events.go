package engine

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// EventType classifies engine events.
type EventType string

const (
	// EventTaskSubmitted fires when a task is accepted.
	EventTaskSubmitted EventType = "task_submitted"
	// EventTaskDecomposed fires after the subtask graph is built.
	EventTaskDecomposed EventType = "task_decomposed"
	// EventTaskCompleted fires when every terminal subtask resolved.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed fires on decomposition errors, deadline expiry, or an
	// unresolved terminal subtask.
	EventTaskFailed EventType = "task_failed"
)

// Event is a progress notification for subscribers such as the CLI.
type Event struct {
	// Type classifies the event.
	Type EventType
	// TaskID is the task the event concerns.
	TaskID string
	// Message is a human-readable description.
	Message string
	// Timestamp is when the event was emitted.
	Timestamp time.Time
}

// EventEmitter provides a thread-safe event stream to subscribers. Emission
// never blocks the engine: a full buffer gets one short grace window, then
// the event is dropped and counted.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	log          zerolog.Logger
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(bufferSize int, log zerolog.Logger) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
		log:    log,
	}
}

// Emit sends an event, dropping it if the buffer stays full past a short
// grace window.
func (e *EventEmitter) Emit(event Event) {
	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // log every 10th drop to avoid spam
			e.log.Warn().
				Uint64("total_dropped", count).
				Str("event_type", string(event.Type)).
				Msg("event channel full, dropping events")
		}
	}
}

// DroppedCount returns the total number of dropped events.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read-only subscriber channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel. Call only after all emitters stopped.
func (e *EventEmitter) Close() {
	close(e.events)
}
