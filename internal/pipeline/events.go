package pipeline

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType identifies a category of pipeline event the monitor or a
// control-surface subscriber may care about.
type EventType string

const (
	EventChunkCaptured        EventType = "audio.chunk.captured"
	EventChunkDropped         EventType = "audio.chunk.dropped"
	EventTranscriptProduced   EventType = "transcription.segment.produced"
	EventTranscriptSkipped    EventType = "transcription.segment.skipped"
	EventSpeakerAssigned      EventType = "diarization.speaker.assigned"
	EventSpeakerMerged        EventType = "diarization.speaker.merged"
	EventSegmentVectorized    EventType = "vectorization.segment.embedded"
	EventSegmentStored        EventType = "storage.segment.committed"
	EventStageHealthChanged   EventType = "stage.health.changed"
	EventSessionStatusChanged EventType = "session.status.changed"
)

// Event is one occurrence published onto the bus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      interface{}
}

// EventHandler handles one delivered event.
type EventHandler func(event Event)

// EventMetrics tracks event bus throughput, returned by EventBus.Metrics.
type EventMetrics struct {
	EventsPublished map[EventType]int64
	EventsDelivered int64
	EventsDropped   int64
	mu              sync.Mutex
}

// EventBus fans pipeline events out to subscribers (the monitor, the
// control surface's streaming tool calls) without coupling stages to their
// observers. Adapted from the teacher's feedback.EventBus: same buffered
// channel + goroutine-per-handler-delivery shape, event vocabulary swapped
// from Discord transcription/queue events to the five-stage pipeline's.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
	buffer      chan Event
	stopCh      chan struct{}
	wg          sync.WaitGroup
	metrics     *EventMetrics
}

// NewEventBus creates an event bus with the given buffer size.
func NewEventBus(bufferSize int) *EventBus {
	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		buffer:   make(chan Event, bufferSize),
		stopCh:   make(chan struct{}),
		metrics: &EventMetrics{
			EventsPublished: make(map[EventType]int64),
		},
	}

	eb.wg.Add(1)
	go eb.processEvents()

	return eb
}

// Subscribe registers a handler for one event type and returns an
// unsubscribe function.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)

	return func() {
		eb.Unsubscribe(eventType, handler)
	}
}

// SubscribeAll registers a handler invoked for every event type.
func (eb *EventBus) SubscribeAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allHandlers = append(eb.allHandlers, handler)

	return func() {
		eb.UnsubscribeAll(handler)
	}
}

// Unsubscribe removes a handler registered for a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if &h == &handler {
			eb.handlers[eventType] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
}

// UnsubscribeAll removes a handler registered via SubscribeAll.
func (eb *EventBus) UnsubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for i, h := range eb.allHandlers {
		if &h == &handler {
			eb.allHandlers = append(eb.allHandlers[:i], eb.allHandlers[i+1:]...)
			break
		}
	}
}

// Publish sends an event to all subscribers, non-blocking: if the buffer is
// full the event is dropped and counted rather than stalling the publisher.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.metrics.mu.Lock()
	eb.metrics.EventsPublished[event.Type]++
	eb.metrics.mu.Unlock()

	select {
	case eb.buffer <- event:
	default:
		eb.metrics.mu.Lock()
		eb.metrics.EventsDropped++
		eb.metrics.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"event_type": event.Type,
			"session_id": event.SessionID,
		}).Warn("Event dropped, buffer full")
	}
}

// processEvents delivers buffered events until Stop is called, draining
// whatever remains before returning.
func (eb *EventBus) processEvents() {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.buffer:
			eb.deliverEvent(event)
		case <-eb.stopCh:
			for len(eb.buffer) > 0 {
				select {
				case event := <-eb.buffer:
					eb.deliverEvent(event)
				default:
					return
				}
			}
			return
		}
	}
}

func (eb *EventBus) deliverEvent(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	deliver := func(h EventHandler) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithFields(logrus.Fields{
						"event_type": event.Type,
						"panic":      r,
					}).Error("Event handler panic")
				}
			}()

			h(event)

			eb.metrics.mu.Lock()
			eb.metrics.EventsDelivered++
			eb.metrics.mu.Unlock()
		}()
	}

	for _, handler := range eb.handlers[event.Type] {
		deliver(handler)
	}
	for _, handler := range eb.allHandlers {
		deliver(handler)
	}
}

// Stop drains and shuts down the event bus.
func (eb *EventBus) Stop() {
	close(eb.stopCh)
	eb.wg.Wait()
	close(eb.buffer)
}

// Metrics returns a snapshot of event bus counters.
func (eb *EventBus) Metrics() EventMetrics {
	eb.metrics.mu.Lock()
	defer eb.metrics.mu.Unlock()

	metrics := EventMetrics{
		EventsPublished: make(map[EventType]int64, len(eb.metrics.EventsPublished)),
		EventsDelivered: eb.metrics.EventsDelivered,
		EventsDropped:   eb.metrics.EventsDropped,
	}
	for k, v := range eb.metrics.EventsPublished {
		metrics.EventsPublished[k] = v
	}
	return metrics
}
