// Package bus provides an internal event bus for presentation events.
package bus

import (
	"sync"
	"time"
)

// EventType identifies different event types
type EventType string

const (
	// Scene events
	EventTypeSceneLoaded     EventType = "scene.loaded"
	EventTypeAssetFailed     EventType = "scene.asset_failed"
	EventTypeTextureApplied  EventType = "texture.applied"
	EventTypeTextureFailed   EventType = "texture.failed"
	EventTypeSceneDisposed   EventType = "scene.disposed"
	EventTypeAvatarAnimation EventType = "avatar.animation"

	// Avatar events
	EventTypeSpeakingStarted EventType = "avatar.speaking_started"
	EventTypeSpeakingStopped EventType = "avatar.speaking_stopped"

	// Lecture events
	EventTypeSlideChanged     EventType = "lecture.slide_changed"
	EventTypeCaptionChanged   EventType = "lecture.caption_changed"
	EventTypeTimeUpdate       EventType = "lecture.time_update"
	EventTypeSegmentCompleted EventType = "lecture.segment_completed"
	EventTypeLectureEnded     EventType = "lecture.ended"
	EventTypeLectureReloaded  EventType = "lecture.reloaded"

	// Audio events
	EventTypeAudioPlay   EventType = "audio.play"
	EventTypeAudioPause  EventType = "audio.pause"
	EventTypeAudioEnded  EventType = "audio.ended"
	EventTypeAudioFailed EventType = "audio.failed"
)

// Event represents a bus event
type Event struct {
	Type EventType      `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, data map[string]any) Event {
	return Event{Type: t, Time: time.Now(), Data: data}
}

// Handler is a function that handles events
type Handler func(Event)

type delivery struct {
	event Event
	done  chan struct{}
}

// subscriber runs its handler on one goroutine at a time, in publish order.
type subscriber struct {
	handler Handler

	mu      sync.Mutex
	queue   []delivery
	running bool
}

func (s *subscriber) deliver(d delivery) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	go s.drain()
}

func (s *subscriber) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		d := s.queue[0]
		s.queue[0] = delivery{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(d.event)
		if d.done != nil {
			close(d.done)
		}
	}
}

// EventBus is a simple pub/sub event bus. Handlers registered with
// SubscribeAll receive every event regardless of type. Each handler sees
// events in the order they were published.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]*subscriber
	all      map[int]*subscriber
	nextID   int
}

func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]*subscriber),
		all:      make(map[int]*subscriber),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], &subscriber{handler: handler})
}

// SubscribeMultiple adds a handler for multiple event types. The handler
// keeps one queue across all of them.
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	sub := &subscriber{handler: handler}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, et := range eventTypes {
		b.handlers[et] = append(b.handlers[et], sub)
	}
}

// SubscribeAll registers a handler for every event and returns a func that
// removes it.
func (b *EventBus) SubscribeAll(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.all[id] = &subscriber{handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.all, id)
		b.mu.Unlock()
	}
}

// publish enqueues event for every matching subscriber under the read lock,
// so two publishers cannot interleave their events differently across
// subscribers.
func (b *EventBus) publish(event Event, wait bool) []chan struct{} {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var pending []chan struct{}
	send := func(s *subscriber) {
		d := delivery{event: event}
		if wait {
			d.done = make(chan struct{})
			pending = append(pending, d.done)
		}
		s.deliver(d)
	}
	for _, s := range b.handlers[event.Type] {
		send(s)
	}
	for _, s := range b.all {
		send(s)
	}
	return pending
}

// Publish sends an event to all subscribed handlers without blocking.
func (b *EventBus) Publish(event Event) {
	b.publish(event, false)
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	for _, done := range b.publish(event, true) {
		<-done
	}
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]*subscriber)
	b.all = make(map[int]*subscriber)
}
