package eventbus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trip-planner/internal/shared/logger"
)

// Event represents a generic event
type Event interface {
	Type() string
	Data() interface{}
	Timestamp() time.Time
	Source() string
}

// Handler defines the event handler function type
type Handler func(ctx context.Context, event Event) error

// SubscriptionID identifies a single registered handler
type SubscriptionID uint64

// EventBusInterface defines the contract for event bus implementations
type EventBusInterface interface {
	Subscribe(topic string, handler Handler) SubscriptionID
	Unsubscribe(id SubscriptionID) bool
	UnsubscribeAll(topic string)
	Publish(ctx context.Context, event Event) error
	PublishAndForget(ctx context.Context, event Event)
	GetSubscriberCount(topic string) int
	GetTopics() []string
}

type subscriber struct {
	id      SubscriptionID
	handler Handler
}

// EventBus is an in-memory topic bus. Handlers of one topic run in subscription order.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]subscriber
	topics   map[SubscriptionID]string
	nextID   SubscriptionID
	logger   logger.Logger
	config   BusConfig
}

// BusConfig holds configuration for the event bus
type BusConfig struct {
	AsyncProcessing bool
	MaxRetries      int
	RetryDelay      time.Duration
}

// DefaultBusConfig returns default configuration
func DefaultBusConfig() BusConfig {
	return BusConfig{
		AsyncProcessing: false,
		MaxRetries:      0,
		RetryDelay:      100 * time.Millisecond,
	}
}

// NewEventBus creates a new event bus instance
func NewEventBus(log logger.Logger) *EventBus {
	return NewEventBusWithConfig(log, DefaultBusConfig())
}

// NewEventBusWithConfig creates a new event bus with custom configuration
func NewEventBusWithConfig(log logger.Logger, config BusConfig) *EventBus {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &EventBus{
		handlers: make(map[string][]subscriber),
		topics:   make(map[SubscriptionID]string),
		logger:   log.WithComponent("eventbus"),
		config:   config,
	}
}

// Subscribe adds a handler for a topic and returns its id
func (eb *EventBus) Subscribe(topic string, handler Handler) SubscriptionID {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[topic] = append(eb.handlers[topic], subscriber{id: id, handler: handler})
	eb.topics[id] = topic
	eb.logger.Debugf("Subscribed handler %d for topic: %s", id, topic)
	return id
}

// Unsubscribe removes a single handler. It reports whether the id was registered.
func (eb *EventBus) Unsubscribe(id SubscriptionID) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	topic, ok := eb.topics[id]
	if !ok {
		return false
	}
	delete(eb.topics, id)

	subs := eb.handlers[topic]
	kept := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(eb.handlers, topic)
	} else {
		eb.handlers[topic] = kept
	}
	eb.logger.Debugf("Unsubscribed handler %d from topic: %s", id, topic)
	return true
}

// UnsubscribeAll removes all handlers for a topic
func (eb *EventBus) UnsubscribeAll(topic string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, s := range eb.handlers[topic] {
		delete(eb.topics, s.id)
	}
	delete(eb.handlers, topic)
	eb.logger.Debugf("Unsubscribed all handlers for topic: %s", topic)
}

// Publish sends an event to all handlers of its topic
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	eb.mu.RLock()
	subs := append([]subscriber(nil), eb.handlers[event.Type()]...)
	eb.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	if eb.config.AsyncProcessing {
		return eb.publishAsync(ctx, event, subs)
	}
	return eb.publishSync(ctx, event, subs)
}

func (eb *EventBus) publishSync(ctx context.Context, event Event, subs []subscriber) error {
	var firstErr error
	for _, s := range subs {
		if err := eb.executeHandler(ctx, event, s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (eb *EventBus) publishAsync(ctx context.Context, event Event, subs []subscriber) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(subs))

	for _, s := range subs {
		wg.Add(1)
		go func(s subscriber) {
			defer wg.Done()
			if err := eb.executeHandler(ctx, event, s); err != nil {
				errCh <- err
			}
		}(s)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

// executeHandler executes a handler with retry logic
func (eb *EventBus) executeHandler(ctx context.Context, event Event, s subscriber) error {
	var lastErr error

	for attempt := 0; attempt <= eb.config.MaxRetries; attempt++ {
		if attempt > 0 {
			eb.logger.Warnf("Retrying handler %d for topic %s (attempt %d/%d)",
				s.id, event.Type(), attempt+1, eb.config.MaxRetries+1)
			time.Sleep(eb.config.RetryDelay)
		}

		if err := s.handler(ctx, event); err != nil {
			lastErr = err
			eb.logger.Errorf("Handler %d failed for topic %s: %v", s.id, event.Type(), err)
			continue
		}
		return nil
	}

	return fmt.Errorf("handler failed after %d attempts: %w", eb.config.MaxRetries+1, lastErr)
}

// PublishAndForget publishes an event asynchronously without waiting for completion
func (eb *EventBus) PublishAndForget(ctx context.Context, event Event) {
	go func() {
		if err := eb.Publish(ctx, event); err != nil {
			eb.logger.Errorf("Failed to publish event %s: %v", event.Type(), err)
		}
	}()
}

// GetSubscriberCount returns the number of handlers for a topic
func (eb *EventBus) GetSubscriberCount(topic string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[topic])
}

// GetTopics returns all topics with at least one handler, sorted
func (eb *EventBus) GetTopics() []string {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	topics := make([]string, 0, len(eb.handlers))
	for topic := range eb.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// BasicEvent implements the Event interface
type BasicEvent struct {
	eventType string
	data      interface{}
	timestamp time.Time
	source    string
}

// NewBasicEvent creates a new basic event
func NewBasicEvent(eventType string, data interface{}) Event {
	return NewBasicEventWithSource(eventType, data, "unknown")
}

// NewBasicEventWithSource creates a new basic event with source
func NewBasicEventWithSource(eventType string, data interface{}, source string) Event {
	return &BasicEvent{
		eventType: eventType,
		data:      data,
		timestamp: time.Now(),
		source:    source,
	}
}

func (e *BasicEvent) Type() string         { return e.eventType }
func (e *BasicEvent) Data() interface{}    { return e.data }
func (e *BasicEvent) Timestamp() time.Time { return e.timestamp }
func (e *BasicEvent) Source() string       { return e.source }
