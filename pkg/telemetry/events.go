package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one pipeline lifecycle notification.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	WorkspaceID string                 `json:"workspace_id,omitempty"`
	RunID       string                 `json:"run_id,omitempty"`
	Operation   string                 `json:"operation,omitempty"`
	Message     string                 `json:"message"`
	Level       string                 `json:"level"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeFetchStarted   = "fetch.started"
	EventTypeFetchStep      = "fetch.step_completed"
	EventTypeFetchCompleted = "fetch.completed"
	EventTypeFetchFailed    = "fetch.failed"
	EventTypeRetryScheduled = "retry.scheduled"
	EventTypeSessionCleared = "session.cleared"
	EventTypeConfigReloaded = "config.reloaded"
	EventTypeError          = "error"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles delivered events.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// EventPublisher fans pipeline events out to subscribers, optionally through
// a bounded async buffer. A disabled publisher accepts and drops everything.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewEventPublisher builds a publisher; when async delivery is configured it
// starts the delivery goroutine.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.run()
	}
	return ep, nil
}

// Publish stamps the event with an id and timestamp and delivers it, either
// inline or through the async buffer. A full buffer drops the event with an
// error rather than blocking the pipeline.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if !ep.config.EnableAsync {
		ep.deliver(event)
		return nil
	}

	select {
	case ep.buffer <- event:
		return nil
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// Subscribe registers a subscriber with an optional per-subscriber filter.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// AddFilter registers a filter applied to every published event.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// run is the async delivery loop. On shutdown it drains the buffer before
// returning so accepted events are not lost.
func (ep *EventPublisher) run() {
	defer ep.wg.Done()
	for {
		select {
		case event := <-ep.buffer:
			ep.deliver(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver hands the event to every matching subscriber. Subscribers run on
// their own goroutines; a slow one cannot stall delivery.
func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		go entry.subscriber(event)
	}
}

// Shutdown stops the delivery loop, waiting for the drain until ctx expires.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Publish helpers for the pipeline's lifecycle points.

func (ep *EventPublisher) PublishFetchStarted(workspaceID, runID string) error {
	return ep.Publish(Event{
		Type:        EventTypeFetchStarted,
		Source:      "tfe_client",
		WorkspaceID: workspaceID,
		RunID:       runID,
		Message:     fmt.Sprintf("Plan retrieval started for run %s", runID),
		Level:       EventLevelInfo,
	})
}

func (ep *EventPublisher) PublishFetchStep(runID, operation string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:      EventTypeFetchStep,
		Source:    "tfe_client",
		RunID:     runID,
		Operation: operation,
		Message:   fmt.Sprintf("Step %q completed for run %s", operation, runID),
		Level:     EventLevelInfo,
		Data:      map[string]interface{}{"duration": duration.Seconds()},
	})
}

func (ep *EventPublisher) PublishFetchCompleted(workspaceID, runID string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:        EventTypeFetchCompleted,
		Source:      "tfe_client",
		WorkspaceID: workspaceID,
		RunID:       runID,
		Message:     fmt.Sprintf("Plan retrieval completed for run %s", runID),
		Level:       EventLevelInfo,
		Data:        map[string]interface{}{"duration": duration.Seconds()},
	})
}

func (ep *EventPublisher) PublishFetchFailed(workspaceID, runID, operation, category string) error {
	return ep.Publish(Event{
		Type:        EventTypeFetchFailed,
		Source:      "tfe_client",
		WorkspaceID: workspaceID,
		RunID:       runID,
		Operation:   operation,
		Message:     fmt.Sprintf("Plan retrieval failed for run %s during %s", runID, operation),
		Level:       EventLevelError,
		Data:        map[string]interface{}{"category": category},
	})
}

func (ep *EventPublisher) PublishRetryScheduled(operation, category string, attempt int, delay time.Duration) error {
	return ep.Publish(Event{
		Type:      EventTypeRetryScheduled,
		Source:    "retrier",
		Operation: operation,
		Message:   fmt.Sprintf("Retry %d scheduled for %s in %s", attempt, operation, delay.Round(time.Millisecond)),
		Level:     EventLevelWarning,
		Data: map[string]interface{}{
			"attempt":  attempt,
			"category": category,
			"delay":    delay.Seconds(),
		},
	})
}

func (ep *EventPublisher) PublishSessionCleared(source, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeSessionCleared,
		Source:  "secrets",
		Message: fmt.Sprintf("Session data (%s) cleared: %s", source, reason),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"data_source": source, "reason": reason},
	})
}

func (ep *EventPublisher) PublishConfigReloaded(path string, valid bool) error {
	level := EventLevelInfo
	if !valid {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeConfigReloaded,
		Source:  "config",
		Message: fmt.Sprintf("Configuration reloaded from %s", path),
		Level:   level,
		Data:    map[string]interface{}{"path": path, "valid": valid},
	})
}

// Stock filters.

// FilterByLevel passes events at or above minLevel.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{EventLevelInfo: 0, EventLevelWarning: 1, EventLevelError: 2}
	min := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= min
	}
}

// FilterByType passes events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}

// FilterByRunID passes events belonging to one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
