package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Engine registry events.
	EventEngineCreated        EventType = "engine.created"
	EventEngineUpdated        EventType = "engine.updated"
	EventEngineDeleted        EventType = "engine.deleted"
	EventEngineDefaultChanged EventType = "engine.default_changed"

	// Search session events. One result_ready per engine as it settles,
	// one completed once every engine has settled.
	EventSearchResultReady EventType = "search.result_ready"
	EventSearchCompleted   EventType = "search.completed"
	EventSearchCancelled   EventType = "search.cancelled"

	// History events.
	EventHistorySaved   EventType = "history.saved"
	EventHistoryCleared EventType = "history.cleared"
)

// Event is the envelope published on the event bus. SearchID is set on
// search session events so consumers can discard payloads from cancelled
// or superseded sessions.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SearchID  string          `json:"search_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
// It replaces any host event system: the core publishes typed payloads
// and the UI collaborator subscribes.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
