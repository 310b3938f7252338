package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventConnectivityChanged = "connectivity_changed"
	EventOperationEnqueued   = "operation_enqueued"
	EventOperationDropped    = "operation_dropped"
	EventSyncPassCompleted   = "sync_pass_completed"
	EventQueueCleared        = "queue_cleared"
)

// ConnectivityPayload carries one reachability transition.
type ConnectivityPayload struct {
	Previous bool `json:"previous"`
	Current  bool `json:"current"`
}

// OperationPayload describes one queued or dropped operation for consumers.
type OperationPayload struct {
	OperationID string `json:"operation_id"`
	Type        string `json:"type"`
	EntityID    string `json:"entity_id"`
	Date        string `json:"date,omitempty"`
	RetryCount  int    `json:"retry_count"`
	Reason      string `json:"reason,omitempty"`
}

// SyncPassPayload summarizes one finished drain pass.
type SyncPassPayload struct {
	Trigger   string `json:"trigger"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Retried   int    `json:"retried"`
	Dropped   int    `json:"dropped"`
	Remaining int    `json:"remaining"`
}

// ClearedPayload reports how many operations an explicit reset removed.
type ClearedPayload struct {
	Cleared int `json:"cleared"`
}

// Event represents a lightweight in-process event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub so UI indicators and logging can
// observe the engine without being wired into it.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
