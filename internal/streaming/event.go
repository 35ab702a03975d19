package streaming

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the closed set of lifecycle notifications carried on a session stream.
type EventType string

const (
	EventWorkerStarted     EventType = "worker_started"
	EventWorkerProgress    EventType = "worker_progress"
	EventWorkerCompleted   EventType = "worker_completed"
	EventWorkerFailed      EventType = "worker_failed"
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
)

// OrchestratorAgent is the agent name used on workflow-level events.
const OrchestratorAgent = "orchestrator"

var eventTypes = map[EventType]struct{}{
	EventWorkerStarted:     {},
	EventWorkerProgress:    {},
	EventWorkerCompleted:   {},
	EventWorkerFailed:      {},
	EventWorkflowStarted:   {},
	EventWorkflowCompleted: {},
	EventWorkflowFailed:    {},
}

// Valid reports whether t is one of the known event kinds.
func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// Event is the record delivered to stream observers.
type Event struct {
	Type      EventType      `json:"type"`
	Agent     string         `json:"agent"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// Marshal encodes the event for the wire.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEvent decodes a wire record back into an Event.
func ParseEvent(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// Time parses the event timestamp.
func (e Event) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// ChannelName returns the per-session routing key.
func ChannelName(sessionID string) string {
	return fmt.Sprintf("session:%s:stream", sessionID)
}
