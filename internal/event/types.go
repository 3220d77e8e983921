package event

import "time"

// Type names the orchestrator events published on the bus.
type Type string

const (
	TypeTerminalCreated  Type = "terminal.created"
	TypeTerminalDeleted  Type = "terminal.deleted"
	TypeMessageQueued    Type = "inbox.message_queued"
	TypeMessageDelivered Type = "inbox.message_delivered"
	TypeFlowExecuted     Type = "flow.executed"
	TypeFlowSkipped      Type = "flow.skipped"
)

// Event is one orchestrator occurrence, streamed to API subscribers.
type Event struct {
	Type      Type              `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// New builds an Event stamped with the current time.
func New(eventType Type, fields map[string]string) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}
}
