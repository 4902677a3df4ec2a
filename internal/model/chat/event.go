package chat

import "time"

// EventType is the kind of frame pushed to a streaming client.
type EventType string

const (
	EventChunk    EventType = "chunk"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// StreamEvent is the outbound frame of the duplex protocol. A request yields
// any number of chunk events followed by exactly one complete or error event.
type StreamEvent struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content"`
	Timestamp string    `json:"timestamp"`
}

// NewStreamEvent stamps an event with an ISO-8601 timestamp.
func NewStreamEvent(kind EventType, content string, at time.Time) StreamEvent {
	return StreamEvent{
		Type:      kind,
		Content:   content,
		Timestamp: at.Format(time.RFC3339Nano),
	}
}
