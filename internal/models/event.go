package models

import "time"

// Event is a domain event handed to the dispatcher, directly or over the event bus.
type Event struct {
	Type       string                 `json:"event_type"`
	Actor      string                 `json:"actor,omitempty"`
	Target     string                 `json:"target"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt time.Time              `json:"occurred_at,omitempty"`
}
