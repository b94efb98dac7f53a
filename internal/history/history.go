package history

import (
	"context"
	"time"
)

// EventType defines the kind of scheduling lifecycle event.
type EventType string

const (
	EventScheduled EventType = "scheduled"
	EventFired     EventType = "fired"
	EventCancelled EventType = "cancelled"
	EventSkipped   EventType = "skipped"
)

// Event represents a scheduling lifecycle event to be exported to external
// systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	StackID    string    `json:"stack_id"`
	StackName  string    `json:"stack_name"`
	StepTitle  string    `json:"step_title"`
	AlarmID    string    `json:"alarm_id"`
	Backend    string    `json:"backend"`
	FireAt     time.Time `json:"fire_at"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
