package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for intersection events.
const (
	EventTypeIntersectionCreated = "intersection.created"
	EventTypeIntersectionGrown   = "intersection.grown"
)

// IntersectionEvent is emitted after a persisting intersection pass changes a cluster.
type IntersectionEvent struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	IntersectionID uuid.UUID `json:"intersection_id"`
	Created        bool      `json:"created"`
	ReferenceIDs   []string  `json:"reference_ids"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewIntersectionEvent creates an event for the given cluster change.
func NewIntersectionEvent(intersectionID uuid.UUID, created bool, referenceIDs []string) *IntersectionEvent {
	eventType := EventTypeIntersectionGrown
	if created {
		eventType = EventTypeIntersectionCreated
	}
	return &IntersectionEvent{
		EventID:        uuid.New().String(),
		EventType:      eventType,
		IntersectionID: intersectionID,
		Created:        created,
		ReferenceIDs:   referenceIDs,
		OccurredAt:     time.Now().UTC(),
	}
}

// Payload returns the JSON encoding of the event.
func (e *IntersectionEvent) Payload() ([]byte, error) {
	return json.Marshal(e)
}
