// Package events defines the domain events emitted when persisted location
// state changes, and the publishers that deliver them to the notification
// sink. Delivery is fire-and-forget and at-least-once: publishing happens
// after the database transaction commits, and a publish failure never rolls
// the business operation back.
package events

import (
	"context"
	"time"
)

// Type names follow the established event contract consumed downstream.
type Type string

const (
	TypeCreated            Type = "location.inside.prison.created"
	TypeAmended            Type = "location.inside.prison.amended"
	TypeDeactivated        Type = "location.inside.prison.deactivated"
	TypeReactivated        Type = "location.inside.prison.reactivated"
	TypeSignedOpCapAmended Type = "location.inside.prison.signed-op-cap.amended"
)

// Event is one notification about one location whose persisted state changed.
type Event struct {
	Type       Type      `json:"eventType"`
	Key        string    `json:"key"` // prisonId-pathHierarchy
	PrisonID   string    `json:"prisonId"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher delivers events to the notification sink. Implementations must
// not return errors to callers; failures are logged and counted, never
// propagated into the business operation.
type Publisher interface {
	Publish(ctx context.Context, evts ...Event)
}
