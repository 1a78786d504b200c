// Package eventbus carries trigger and enrollment lifecycle events between drip services.
//
// The API publishes trigger.fired; the worker consumes it to enroll subscribers
// and publishes enrollment.* and delivery.recorded as enrollments move.
package eventbus

import (
	"context"

	"github.com/dukex/drip/pkg/events"
)

// Event is any payload from pkg/events, tagged with its type for dispatch.
type Event interface {
	GetType() events.EventType
}

// EventPublisher is the side the executor and enroller depend on. key is the
// subscriber ID so one subscriber's events stay on one partition.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber routes each event type to at most one handler; a later
// Handle for the same type replaces the earlier one.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event, e.g. *events.TriggerFired.
// A returned error nacks the message for redelivery.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

var _ EventBus = (*WatermillEventBus)(nil)
