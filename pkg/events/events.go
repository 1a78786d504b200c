// Package events defines the messages exchanged on the drip event bus.
package events

import (
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every drip event; consumers dispatch on the event type metadata.
const Topic = "drip.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// TriggerFiredEvent asks the enroller to enroll a subscriber.
	TriggerFiredEvent EventType = "trigger.fired"

	EnrollmentCreatedEvent   EventType = "enrollment.created"
	EnrollmentCompletedEvent EventType = "enrollment.completed"
	EnrollmentCancelledEvent EventType = "enrollment.cancelled"
	DeliveryRecordedEvent    EventType = "delivery.recorded"
)

// Cancellation reasons carried by EnrollmentCancelled.
const (
	ReasonSubscriberIneligible = "subscriber_ineligible"
	ReasonAutomationInactive   = "automation_inactive"
	ReasonConditionFailed      = "condition_failed"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	AutomationID string         `json:"automation_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, automationID string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		AutomationID: automationID,
		Metadata:     make(map[string]any),
	}
}

// TriggerFired is an external occurrence for one subscriber.
type TriggerFired struct {
	BaseEvent

	Name         string         `json:"name"`
	SubscriberID string         `json:"subscriber_id"`
	Payload      map[string]any `json:"payload,omitempty"`
}

func (TriggerFired) GetType() EventType {
	return TriggerFiredEvent
}

// TriggerEvent converts the message into the domain trigger.
func (t TriggerFired) TriggerEvent() models.TriggerEvent {
	return models.TriggerEvent{Name: t.Name, SubscriberID: t.SubscriberID, Payload: t.Payload}
}

func NewTriggerFired(trigger models.TriggerEvent) TriggerFired {
	return TriggerFired{
		BaseEvent:    NewBaseEvent(TriggerFiredEvent, ""),
		Name:         trigger.Name,
		SubscriberID: trigger.SubscriberID,
		Payload:      trigger.Payload,
	}
}

type EnrollmentCreated struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	SubscriberID string `json:"subscriber_id"`
	Trigger      string `json:"trigger"`
}

func (EnrollmentCreated) GetType() EventType {
	return EnrollmentCreatedEvent
}

type EnrollmentCompleted struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	SubscriberID string `json:"subscriber_id"`
}

func (EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedEvent
}

type EnrollmentCancelled struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	SubscriberID string `json:"subscriber_id"`
	Step         int    `json:"step"`
	Reason       string `json:"reason"`
}

func (EnrollmentCancelled) GetType() EventType {
	return EnrollmentCancelledEvent
}

type DeliveryRecorded struct {
	BaseEvent

	EnrollmentID string                `json:"enrollment_id"`
	SubscriberID string                `json:"subscriber_id"`
	DeliveryID   string                `json:"delivery_id"`
	Step         int                   `json:"step"`
	Status       models.DeliveryStatus `json:"status"`
}

func (DeliveryRecorded) GetType() EventType {
	return DeliveryRecordedEvent
}

func NewEnrollmentCreated(enrollment *models.Enrollment, trigger string) EnrollmentCreated {
	return EnrollmentCreated{
		BaseEvent:    NewBaseEvent(EnrollmentCreatedEvent, enrollment.AutomationID),
		EnrollmentID: enrollment.ID,
		SubscriberID: enrollment.SubscriberID,
		Trigger:      trigger,
	}
}

func NewEnrollmentCompleted(enrollment *models.Enrollment) EnrollmentCompleted {
	return EnrollmentCompleted{
		BaseEvent:    NewBaseEvent(EnrollmentCompletedEvent, enrollment.AutomationID),
		EnrollmentID: enrollment.ID,
		SubscriberID: enrollment.SubscriberID,
	}
}

func NewEnrollmentCancelled(enrollment *models.Enrollment, reason string) EnrollmentCancelled {
	return EnrollmentCancelled{
		BaseEvent:    NewBaseEvent(EnrollmentCancelledEvent, enrollment.AutomationID),
		EnrollmentID: enrollment.ID,
		SubscriberID: enrollment.SubscriberID,
		Step:         enrollment.CurrentStep,
		Reason:       reason,
	}
}

func NewDeliveryRecorded(enrollment *models.Enrollment, delivery *models.Delivery) DeliveryRecorded {
	return DeliveryRecorded{
		BaseEvent:    NewBaseEvent(DeliveryRecordedEvent, enrollment.AutomationID),
		EnrollmentID: enrollment.ID,
		SubscriberID: enrollment.SubscriberID,
		DeliveryID:   delivery.ID,
		Step:         enrollment.CurrentStep,
		Status:       delivery.Status,
	}
}
