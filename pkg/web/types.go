// Package web provides HTTP request and response types for the drip API.
package web

import "github.com/dukex/drip/pkg/models"

// TriggerEventRequest is the body of POST /events.
type TriggerEventRequest struct {
	Name         string         `json:"name"          validate:"required"`
	SubscriberID string         `json:"subscriber_id" validate:"required"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// TriggerEventResponse acknowledges an accepted event.
type TriggerEventResponse struct {
	EventID string `json:"event_id"`
}

type AutomationResponse struct {
	*models.Automation

	Steps []*models.Step `json:"steps"`
}

// EnrollmentResponse is an enrollment with its delivery audit trail.
type EnrollmentResponse struct {
	*models.Enrollment

	Deliveries []*models.Delivery `json:"deliveries"`
}
