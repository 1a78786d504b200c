package models

import "time"

// DeliveryStatus classifies the outcome of a send attempt.
type DeliveryStatus string

const (
	DeliveryStatusSent        DeliveryStatus = "sent"
	DeliveryStatusRateLimited DeliveryStatus = "rate_limited"
	DeliveryStatusFailed      DeliveryStatus = "failed"
)

// Delivery is an append-only audit row written once per send_message execution.
type Delivery struct {
	ID               string         `json:"id"`
	AutomationID     string         `json:"automation_id"`
	EnrollmentID     string         `json:"enrollment_id"`
	SubscriberID     string         `json:"subscriber_id"`
	Content          string         `json:"content"`
	Status           DeliveryStatus `json:"status"`
	ChannelMessageID string         `json:"channel_message_id,omitempty"`
	Error            string         `json:"error,omitempty"`
	SentAt           time.Time      `json:"sent_at"`
}
