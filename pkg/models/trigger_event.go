package models

// TriggerEvent is an external occurrence that may enroll a subscriber in the
// automations listening for Name.
type TriggerEvent struct {
	Name         string         `json:"name"          validate:"required"`
	SubscriberID string         `json:"subscriber_id" validate:"required"`
	Payload      map[string]any `json:"payload,omitempty"`
}
