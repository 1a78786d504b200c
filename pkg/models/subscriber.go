package models

// SubscriberStatus is the subscriber's own account state.
type SubscriberStatus string

const (
	SubscriberStatusActive   SubscriberStatus = "active"
	SubscriberStatusInactive SubscriberStatus = "inactive"
	SubscriberStatusBlocked  SubscriberStatus = "blocked"
)

// Subscriber is the recipient of an enrollment's messages.
type Subscriber struct {
	ID         string           `json:"id"         yaml:"id"         validate:"required"`
	Status     SubscriberStatus `json:"status"     yaml:"status"     validate:"required,oneof=active inactive blocked"`
	Language   string           `json:"language"   yaml:"language"`
	ChatID     string           `json:"chat_id"    yaml:"chat_id"`
	Attributes map[string]any   `json:"attributes" yaml:"attributes"`
}

// Eligible reports whether steps may run against the subscriber.
func (s *Subscriber) Eligible() bool {
	return s.Status == SubscriberStatusActive
}
