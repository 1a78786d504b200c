package models

import "time"

// EnrollmentStatus represents the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed" // terminal
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled" // terminal
)

// Enrollment is one subscriber's progress through one automation.
type Enrollment struct {
	ID            string           `json:"id"`
	AutomationID  string           `json:"automation_id"`
	SubscriberID  string           `json:"subscriber_id"`
	Status        EnrollmentStatus `json:"status"`
	CurrentStep   int              `json:"current_step"`
	NextExecuteAt *time.Time       `json:"next_execute_at,omitempty"`
	EventPayload  map[string]any   `json:"event_payload,omitempty"`
	Version       int              `json:"version"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// IsTerminal reports whether the enrollment reached a permanent end state.
func (e *Enrollment) IsTerminal() bool {
	return e.Status == EnrollmentStatusCompleted || e.Status == EnrollmentStatusCancelled
}

// IsDue reports whether a dormant enrollment may run at now.
func (e *Enrollment) IsDue(now time.Time) bool {
	return e.NextExecuteAt == nil || !now.Before(*e.NextExecuteAt)
}

// EnrollmentTransition is the mutable part of an enrollment written by a
// compare-and-swap update.
type EnrollmentTransition struct {
	Status        EnrollmentStatus
	CurrentStep   int
	NextExecuteAt *time.Time
}

// Apply copies the transition onto the enrollment and bumps its version.
func (e *Enrollment) Apply(t EnrollmentTransition, at time.Time) {
	e.Status = t.Status
	e.CurrentStep = t.CurrentStep
	e.NextExecuteAt = t.NextExecuteAt
	e.Version++
	e.UpdatedAt = at
}
