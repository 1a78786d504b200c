// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/google/uuid"
)

// CreateTestAutomation creates an active automation triggered by
// "subscriber.signed_up" with default values that can be overridden.
func CreateTestAutomation(overrides ...func(*models.Automation)) *models.Automation {
	now := time.Now().UTC()
	automation := &models.Automation{
		ID:           uuid.New().String(),
		Name:         "Test Automation",
		TriggerEvent: "subscriber.signed_up",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for _, override := range overrides {
		override(automation)
	}

	return automation
}

// WithAutomationID sets the automation ID.
func WithAutomationID(id string) func(*models.Automation) {
	return func(a *models.Automation) {
		a.ID = id
	}
}

// WithTrigger sets the trigger event name.
func WithTrigger(event string) func(*models.Automation) {
	return func(a *models.Automation) {
		a.TriggerEvent = event
	}
}

// WithEntryCondition appends an entry condition.
func WithEntryCondition(field, operator string, value any) func(*models.Automation) {
	return func(a *models.Automation) {
		a.Conditions = append(a.Conditions, models.Condition{Field: field, Operator: operator, Value: value})
	}
}

// WithReenrollment allows subscribers to enroll again after a terminal enrollment.
func WithReenrollment() func(*models.Automation) {
	return func(a *models.Automation) {
		a.AllowReenrollment = true
	}
}

// Inactive marks the automation as not accepting enrollments.
func Inactive() func(*models.Automation) {
	return func(a *models.Automation) {
		a.IsActive = false
	}
}

// Steps builds ordered steps from configs.
func Steps(configs ...models.StepConfig) []*models.Step {
	steps := make([]*models.Step, 0, len(configs))
	for i, config := range configs {
		steps = append(steps, &models.Step{Order: i, Type: config.StepType(), Config: config})
	}

	return steps
}

// Message creates a send_message config with a single English variant.
func Message(text string) models.SendMessageConfig {
	return models.SendMessageConfig{Messages: map[string]string{"en": text}}
}

// Wait creates a wait config.
func Wait(minutes int) models.WaitConfig {
	return models.WaitConfig{DelayMinutes: minutes}
}

// CreateTestSubscriber creates an active English subscriber.
func CreateTestSubscriber(id string, attributes map[string]any) *models.Subscriber {
	return &models.Subscriber{
		ID:         id,
		Status:     models.SubscriberStatusActive,
		Language:   "en",
		ChatID:     "chat-" + id,
		Attributes: attributes,
	}
}

// CreateTestEnrollment creates an active enrollment at step 0.
func CreateTestEnrollment(automationID, subscriberID string) *models.Enrollment {
	now := time.Now().UTC()

	return &models.Enrollment{
		ID:           uuid.New().String(),
		AutomationID: automationID,
		SubscriberID: subscriberID,
		Status:       models.EnrollmentStatusActive,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
