// Package persistence provides the storage abstraction for automations, enrollments and deliveries.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/drip/pkg/models"
)

// Persistence groups the repositories of a storage backend.
type Persistence interface {
	AutomationRepository() AutomationRepository
	EnrollmentRepository() EnrollmentRepository
	DeliveryRepository() DeliveryRepository
	SubscriberRepository() SubscriberRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// AutomationRepository gives access to automation definitions. Writes
// normalize step orders to 0..n-1.
type AutomationRepository interface {
	// AutomationWithSteps returns the automation and its steps sorted by order.
	AutomationWithSteps(ctx context.Context, id string) (*models.Automation, []*models.Step, error)
	ActiveAutomationsByTrigger(ctx context.Context, event string) ([]*models.Automation, error)
	Automations(ctx context.Context) ([]*models.Automation, error)
	SaveAutomation(ctx context.Context, automation *models.Automation, steps []*models.Step) error
	SetAutomationActive(ctx context.Context, id string, active bool) error
}

// EnrollmentRepository owns enrollment records and their version field.
type EnrollmentRepository interface {
	EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error)
	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error

	// UpdateEnrollment applies the transition only if the stored version still
	// equals expectedVersion, incrementing it. It returns the number of rows
	// changed: 0 means another writer got there first.
	UpdateEnrollment(ctx context.Context, id string, expectedVersion int, transition models.EnrollmentTransition) (int64, error)

	// LatestEnrollment returns the most recent enrollment of the subscriber in
	// the automation, or ErrEnrollmentNotFound.
	LatestEnrollment(ctx context.Context, automationID, subscriberID string) (*models.Enrollment, error)

	// DueEnrollments lists active enrollments whose wait elapsed before now, or
	// that have no wake-up time and were last touched before staleBefore.
	DueEnrollments(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Enrollment, error)
}

// DeliveryRepository stores the append-only delivery audit trail.
type DeliveryRepository interface {
	AppendDelivery(ctx context.Context, delivery *models.Delivery) error
	DeliveriesByEnrollment(ctx context.Context, enrollmentID string) ([]*models.Delivery, error)
}

// SubscriberRepository reads subscribers. Saving exists for imports and tests.
type SubscriberRepository interface {
	SubscriberByID(ctx context.Context, id string) (*models.Subscriber, error)
	SaveSubscriber(ctx context.Context, subscriber *models.Subscriber) error
}
