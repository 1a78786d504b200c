package mocks

import (
	"context"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockAutomationRepository is a mock implementation of persistence.AutomationRepository interface.
type MockAutomationRepository struct {
	mock.Mock
}

func (m *MockAutomationRepository) AutomationWithSteps(ctx context.Context, id string) (*models.Automation, []*models.Step, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}

	steps, _ := args.Get(1).([]*models.Step)

	return args.Get(0).(*models.Automation), steps, args.Error(2)
}

func (m *MockAutomationRepository) ActiveAutomationsByTrigger(ctx context.Context, event string) ([]*models.Automation, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Automation), args.Error(1)
}

func (m *MockAutomationRepository) Automations(ctx context.Context) ([]*models.Automation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Automation), args.Error(1)
}

func (m *MockAutomationRepository) SaveAutomation(ctx context.Context, automation *models.Automation, steps []*models.Step) error {
	args := m.Called(ctx, automation, steps)

	return args.Error(0)
}

func (m *MockAutomationRepository) SetAutomationActive(ctx context.Context, id string, active bool) error {
	args := m.Called(ctx, id, active)

	return args.Error(0)
}

// MockEnrollmentRepository is a mock implementation of persistence.EnrollmentRepository interface.
type MockEnrollmentRepository struct {
	mock.Mock
}

func (m *MockEnrollmentRepository) EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Enrollment), args.Error(1)
}

func (m *MockEnrollmentRepository) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	args := m.Called(ctx, enrollment)

	return args.Error(0)
}

func (m *MockEnrollmentRepository) UpdateEnrollment(ctx context.Context, id string, expectedVersion int, transition models.EnrollmentTransition) (int64, error) {
	args := m.Called(ctx, id, expectedVersion, transition)

	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEnrollmentRepository) LatestEnrollment(ctx context.Context, automationID, subscriberID string) (*models.Enrollment, error) {
	args := m.Called(ctx, automationID, subscriberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Enrollment), args.Error(1)
}

func (m *MockEnrollmentRepository) DueEnrollments(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Enrollment, error) {
	args := m.Called(ctx, now, staleBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Enrollment), args.Error(1)
}

// MockDeliveryRepository is a mock implementation of persistence.DeliveryRepository interface.
type MockDeliveryRepository struct {
	mock.Mock
}

func (m *MockDeliveryRepository) AppendDelivery(ctx context.Context, delivery *models.Delivery) error {
	args := m.Called(ctx, delivery)

	return args.Error(0)
}

func (m *MockDeliveryRepository) DeliveriesByEnrollment(ctx context.Context, enrollmentID string) ([]*models.Delivery, error) {
	args := m.Called(ctx, enrollmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Delivery), args.Error(1)
}

// MockSubscriberRepository is a mock implementation of persistence.SubscriberRepository interface.
type MockSubscriberRepository struct {
	mock.Mock
}

func (m *MockSubscriberRepository) SubscriberByID(ctx context.Context, id string) (*models.Subscriber, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Subscriber), args.Error(1)
}

func (m *MockSubscriberRepository) SaveSubscriber(ctx context.Context, subscriber *models.Subscriber) error {
	args := m.Called(ctx, subscriber)

	return args.Error(0)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Automations *MockAutomationRepository
	Enrollments *MockEnrollmentRepository
	Deliveries  *MockDeliveryRepository
	Subscribers *MockSubscriberRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Automations: &MockAutomationRepository{},
		Enrollments: &MockEnrollmentRepository{},
		Deliveries:  &MockDeliveryRepository{},
		Subscribers: &MockSubscriberRepository{},
	}
}

func (m *MockPersistence) AutomationRepository() persistence.AutomationRepository {
	return m.Automations
}

func (m *MockPersistence) EnrollmentRepository() persistence.EnrollmentRepository {
	return m.Enrollments
}

func (m *MockPersistence) DeliveryRepository() persistence.DeliveryRepository {
	return m.Deliveries
}

func (m *MockPersistence) SubscriberRepository() persistence.SubscriberRepository {
	return m.Subscribers
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
