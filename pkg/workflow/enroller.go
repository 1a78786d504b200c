package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/metrics"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/queue"
	"github.com/google/uuid"
)

// Enrollment results counted by the enroller.
const (
	EnrollmentResultCreated   = "created"
	EnrollmentResultDuplicate = "duplicate"
	EnrollmentResultFiltered  = "filtered"
)

// ErrInvalidTrigger is returned for trigger events without a name or subscriber.
var ErrInvalidTrigger = errors.New("trigger event needs a name and a subscriber id")

// Enroller starts enrollments for the active automations listening to a
// trigger event.
type Enroller struct {
	automations persistence.AutomationRepository
	enrollments persistence.EnrollmentRepository
	subscribers persistence.SubscriberRepository
	scheduler   queue.Scheduler
	publisher   eventbus.EventPublisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewEnroller creates an enroller. publisher and m may be nil.
func NewEnroller(
	p persistence.Persistence,
	scheduler queue.Scheduler,
	publisher eventbus.EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Enroller {
	return &Enroller{
		automations: p.AutomationRepository(),
		enrollments: p.EnrollmentRepository(),
		subscribers: p.SubscriberRepository(),
		scheduler:   scheduler,
		publisher:   publisher,
		metrics:     m,
		logger:      logger.With("module", "enroller"),
		now:         time.Now,
	}
}

// Enroll creates one enrollment per matching automation and schedules its
// first execution. It returns the enrollments created.
func (en *Enroller) Enroll(ctx context.Context, trigger models.TriggerEvent) ([]*models.Enrollment, error) {
	if trigger.Name == "" || trigger.SubscriberID == "" {
		return nil, ErrInvalidTrigger
	}

	logger := en.logger.With("trigger", trigger.Name, "subscriber_id", trigger.SubscriberID)

	automations, err := en.automations.ActiveAutomationsByTrigger(ctx, trigger.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to find automations for %s: %w", trigger.Name, err)
	}

	if len(automations) == 0 {
		logger.DebugContext(ctx, "No active automation for trigger")

		return nil, nil
	}

	subscriber, err := en.subscribers.SubscriberByID(ctx, trigger.SubscriberID)
	if err != nil {
		if persistence.IsSubscriberNotFound(err) {
			logger.InfoContext(ctx, "Unknown subscriber, ignoring trigger")

			return nil, nil
		}

		return nil, fmt.Errorf("failed to load subscriber: %w", err)
	}

	if !subscriber.Eligible() {
		logger.InfoContext(ctx, "Subscriber is not eligible, ignoring trigger", "status", subscriber.Status)

		return nil, nil
	}

	vars := entryVariables(subscriber, trigger.Payload)

	var created []*models.Enrollment

	for _, automation := range automations {
		log := logger.With("automation_id", automation.ID)

		if !EvaluateAll(automation.Conditions, vars) {
			log.DebugContext(ctx, "Entry conditions not met")
			en.metrics.IncEnrollment(EnrollmentResultFiltered)

			continue
		}

		enrollment, err := en.enroll(ctx, log, automation, trigger)
		if err != nil {
			return created, err
		}

		if enrollment != nil {
			created = append(created, enrollment)
		}
	}

	return created, nil
}

func (en *Enroller) enroll(
	ctx context.Context,
	logger *slog.Logger,
	automation *models.Automation,
	trigger models.TriggerEvent,
) (*models.Enrollment, error) {
	latest, err := en.enrollments.LatestEnrollment(ctx, automation.ID, trigger.SubscriberID)
	if err != nil && !persistence.IsEnrollmentNotFound(err) {
		return nil, fmt.Errorf("failed to check existing enrollment: %w", err)
	}

	if latest != nil && (!latest.IsTerminal() || !automation.AllowReenrollment) {
		logger.DebugContext(ctx, "Subscriber already enrolled", "enrollment_id", latest.ID, "status", latest.Status)
		en.metrics.IncEnrollment(EnrollmentResultDuplicate)

		return nil, nil
	}

	now := en.now().UTC()
	enrollment := &models.Enrollment{
		ID:           uuid.NewString(),
		AutomationID: automation.ID,
		SubscriberID: trigger.SubscriberID,
		Status:       models.EnrollmentStatusActive,
		CurrentStep:  0,
		EventPayload: trigger.Payload,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = en.enrollments.CreateEnrollment(ctx, enrollment)
	if err != nil {
		if errors.Is(err, persistence.ErrEnrollmentAlreadyExists) {
			logger.DebugContext(ctx, "Concurrent enrollment won")
			en.metrics.IncEnrollment(EnrollmentResultDuplicate)

			return nil, nil
		}

		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	en.metrics.IncEnrollment(EnrollmentResultCreated)
	logger.InfoContext(ctx, "Subscriber enrolled", "enrollment_id", enrollment.ID)

	// The sweeper picks up active enrollments whose task never made it.
	err = en.scheduler.Enqueue(ctx, queue.NewProcessTask(enrollment.ID), 0)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to enqueue first execution", "enrollment_id", enrollment.ID, "error", err)
	}

	if en.publisher != nil {
		err = en.publisher.Publish(ctx, enrollment.SubscriberID, events.NewEnrollmentCreated(enrollment, trigger.Name))
		if err != nil {
			logger.WarnContext(ctx, "Failed to publish enrollment created", "error", err)
		}
	}

	return enrollment, nil
}

// HandleTriggerFired is the event bus handler for trigger events.
func (en *Enroller) HandleTriggerFired(ctx context.Context, event any) error {
	fired, ok := event.(*events.TriggerFired)
	if !ok {
		en.logger.WarnContext(ctx, "Unexpected event on trigger handler", "type", fmt.Sprintf("%T", event))

		return nil
	}

	_, err := en.Enroll(ctx, fired.TriggerEvent())
	if errors.Is(err, ErrInvalidTrigger) {
		en.logger.WarnContext(ctx, "Dropping invalid trigger event", "event_id", fired.ID)

		return nil
	}

	return err
}
