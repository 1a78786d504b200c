// Package workflow runs drip automations: it enrolls subscribers on trigger
// events and advances their enrollments one step per execution.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/drip/pkg/delivery"
	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/metrics"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/otelhelper"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/queue"
	"github.com/dukex/drip/pkg/template"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultLanguage is the message variant used when the subscriber's
// language has none.
const DefaultLanguage = "en"

// Executor advances enrollments. It is safe for concurrent use; concurrent
// executions of the same enrollment are serialized by the version field.
type Executor struct {
	automations persistence.AutomationRepository
	enrollments persistence.EnrollmentRepository
	deliveries  persistence.DeliveryRepository
	subscribers persistence.SubscriberRepository
	gateway     delivery.Gateway
	scheduler   queue.Scheduler

	publisher       eventbus.EventPublisher
	metrics         *metrics.Metrics
	tracer          trace.Tracer
	logger          *slog.Logger
	now             func() time.Time
	defaultLanguage string
}

// ExecutorOption configures optional collaborators of the Executor.
type ExecutorOption func(*Executor)

// WithPublisher publishes enrollment lifecycle events.
func WithPublisher(publisher eventbus.EventPublisher) ExecutorOption {
	return func(e *Executor) { e.publisher = publisher }
}

func WithMetrics(m *metrics.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = tracer }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

func WithDefaultLanguage(language string) ExecutorOption {
	return func(e *Executor) { e.defaultLanguage = language }
}

func NewExecutor(
	p persistence.Persistence,
	gateway delivery.Gateway,
	scheduler queue.Scheduler,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		automations:     p.AutomationRepository(),
		enrollments:     p.EnrollmentRepository(),
		deliveries:      p.DeliveryRepository(),
		subscribers:     p.SubscriberRepository(),
		gateway:         gateway,
		scheduler:       scheduler,
		tracer:          otelhelper.NoopTracer(),
		logger:          logger.With("module", "executor"),
		now:             time.Now,
		defaultLanguage: DefaultLanguage,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// execution is the state of one Process call.
type execution struct {
	enrollment *models.Enrollment
	subscriber *models.Subscriber
	automation *models.Automation
	steps      []*models.Step
	now        time.Time
	logger     *slog.Logger
	stepType   string
}

// Process runs at most one step of the enrollment and commits the result
// with a single compare-and-swap write. Only infrastructure failures are
// returned; everything else is a terminal or no-op outcome.
func (e *Executor) Process(ctx context.Context, enrollmentID string) error {
	started := time.Now()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "enrollment.process",
		attribute.String(otelhelper.EnrollmentIDKey, enrollmentID),
	)
	defer span.End()

	exec := &execution{
		logger:   e.logger.With("enrollment_id", enrollmentID),
		stepType: "none",
	}

	outcome, err := e.process(ctx, exec, enrollmentID)
	if err != nil {
		outcome = metrics.OutcomeError

		otelhelper.SetError(span, err)
	}

	if exec.enrollment != nil {
		span.SetAttributes(
			attribute.String(otelhelper.AutomationIDKey, exec.enrollment.AutomationID),
			attribute.String(otelhelper.SubscriberIDKey, exec.enrollment.SubscriberID),
			attribute.Int(otelhelper.StepIndexKey, exec.enrollment.CurrentStep),
			attribute.String(otelhelper.StepTypeKey, exec.stepType),
		)
	}

	otelhelper.SetOutcome(span, outcome)
	e.metrics.ObserveExecution(exec.stepType, outcome, time.Since(started))

	return err
}

func (e *Executor) process(ctx context.Context, exec *execution, enrollmentID string) (string, error) {
	enrollment, err := e.enrollments.EnrollmentByID(ctx, enrollmentID)
	if err != nil {
		if persistence.IsEnrollmentNotFound(err) {
			exec.logger.DebugContext(ctx, "Enrollment not found")

			return metrics.OutcomeNoop, nil
		}

		return "", fmt.Errorf("failed to load enrollment: %w", err)
	}

	exec.enrollment = enrollment
	exec.now = e.now()
	exec.logger = exec.logger.With("automation_id", enrollment.AutomationID, "subscriber_id", enrollment.SubscriberID)

	if enrollment.Status != models.EnrollmentStatusActive {
		exec.logger.DebugContext(ctx, "Enrollment is not active", "status", enrollment.Status)

		return metrics.OutcomeNoop, nil
	}

	if !enrollment.IsDue(exec.now) {
		exec.logger.DebugContext(ctx, "Enrollment is not due yet", "next_execute_at", enrollment.NextExecuteAt)

		return metrics.OutcomeNoop, nil
	}

	subscriber, err := e.subscribers.SubscriberByID(ctx, enrollment.SubscriberID)
	if err != nil && !persistence.IsSubscriberNotFound(err) {
		return "", fmt.Errorf("failed to load subscriber: %w", err)
	}

	if subscriber == nil || !subscriber.Eligible() {
		exec.logger.InfoContext(ctx, "Subscriber is not eligible, cancelling enrollment")

		return e.cancel(ctx, exec, events.ReasonSubscriberIneligible)
	}

	exec.subscriber = subscriber

	automation, steps, err := e.automations.AutomationWithSteps(ctx, enrollment.AutomationID)
	if err != nil && !persistence.IsAutomationNotFound(err) {
		return "", fmt.Errorf("failed to load automation: %w", err)
	}

	if automation == nil || !automation.IsActive {
		exec.logger.InfoContext(ctx, "Automation is not active, cancelling enrollment")

		return e.cancel(ctx, exec, events.ReasonAutomationInactive)
	}

	exec.automation = automation
	exec.steps = models.SortSteps(steps)

	cursor := enrollment.CurrentStep
	if cursor >= len(exec.steps) {
		return e.complete(ctx, exec, cursor)
	}

	stepConfig := exec.steps[cursor].Config
	if stepConfig == nil {
		stepConfig = models.UnknownConfig{Type: exec.steps[cursor].Type}
	}

	exec.stepType = string(stepConfig.StepType())
	exec.logger = exec.logger.With("step", cursor, "step_type", exec.stepType)

	switch config := stepConfig.(type) {
	case models.SendMessageConfig:
		e.sendMessage(ctx, exec, config)

		return e.advance(ctx, exec, cursor+1)
	case models.WaitConfig:
		return e.advance(ctx, exec, cursor)
	case models.ConditionConfig:
		if config.Field == "" || config.Operator == "" {
			exec.logger.WarnContext(ctx, "Condition step is missing field or operator, skipping")

			return e.advance(ctx, exec, cursor+1)
		}

		matched, known := Evaluate(config.Condition, Variables(exec.subscriber, enrollment))
		if !known {
			exec.logger.WarnContext(ctx, "Unknown condition operator, evaluating as eq", "operator", config.Operator)
		}

		if !matched {
			exec.logger.InfoContext(ctx, "Condition failed, cancelling enrollment", "field", config.Field)

			return e.cancel(ctx, exec, events.ReasonConditionFailed)
		}

		return e.advance(ctx, exec, cursor+1)
	case models.InvalidConfig:
		exec.logger.WarnContext(ctx, "Step config is malformed, skipping", "error", config.Err)

		return e.advance(ctx, exec, cursor+1)
	default:
		exec.logger.WarnContext(ctx, "Unknown step type, skipping")

		return e.advance(ctx, exec, cursor+1)
	}
}

// sendMessage delivers the step's message and records the attempt. Delivery
// failures are recorded, not returned.
func (e *Executor) sendMessage(ctx context.Context, exec *execution, config models.SendMessageConfig) {
	text, language, ok := template.SelectMessage(config.Messages, exec.subscriber.Language, e.defaultLanguage)
	if !ok {
		exec.logger.WarnContext(ctx, "Send message step has no message variant, skipping")

		return
	}

	vars := Variables(exec.subscriber, exec.enrollment)
	content := template.Clamp(template.Render(text, vars), e.gateway.MaxLength())

	result := e.gateway.Send(ctx, delivery.OutboundMessage{
		Destination: exec.subscriber.ChatID,
		Text:        content,
		FormatMode:  config.ParseMode,
	})

	record := &models.Delivery{
		ID:               uuid.NewString(),
		AutomationID:     exec.enrollment.AutomationID,
		EnrollmentID:     exec.enrollment.ID,
		SubscriberID:     exec.enrollment.SubscriberID,
		Content:          content,
		Status:           delivery.Classify(result),
		ChannelMessageID: result.MessageID,
		Error:            result.Error,
		SentAt:           exec.now,
	}

	exec.logger.InfoContext(ctx, "Message delivered", "language", language, "status", record.Status)
	e.metrics.IncDelivery(string(record.Status))

	// The message is out; a lost audit row must not cause a second send.
	err := e.deliveries.AppendDelivery(ctx, record)
	if err != nil {
		exec.logger.ErrorContext(ctx, "Failed to record delivery", "error", err)

		return
	}

	e.publish(ctx, exec, events.NewDeliveryRecorded(exec.enrollment, record))
}

// plan finds where the enrollment goes next starting at from. Non-positive
// waits are skipped; a positive wait is consumed and turned into a wake-up
// time.
func plan(steps []*models.Step, from int, now time.Time) (models.EnrollmentTransition, time.Duration) {
	target := from

	for target < len(steps) {
		wait, ok := steps[target].Config.(models.WaitConfig)
		if !ok || wait.DelayMinutes > 0 {
			break
		}

		target++
	}

	if target >= len(steps) {
		return models.EnrollmentTransition{
			Status:      models.EnrollmentStatusCompleted,
			CurrentStep: len(steps),
		}, 0
	}

	if wait, ok := steps[target].Config.(models.WaitConfig); ok {
		delay := time.Duration(wait.DelayMinutes) * time.Minute
		wakeAt := now.Add(delay)

		return models.EnrollmentTransition{
			Status:        models.EnrollmentStatusActive,
			CurrentStep:   target + 1,
			NextExecuteAt: &wakeAt,
		}, delay
	}

	return models.EnrollmentTransition{
		Status:      models.EnrollmentStatusActive,
		CurrentStep: target,
	}, 0
}

func (e *Executor) advance(ctx context.Context, exec *execution, from int) (string, error) {
	transition, delay := plan(exec.steps, from, exec.now)

	if transition.Status == models.EnrollmentStatusCompleted {
		return e.finish(ctx, exec, transition, metrics.OutcomeCompleted, func(enrollment *models.Enrollment) eventbus.Event {
			return events.NewEnrollmentCompleted(enrollment)
		})
	}

	committed, err := e.commit(ctx, exec, transition)
	if err != nil {
		return "", err
	}

	if !committed {
		return metrics.OutcomeConflict, nil
	}

	err = e.scheduler.Enqueue(ctx, queue.NewProcessTask(exec.enrollment.ID), delay)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue next step: %w", err)
	}

	if transition.NextExecuteAt != nil {
		exec.logger.InfoContext(ctx, "Enrollment waiting", "next_step", transition.CurrentStep, "next_execute_at", transition.NextExecuteAt)

		return metrics.OutcomeWaiting, nil
	}

	exec.logger.DebugContext(ctx, "Enrollment advanced", "next_step", transition.CurrentStep)

	return metrics.OutcomeAdvanced, nil
}

func (e *Executor) complete(ctx context.Context, exec *execution, cursor int) (string, error) {
	transition := models.EnrollmentTransition{
		Status:      models.EnrollmentStatusCompleted,
		CurrentStep: cursor,
	}

	return e.finish(ctx, exec, transition, metrics.OutcomeCompleted, func(enrollment *models.Enrollment) eventbus.Event {
		return events.NewEnrollmentCompleted(enrollment)
	})
}

func (e *Executor) cancel(ctx context.Context, exec *execution, reason string) (string, error) {
	transition := models.EnrollmentTransition{
		Status:      models.EnrollmentStatusCancelled,
		CurrentStep: exec.enrollment.CurrentStep,
	}

	return e.finish(ctx, exec, transition, metrics.OutcomeCancelled, func(enrollment *models.Enrollment) eventbus.Event {
		return events.NewEnrollmentCancelled(enrollment, reason)
	})
}

// finish commits a terminal transition and announces it.
func (e *Executor) finish(
	ctx context.Context,
	exec *execution,
	transition models.EnrollmentTransition,
	outcome string,
	event func(*models.Enrollment) eventbus.Event,
) (string, error) {
	committed, err := e.commit(ctx, exec, transition)
	if err != nil {
		return "", err
	}

	if !committed {
		return metrics.OutcomeConflict, nil
	}

	exec.logger.InfoContext(ctx, "Enrollment finished", "status", transition.Status)
	e.publish(ctx, exec, event(exec.enrollment))

	return outcome, nil
}

// commit writes the transition if nobody else has touched the enrollment
// since it was read. committed is false when the write lost the race.
func (e *Executor) commit(ctx context.Context, exec *execution, transition models.EnrollmentTransition) (bool, error) {
	rows, err := e.enrollments.UpdateEnrollment(ctx, exec.enrollment.ID, exec.enrollment.Version, transition)
	if err != nil {
		return false, fmt.Errorf("failed to update enrollment: %w", err)
	}

	if rows == 0 {
		exec.logger.WarnContext(ctx, "Enrollment changed concurrently, dropping execution", "version", exec.enrollment.Version)

		return false, nil
	}

	exec.enrollment.Apply(transition, exec.now)

	return true, nil
}

func (e *Executor) publish(ctx context.Context, exec *execution, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, exec.enrollment.SubscriberID, event)
	if err != nil {
		exec.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
