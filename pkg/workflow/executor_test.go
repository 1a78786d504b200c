package workflow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/dukex/drip/pkg/delivery"
	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/persistence/file"
	"github.com/dukex/drip/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu        sync.Mutex
	sent      []delivery.OutboundMessage
	result    delivery.Result
	maxLength int
}

func (g *fakeGateway) Send(_ context.Context, message delivery.OutboundMessage) delivery.Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sent = append(g.sent, message)

	if g.result == (delivery.Result{}) {
		return delivery.Result{OK: true, MessageID: "m-1"}
	}

	return g.result
}

func (g *fakeGateway) MaxLength() int {
	if g.maxLength == 0 {
		return 4096
	}

	return g.maxLength
}

func (g *fakeGateway) messages() []delivery.OutboundMessage {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]delivery.OutboundMessage(nil), g.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	root      string
	p         *file.Persistence
	queue     *queue.MemoryQueue
	gateway   *fakeGateway
	publisher *recordingPublisher
	executor  *Executor
	enroller  *Enroller

	mu        sync.Mutex
	now       time.Time
	scheduled []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	root := t.TempDir()

	h := &harness{
		t:         t,
		ctx:       context.Background(),
		root:      root,
		p:         file.NewPersistence(root),
		gateway:   &fakeGateway{},
		publisher: &recordingPublisher{},
		now:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	logger := slog.New(slog.DiscardHandler)

	h.queue = queue.NewMemoryQueue().WithClock(h.clock)
	h.executor = NewExecutor(h.p, h.gateway, h.queue, logger,
		WithPublisher(h.publisher),
		WithClock(h.clock),
	)
	h.enroller = NewEnroller(h.p, h.queue, h.publisher, nil, logger)
	h.enroller.now = h.clock

	t.Cleanup(func() { _ = h.queue.Close() })

	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.now
}

func (h *harness) advanceClock(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()

	_, err := h.queue.PromoteDue(h.ctx, h.clock())
	require.NoError(h.t, err)
}

func (h *harness) saveAutomation(id string, steps ...models.StepConfig) *models.Automation {
	h.t.Helper()

	automation := &models.Automation{
		ID:           id,
		Name:         "Automation " + id,
		TriggerEvent: "subscriber.signed_up",
		IsActive:     true,
	}

	list := make([]*models.Step, 0, len(steps))
	for i, config := range steps {
		list = append(list, &models.Step{Order: i, Config: config})
	}

	require.NoError(h.t, h.p.AutomationRepository().SaveAutomation(h.ctx, automation, list))

	return automation
}

func (h *harness) saveSubscriber(subscriber *models.Subscriber) {
	h.t.Helper()

	if subscriber.Status == "" {
		subscriber.Status = models.SubscriberStatusActive
	}

	require.NoError(h.t, h.p.SubscriberRepository().SaveSubscriber(h.ctx, subscriber))
}

func (h *harness) enroll(name, subscriberID string, payload map[string]any) *models.Enrollment {
	h.t.Helper()

	created, err := h.enroller.Enroll(h.ctx, models.TriggerEvent{Name: name, SubscriberID: subscriberID, Payload: payload})
	require.NoError(h.t, err)
	require.Len(h.t, created, 1)

	return created[0]
}

// drain processes ready tasks until the queue has none, like a worker would.
func (h *harness) drain() int {
	h.t.Helper()

	processed := 0

	for {
		task, err := h.queue.Reserve(h.ctx, "test", time.Millisecond)
		require.NoError(h.t, err)

		if task == nil {
			return processed
		}

		require.NoError(h.t, h.executor.Process(h.ctx, task.EnrollmentID))
		require.NoError(h.t, h.queue.Ack(h.ctx, "test", task))

		processed++
	}
}

func (h *harness) enrollment(id string) *models.Enrollment {
	h.t.Helper()

	enrollment, err := h.p.EnrollmentRepository().EnrollmentByID(h.ctx, id)
	require.NoError(h.t, err)

	return enrollment
}

func (h *harness) deliveries(id string) []*models.Delivery {
	h.t.Helper()

	deliveries, err := h.p.DeliveryRepository().DeliveriesByEnrollment(h.ctx, id)
	require.NoError(h.t, err)

	return deliveries
}

func message(texts map[string]string) models.SendMessageConfig {
	return models.SendMessageConfig{Messages: texts}
}

func TestExecutor_SendWaitSend(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("welcome",
		message(map[string]string{"en": "Hello {{first_name}}"}),
		models.WaitConfig{DelayMinutes: 60},
		message(map[string]string{"en": "Still there, {{first_name}}?"}),
	)
	h.saveSubscriber(&models.Subscriber{ID: "ana", Language: "en", ChatID: "100", Attributes: map[string]any{"first_name": "Ana"}})

	enrollment := h.enroll("subscriber.signed_up", "ana", nil)

	assert.Equal(t, 1, h.drain())

	stored := h.enrollment(enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusActive, stored.Status)
	assert.Equal(t, 2, stored.CurrentStep)
	require.NotNil(t, stored.NextExecuteAt)
	assert.Equal(t, h.clock().Add(60*time.Minute), stored.NextExecuteAt.UTC())
	assert.Equal(t, h.clock().Add(60*time.Minute), h.queue.Delayed()[enrollment.ID])

	require.Len(t, h.deliveries(enrollment.ID), 1)
	assert.Equal(t, "Hello Ana", h.gateway.messages()[0].Text)
	assert.Equal(t, "100", h.gateway.messages()[0].Destination)

	h.advanceClock(59 * time.Minute)
	assert.Equal(t, 0, h.drain(), "nothing runs before the wait elapses")

	h.advanceClock(time.Minute)
	assert.Equal(t, 1, h.drain())

	stored = h.enrollment(enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusCompleted, stored.Status)
	assert.Nil(t, stored.NextExecuteAt)

	deliveries := h.deliveries(enrollment.ID)
	require.Len(t, deliveries, 2)
	assert.Equal(t, "Still there, Ana?", deliveries[1].Content)
	assert.Equal(t, models.DeliveryStatusSent, deliveries[1].Status)

	assert.Equal(t, []events.EventType{
		events.EnrollmentCreatedEvent,
		events.DeliveryRecordedEvent,
		events.DeliveryRecordedEvent,
		events.EnrollmentCompletedEvent,
	}, h.publisher.types())
}

func TestExecutor_ConditionFailsCancels(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("seniors",
		models.ConditionConfig{Condition: models.Condition{Field: "experienceYears", Operator: "gt", Value: 5}},
		message(map[string]string{"en": "Welcome, senior"}),
	)
	h.saveSubscriber(&models.Subscriber{ID: "bo", Attributes: map[string]any{"experienceYears": 3}})

	enrollment := h.enroll("subscriber.signed_up", "bo", nil)
	h.drain()

	stored := h.enrollment(enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusCancelled, stored.Status)
	assert.Equal(t, 0, stored.CurrentStep)
	assert.Empty(t, h.gateway.messages())
	assert.Contains(t, h.publisher.types(), events.EnrollmentCancelledEvent)
}

func TestExecutor_ConditionHoldsAdvances(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("seniors",
		models.ConditionConfig{Condition: models.Condition{Field: "experienceYears", Operator: "gt", Value: 5}},
		message(map[string]string{"en": "Welcome, senior"}),
	)
	h.saveSubscriber(&models.Subscriber{ID: "cy", Attributes: map[string]any{"experienceYears": 3}})

	enrollment := h.enroll("subscriber.signed_up", "cy", map[string]any{"experienceYears": 8})
	h.drain()

	assert.Equal(t, models.EnrollmentStatusCompleted, h.enrollment(enrollment.ID).Status, "event payload overrides attributes")
	assert.Len(t, h.gateway.messages(), 1)
}

func TestExecutor_LanguageFallback(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("welcome", message(map[string]string{"en": "Hello {{name}}", "fr": "Bonjour {{name}}"}))
	h.saveSubscriber(&models.Subscriber{ID: "dora", Language: "de", Attributes: map[string]any{"name": "Dora"}})

	h.enroll("subscriber.signed_up", "dora", nil)
	h.drain()

	require.Len(t, h.gateway.messages(), 1)
	assert.Equal(t, "Hello Dora", h.gateway.messages()[0].Text)
}

func TestExecutor_ZeroWaitIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("burst",
		message(map[string]string{"en": "one"}),
		models.WaitConfig{DelayMinutes: 0},
		message(map[string]string{"en": "two"}),
	)
	h.saveSubscriber(&models.Subscriber{ID: "eli"})

	enrollment := h.enroll("subscriber.signed_up", "eli", nil)

	task, err := h.queue.Reserve(h.ctx, "test", time.Second)
	require.NoError(t, err)
	require.NoError(t, h.executor.Process(h.ctx, task.EnrollmentID))

	stored := h.enrollment(enrollment.ID)
	assert.Equal(t, 2, stored.CurrentStep, "the zero wait is passed in the same execution")
	assert.Nil(t, stored.NextExecuteAt)

	ready, delayed, _ := h.queue.Stats()
	assert.Equal(t, 1, ready)
	assert.Equal(t, 0, delayed)

	h.drain()

	assert.Equal(t, models.EnrollmentStatusCompleted, h.enrollment(enrollment.ID).Status)
	assert.Len(t, h.gateway.messages(), 2)
}

func TestExecutor_LeadingWait(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("later",
		models.WaitConfig{DelayMinutes: 30},
		message(map[string]string{"en": "hi"}),
	)
	h.saveSubscriber(&models.Subscriber{ID: "fay"})

	enrollment := h.enroll("subscriber.signed_up", "fay", nil)
	h.drain()

	stored := h.enrollment(enrollment.ID)
	assert.Equal(t, 1, stored.CurrentStep)
	require.NotNil(t, stored.NextExecuteAt)
	assert.Empty(t, h.gateway.messages())

	h.advanceClock(30 * time.Minute)
	h.drain()

	assert.Equal(t, models.EnrollmentStatusCompleted, h.enrollment(enrollment.ID).Status)
	assert.Len(t, h.gateway.messages(), 1)
}

func TestExecutor_TerminalAndMissingAreNoops(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("welcome", message(map[string]string{"en": "hi"}))
	h.saveSubscriber(&models.Subscriber{ID: "gus"})

	enrollment := h.enroll("subscriber.signed_up", "gus", nil)
	h.drain()

	done := h.enrollment(enrollment.ID)
	require.Equal(t, models.EnrollmentStatusCompleted, done.Status)

	for range 3 {
		require.NoError(t, h.executor.Process(h.ctx, enrollment.ID))
	}

	again := h.enrollment(enrollment.ID)
	assert.Equal(t, done.Version, again.Version)
	assert.Len(t, h.gateway.messages(), 1)

	require.NoError(t, h.executor.Process(h.ctx, "does-not-exist"))
}

func TestExecutor_EarlyTaskDoesNotSkipWait(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("welcome",
		message(map[string]string{"en": "one"}),
		models.WaitConfig{DelayMinutes: 10},
		message(map[string]string{"en": "two"}),
	)
	h.saveSubscriber(&models.Subscriber{ID: "hal"})

	enrollment := h.enroll("subscriber.signed_up", "hal", nil)
	h.drain()

	before := h.enrollment(enrollment.ID)

	require.NoError(t, h.executor.Process(h.ctx, enrollment.ID))

	after := h.enrollment(enrollment.ID)
	assert.Equal(t, before.Version, after.Version)
	assert.Len(t, h.gateway.messages(), 1)
}

func TestExecutor_IneligibleSubscriberCancels(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("welcome", message(map[string]string{"en": "hi"}))
	h.saveSubscriber(&models.Subscriber{ID: "ida"})

	enrollment := h.enroll("subscriber.signed_up", "ida", nil)
	h.saveSubscriber(&models.Subscriber{ID: "ida", Status: models.SubscriberStatusBlocked})

	h.drain()

	assert.Equal(t, models.EnrollmentStatusCancelled, h.enrollment(enrollment.ID).Status)
	assert.Empty(t, h.gateway.messages())
}

func TestExecutor_InactiveAutomationCancels(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("welcome", message(map[string]string{"en": "hi"}))
	h.saveSubscriber(&models.Subscriber{ID: "jo"})

	enrollment := h.enroll("subscriber.signed_up", "jo", nil)
	require.NoError(t, h.p.AutomationRepository().SetAutomationActive(h.ctx, "welcome", false))

	h.drain()

	assert.Equal(t, models.EnrollmentStatusCancelled, h.enrollment(enrollment.ID).Status)
	assert.Empty(t, h.gateway.messages())
}

func TestExecutor_SkipsUnknownStepsAndMissingVariants(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("mixed",
		models.UnknownConfig{Type: "webhook"},
		message(map[string]string{"pt": ""}),
		message(map[string]string{"en": "made it"}),
	)
	h.saveSubscriber(&models.Subscriber{ID: "kai"})

	enrollment := h.enroll("subscriber.signed_up", "kai", nil)
	h.drain()

	assert.Equal(t, models.EnrollmentStatusCompleted, h.enrollment(enrollment.ID).Status)

	deliveries := h.deliveries(enrollment.ID)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "made it", deliveries[0].Content)
}

// rewriteStoredAutomation edits the automation document on disk the way an
// outside writer would, bypassing SaveAutomation.
func (h *harness) rewriteStoredAutomation(id, old, replacement string) {
	h.t.Helper()

	path := filepath.Join(h.root, "automations", id+".json")

	data, err := os.ReadFile(path)
	require.NoError(h.t, err)
	require.Contains(h.t, string(data), old)

	err = os.WriteFile(path, []byte(strings.Replace(string(data), old, replacement, 1)), 0600)
	require.NoError(h.t, err)
}

func TestExecutor_SkipsMalformedStoredConfig(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("welcome",
		message(map[string]string{"en": "one"}),
		models.WaitConfig{DelayMinutes: 60},
		message(map[string]string{"en": "two"}),
	)
	h.saveSubscriber(&models.Subscriber{ID: "nia"})

	enrollment := h.enroll("subscriber.signed_up", "nia", nil)
	h.rewriteStoredAutomation("welcome", `"delay_minutes":60`, `"delay_minutes":"60"`)

	h.drain()

	stored := h.enrollment(enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusCompleted, stored.Status)
	assert.Nil(t, stored.NextExecuteAt)

	deliveries := h.deliveries(enrollment.ID)
	require.Len(t, deliveries, 2)
	assert.Equal(t, "one", deliveries[0].Content)
	assert.Equal(t, "two", deliveries[1].Content)
}

func TestExecutor_EnrollsDespiteMalformedStoredConfig(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("welcome",
		models.WaitConfig{DelayMinutes: 60},
		message(map[string]string{"en": "hi"}),
	)
	h.saveSubscriber(&models.Subscriber{ID: "oli"})
	h.rewriteStoredAutomation("welcome", `"delay_minutes":60`, `"delay_minutes":"60"`)

	created, err := h.enroller.Enroll(h.ctx, models.TriggerEvent{Name: "subscriber.signed_up", SubscriberID: "oli"})
	require.NoError(t, err)
	require.Len(t, created, 1)

	h.drain()

	assert.Equal(t, models.EnrollmentStatusCompleted, h.enrollment(created[0].ID).Status)
	require.Len(t, h.gateway.messages(), 1)
}

func TestExecutor_ClampsToChannelLength(t *testing.T) {
	h := newHarness(t)
	h.gateway.maxLength = 4096
	h.saveAutomation("long", message(map[string]string{"en": "{{body}}"}))
	h.saveSubscriber(&models.Subscriber{ID: "lea", Attributes: map[string]any{"body": strings.Repeat("x", 5000)}})

	h.enroll("subscriber.signed_up", "lea", nil)
	h.drain()

	require.Len(t, h.gateway.messages(), 1)
	assert.Equal(t, 4096, utf8.RuneCountInString(h.gateway.messages()[0].Text))
}

func TestExecutor_FailedDeliveryStillAdvances(t *testing.T) {
	h := newHarness(t)
	h.gateway.result = delivery.Result{Error: "Too Many Requests", RetryAfter: 5 * time.Second}
	h.saveAutomation("welcome", message(map[string]string{"en": "hi"}))
	h.saveSubscriber(&models.Subscriber{ID: "max"})

	enrollment := h.enroll("subscriber.signed_up", "max", nil)
	h.drain()

	assert.Equal(t, models.EnrollmentStatusCompleted, h.enrollment(enrollment.ID).Status)

	deliveries := h.deliveries(enrollment.ID)
	require.Len(t, deliveries, 1)
	assert.Equal(t, models.DeliveryStatusRateLimited, deliveries[0].Status)
	assert.Equal(t, "Too Many Requests", deliveries[0].Error)
}

func TestExecutor_ConcurrentExecutionsAdvanceOnce(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("race",
		models.ConditionConfig{Condition: models.Condition{Field: "plan", Operator: "eq", Value: "pro"}},
		models.WaitConfig{DelayMinutes: 5},
		message(map[string]string{"en": "hi"}),
	)
	h.saveSubscriber(&models.Subscriber{ID: "ned", Attributes: map[string]any{"plan": "pro"}})

	enrollment := h.enroll("subscriber.signed_up", "ned", nil)

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, h.executor.Process(h.ctx, enrollment.ID))
		}()
	}

	wg.Wait()

	stored := h.enrollment(enrollment.ID)
	assert.Equal(t, 2, stored.Version, "exactly one execution committed")
	assert.Equal(t, 2, stored.CurrentStep)
}

type conflictingRepository struct {
	persistence.EnrollmentRepository

	updates atomic.Int32
}

func (r *conflictingRepository) UpdateEnrollment(context.Context, string, int, models.EnrollmentTransition) (int64, error) {
	r.updates.Add(1)

	return 0, nil
}

type schedulerFunc func(ctx context.Context, task queue.Task, delay time.Duration) error

func (f schedulerFunc) Enqueue(ctx context.Context, task queue.Task, delay time.Duration) error {
	return f(ctx, task, delay)
}

func (h *harness) recordingScheduler() queue.Scheduler {
	return schedulerFunc(func(_ context.Context, task queue.Task, _ time.Duration) error {
		h.mu.Lock()
		defer h.mu.Unlock()

		h.scheduled = append(h.scheduled, task.EnrollmentID)

		return nil
	})
}

type failingScheduler struct{}

func (failingScheduler) Enqueue(context.Context, queue.Task, time.Duration) error {
	return errors.New("redis down")
}

func TestExecutor_LostRaceIsNotAnError(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("welcome", message(map[string]string{"en": "hi"}), message(map[string]string{"en": "bye"}))
	h.saveSubscriber(&models.Subscriber{ID: "oz"})

	enrollment := h.enroll("subscriber.signed_up", "oz", nil)

	repo := &conflictingRepository{EnrollmentRepository: h.p.EnrollmentRepository()}
	h.executor.enrollments = repo

	require.NoError(t, h.executor.Process(h.ctx, enrollment.ID))

	assert.Equal(t, int32(1), repo.updates.Load())
	assert.Equal(t, 0, h.enrollment(enrollment.ID).CurrentStep)
	assert.Len(t, h.gateway.messages(), 1, "the side effect already happened")
}

func TestExecutor_EnqueueFailureIsReturned(t *testing.T) {
	h := newHarness(t)
	h.saveAutomation("welcome", message(map[string]string{"en": "hi"}), message(map[string]string{"en": "bye"}))
	h.saveSubscriber(&models.Subscriber{ID: "pia"})

	enrollment := h.enroll("subscriber.signed_up", "pia", nil)
	h.executor.scheduler = failingScheduler{}

	err := h.executor.Process(h.ctx, enrollment.ID)

	require.Error(t, err)
	assert.Equal(t, 1, h.enrollment(enrollment.ID).CurrentStep, "the transition is committed before the enqueue")
}

func TestPlan(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	steps := []*models.Step{
		{Config: models.SendMessageConfig{}},
		{Config: models.WaitConfig{DelayMinutes: 0}},
		{Config: models.WaitConfig{DelayMinutes: -3}},
		{Config: models.WaitConfig{DelayMinutes: 15}},
		{Config: models.SendMessageConfig{}},
		{Config: models.WaitConfig{DelayMinutes: 0}},
	}

	transition, delay := plan(steps, 1, now)
	assert.Equal(t, models.EnrollmentStatusActive, transition.Status)
	assert.Equal(t, 4, transition.CurrentStep)
	assert.Equal(t, 15*time.Minute, delay)
	require.NotNil(t, transition.NextExecuteAt)
	assert.Equal(t, now.Add(15*time.Minute), *transition.NextExecuteAt)

	transition, delay = plan(steps, 4, now)
	assert.Equal(t, 4, transition.CurrentStep)
	assert.Nil(t, transition.NextExecuteAt)
	assert.Zero(t, delay)

	transition, _ = plan(steps, 5, now)
	assert.Equal(t, models.EnrollmentStatusCompleted, transition.Status)
	assert.Equal(t, len(steps), transition.CurrentStep)
}
