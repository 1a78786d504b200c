package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/mocks"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/persistence/file"
	"github.com/dukex/drip/pkg/web"
	"github.com/dukex/drip/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	app         *fiber.App
	persistence persistence.Persistence
	bus         *mocks.MockEventBus
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()

	return setupTestAppWith(t, file.NewPersistence(t.TempDir()))
}

func setupTestAppWith(t *testing.T, p persistence.Persistence) *testApp {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	bus := &mocks.MockEventBus{}
	activation := workflow.NewActivationService(p, 4096, logger)
	handlers := web.NewAPIHandlers(p, activation, bus, validator.New(validator.WithRequiredStructEnabled()), logger)

	app := fiber.New()
	handlers.Register(app)

	return &testApp{app: app, persistence: p, bus: bus}
}

func (a *testApp) do(t *testing.T, method, path string, body string) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func (a *testApp) saveAutomation(t *testing.T, automation *models.Automation, steps ...models.StepConfig) {
	t.Helper()

	records := make([]*models.Step, 0, len(steps))
	for _, config := range steps {
		records = append(records, &models.Step{Config: config})
	}

	require.NoError(t, a.persistence.AutomationRepository().SaveAutomation(context.Background(), automation, records))
}

func TestAPIHandlers_PostEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           string
		publishErr     error
		expectPublish  bool
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "accepted",
			body:           `{"name":"subscriber.signed_up","subscriber_id":"ana","payload":{"plan":"pro"}}`,
			expectPublish:  true,
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "invalid json",
			body:           `{"name":`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid JSON format",
		},
		{
			name:           "missing subscriber",
			body:           `{"name":"subscriber.signed_up"}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "subscriber_id",
		},
		{
			name:           "empty name",
			body:           `{"name":"","subscriber_id":"ana"}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "validation errors",
		},
		{
			name:           "unknown field",
			body:           `{"name":"subscriber.signed_up","subscriber_id":"ana","extra":1}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "extra",
		},
		{
			name:           "payload must be an object",
			body:           `{"name":"subscriber.signed_up","subscriber_id":"ana","payload":[1]}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "payload",
		},
		{
			name:           "publish failure",
			body:           `{"name":"subscriber.signed_up","subscriber_id":"ana"}`,
			publishErr:     errors.New("broker down"),
			expectPublish:  true,
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := setupTestApp(t)
			if tt.expectPublish {
				a.bus.On("Publish", mock.Anything, "ana", mock.MatchedBy(func(event events.TriggerFired) bool {
					return event.Name == "subscriber.signed_up" && event.SubscriberID == "ana"
				})).Return(tt.publishErr).Once()
			}

			status, body := a.do(t, http.MethodPost, "/events", tt.body)

			assert.Equal(t, tt.expectedStatus, status)
			if tt.expectedError != "" {
				assert.Contains(t, string(body), tt.expectedError)
			}

			if tt.expectedStatus == http.StatusAccepted {
				var resp web.TriggerEventResponse
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.NotEmpty(t, resp.EventID)
			}

			a.bus.AssertExpectations(t)
			if !tt.expectPublish {
				a.bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestAPIHandlers_Automations(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)
	a.saveAutomation(t, &models.Automation{
		ID:           "welcome",
		Name:         "Welcome",
		TriggerEvent: "subscriber.signed_up",
	},
		models.SendMessageConfig{Messages: map[string]string{"en": "Hi {{first_name}}"}},
		models.WaitConfig{DelayMinutes: 60},
	)

	status, body := a.do(t, http.MethodGet, "/automations", "")
	require.Equal(t, http.StatusOK, status)

	var list struct {
		Automations []*models.Automation `json:"automations"`
		TotalCount  int                  `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.TotalCount)
	assert.Equal(t, "welcome", list.Automations[0].ID)

	status, body = a.do(t, http.MethodGet, "/automations/welcome", "")
	require.Equal(t, http.StatusOK, status)

	var automation web.AutomationResponse
	require.NoError(t, json.Unmarshal(body, &automation))
	assert.Equal(t, "Welcome", automation.Name)
	require.Len(t, automation.Steps, 2)
	assert.Equal(t, models.StepTypeSendMessage, automation.Steps[0].Type)
	assert.Equal(t, models.WaitConfig{DelayMinutes: 60}, automation.Steps[1].Config)

	status, body = a.do(t, http.MethodGet, "/automations/missing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "automation_not_found")
}

func TestAPIHandlers_ActivateAutomation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		automation     *models.Automation
		steps          []models.StepConfig
		expectedStatus int
		expectedError  string
		expectActive   bool
	}{
		{
			name:           "valid automation",
			automation:     &models.Automation{ID: "welcome", Name: "Welcome", TriggerEvent: "subscriber.signed_up"},
			steps:          []models.StepConfig{models.SendMessageConfig{Messages: map[string]string{"en": "Hi"}}},
			expectedStatus: http.StatusOK,
			expectActive:   true,
		},
		{
			name:           "message over the channel limit",
			automation:     &models.Automation{ID: "long", Name: "Long", TriggerEvent: "subscriber.signed_up"},
			steps:          []models.StepConfig{models.SendMessageConfig{Messages: map[string]string{"en": strings.Repeat("a", 4097)}}},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedError:  "activation_failed",
		},
		{
			name:           "no steps",
			automation:     &models.Automation{ID: "empty", Name: "Empty", TriggerEvent: "subscriber.signed_up"},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedError:  "activation_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := setupTestApp(t)
			a.saveAutomation(t, tt.automation, tt.steps...)

			status, body := a.do(t, http.MethodPost, "/automations/"+tt.automation.ID+"/activate", "")
			assert.Equal(t, tt.expectedStatus, status)

			if tt.expectedError != "" {
				assert.Contains(t, string(body), tt.expectedError)
			}

			stored, _, err := a.persistence.AutomationRepository().AutomationWithSteps(context.Background(), tt.automation.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.expectActive, stored.IsActive)
		})
	}
}

func TestAPIHandlers_DeactivateAutomation(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)
	a.saveAutomation(t, &models.Automation{ID: "welcome", Name: "Welcome", TriggerEvent: "subscriber.signed_up", IsActive: true},
		models.SendMessageConfig{Messages: map[string]string{"en": "Hi"}})

	status, body := a.do(t, http.MethodPost, "/automations/welcome/deactivate", "")
	require.Equal(t, http.StatusOK, status)

	var automation models.Automation
	require.NoError(t, json.Unmarshal(body, &automation))
	assert.False(t, automation.IsActive)

	status, _ = a.do(t, http.MethodPost, "/automations/missing/deactivate", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_GetEnrollment(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)
	ctx := context.Background()
	sentAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, a.persistence.EnrollmentRepository().CreateEnrollment(ctx, &models.Enrollment{
		ID:           "enr-1",
		AutomationID: "welcome",
		SubscriberID: "ana",
		Status:       models.EnrollmentStatusActive,
		Version:      1,
		CreatedAt:    sentAt,
		UpdatedAt:    sentAt,
	}))
	require.NoError(t, a.persistence.DeliveryRepository().AppendDelivery(ctx, &models.Delivery{
		ID:           "del-1",
		AutomationID: "welcome",
		EnrollmentID: "enr-1",
		SubscriberID: "ana",
		Content:      "Hi Ana",
		Status:       models.DeliveryStatusSent,
		SentAt:       sentAt,
	}))

	status, body := a.do(t, http.MethodGet, "/enrollments/enr-1", "")
	require.Equal(t, http.StatusOK, status)

	var enrollment web.EnrollmentResponse
	require.NoError(t, json.Unmarshal(body, &enrollment))
	assert.Equal(t, "ana", enrollment.SubscriberID)
	assert.Equal(t, 1, enrollment.Version)
	require.Len(t, enrollment.Deliveries, 1)
	assert.Equal(t, "Hi Ana", enrollment.Deliveries[0].Content)

	status, body = a.do(t, http.MethodGet, "/enrollments/missing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "enrollment_not_found")
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()

		a := setupTestApp(t)

		status, body := a.do(t, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, status)
		assert.Contains(t, string(body), `"status":"healthy"`)
	})

	t.Run("unhealthy", func(t *testing.T) {
		t.Parallel()

		p := mocks.NewMockPersistence()
		p.On("HealthCheck", mock.Anything).Return(errors.New("disk full"))
		a := setupTestAppWith(t, p)

		status, body := a.do(t, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Contains(t, string(body), "disk full")
		p.AssertExpectations(t)
	})
}

func TestAPIHandlers_StorageErrors(t *testing.T) {
	t.Parallel()

	p := mocks.NewMockPersistence()
	p.Automations.On("Automations", mock.Anything).Return(nil, errors.New("connection reset"))
	p.Enrollments.On("EnrollmentByID", mock.Anything, "enr-1").Return(&models.Enrollment{ID: "enr-1"}, nil)
	p.Deliveries.On("DeliveriesByEnrollment", mock.Anything, "enr-1").Return(nil, errors.New("connection reset"))

	a := setupTestAppWith(t, p)

	status, body := a.do(t, http.MethodGet, "/automations", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, string(body), "internal_error")

	status, _ = a.do(t, http.MethodGet, "/enrollments/enr-1", "")
	assert.Equal(t, http.StatusInternalServerError, status)

	p.Automations.AssertExpectations(t)
	p.Deliveries.AssertExpectations(t)
}
