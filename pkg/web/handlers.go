package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	persistence persistence.Persistence
	activation  *workflow.ActivationService
	publisher   eventbus.EventPublisher
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	persistence persistence.Persistence,
	activation *workflow.ActivationService,
	publisher eventbus.EventPublisher,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		persistence: persistence,
		activation:  activation,
		publisher:   publisher,
		validator:   validator,
		logger:      logger.With("module", "api"),
	}
}

// Register mounts the drip routes on app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Post("/events", h.PostEvent)

	a := app.Group("/automations")
	a.Get("/", h.GetAutomations)
	a.Get("/:id", h.GetAutomation)
	a.Post("/:id/activate", h.ActivateAutomation)
	a.Post("/:id/deactivate", h.DeactivateAutomation)

	app.Get("/enrollments/:id", h.GetEnrollment)
	app.Get("/health", h.HealthCheck)
}

// PostEvent accepts a trigger event and hands it to the enrollers through
// the event bus.
func (h *APIHandlers) PostEvent(c fiber.Ctx) error {
	var document map[string]any

	err := json.Unmarshal(c.Body(), &document)
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	err = validateJSONSchema(triggerEventSchema, document)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req TriggerEventRequest

	err = json.Unmarshal(c.Body(), &req)
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	err = h.validator.Struct(req)
	if err != nil {
		return badRequest(c, err.Error())
	}

	fired := events.NewTriggerFired(models.TriggerEvent{
		Name:         req.Name,
		SubscriberID: req.SubscriberID,
		Payload:      req.Payload,
	})

	err = h.publisher.Publish(c.Context(), req.SubscriberID, fired)
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to publish trigger event", "trigger", req.Name, "error", err)

		return internalError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Trigger event accepted", "trigger", req.Name, "subscriber_id", req.SubscriberID, "event_id", fired.ID)

	return c.Status(fiber.StatusAccepted).JSON(TriggerEventResponse{EventID: fired.ID})
}

func (h *APIHandlers) GetAutomations(c fiber.Ctx) error {
	automations, err := h.persistence.AutomationRepository().Automations(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"automations": automations,
		"total_count": len(automations),
	})
}

func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	automation, steps, err := h.persistence.AutomationRepository().AutomationWithSteps(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(AutomationResponse{Automation: automation, Steps: steps})
}

func (h *APIHandlers) ActivateAutomation(c fiber.Ctx) error {
	automation, err := h.activation.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(automation)
}

func (h *APIHandlers) DeactivateAutomation(c fiber.Ctx) error {
	automation, err := h.activation.Deactivate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(automation)
}

func (h *APIHandlers) GetEnrollment(c fiber.Ctx) error {
	id := c.Params("id")

	enrollment, err := h.persistence.EnrollmentRepository().EnrollmentByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	deliveries, err := h.persistence.DeliveryRepository().DeliveriesByEnrollment(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(EnrollmentResponse{Enrollment: enrollment, Deliveries: deliveries})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Drip API is healthy"
	httpStatus := http.StatusOK
	persistenceCheck := "ok"

	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		message = "Drip API is unhealthy"
		httpStatus = http.StatusInternalServerError
		persistenceCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": persistenceCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
