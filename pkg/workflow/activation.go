package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

// ActivationService switches automations on and off.
type ActivationService struct {
	automations persistence.AutomationRepository
	maxLength   int
	logger      *slog.Logger
}

// NewActivationService creates the service. maxLength is the longest message
// the configured channel accepts.
func NewActivationService(p persistence.Persistence, maxLength int, logger *slog.Logger) *ActivationService {
	return &ActivationService{
		automations: p.AutomationRepository(),
		maxLength:   maxLength,
		logger:      logger.With("module", "activation"),
	}
}

// Activate validates the automation and its steps, then marks it active so
// new trigger events enroll subscribers.
func (s *ActivationService) Activate(ctx context.Context, automationID string) (*models.Automation, error) {
	automation, steps, err := s.automations.AutomationWithSteps(ctx, automationID)
	if err != nil {
		return nil, err
	}

	err = models.ValidateForActivation(automation, steps, s.maxLength)
	if err != nil {
		return nil, fmt.Errorf("automation validation failed: %w", err)
	}

	err = s.automations.SetAutomationActive(ctx, automationID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to activate automation: %w", err)
	}

	automation.IsActive = true

	s.logger.InfoContext(ctx, "Automation activated", "automation_id", automationID, "steps", len(steps))

	return automation, nil
}

// Deactivate stops new enrollments. Running enrollments are cancelled on
// their next execution.
func (s *ActivationService) Deactivate(ctx context.Context, automationID string) (*models.Automation, error) {
	automation, _, err := s.automations.AutomationWithSteps(ctx, automationID)
	if err != nil {
		return nil, err
	}

	err = s.automations.SetAutomationActive(ctx, automationID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate automation: %w", err)
	}

	automation.IsActive = false

	s.logger.InfoContext(ctx, "Automation deactivated", "automation_id", automationID)

	return automation, nil
}
