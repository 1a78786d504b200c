package file

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

const automationsDir = "automations"

type automationDocument struct {
	Automation *models.Automation `json:"automation"`
	Steps      []*models.Step     `json:"steps"`
}

// AutomationRepository handles automation definition file operations.
type AutomationRepository struct {
	store *store
}

// AutomationWithSteps returns the automation and its steps sorted by order.
func (ar *AutomationRepository) AutomationWithSteps(_ context.Context, id string) (*models.Automation, []*models.Step, error) {
	ar.store.mu.RLock()
	defer ar.store.mu.RUnlock()

	doc, err := ar.load(id)
	if err != nil {
		return nil, nil, err
	}

	return doc.Automation, models.SortSteps(doc.Steps), nil
}

// ActiveAutomationsByTrigger returns the active automations listening for event.
func (ar *AutomationRepository) ActiveAutomationsByTrigger(ctx context.Context, event string) ([]*models.Automation, error) {
	all, err := ar.Automations(ctx)
	if err != nil {
		return nil, err
	}

	matching := make([]*models.Automation, 0)

	for _, automation := range all {
		if automation.IsActive && automation.TriggerEvent == event {
			matching = append(matching, automation)
		}
	}

	return matching, nil
}

// Automations returns every stored automation ordered by ID.
func (ar *AutomationRepository) Automations(_ context.Context) ([]*models.Automation, error) {
	ar.store.mu.RLock()
	defer ar.store.mu.RUnlock()

	ids, err := ar.store.ids(automationsDir)
	if err != nil {
		return nil, err
	}

	sort.Strings(ids)

	automations := make([]*models.Automation, 0, len(ids))

	for _, id := range ids {
		doc, err := ar.load(id)
		if err != nil {
			return nil, err
		}

		automations = append(automations, doc.Automation)
	}

	return automations, nil
}

// SaveAutomation stores the automation and replaces its steps, normalizing orders.
func (ar *AutomationRepository) SaveAutomation(_ context.Context, automation *models.Automation, steps []*models.Step) error {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	now := time.Now().UTC()
	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	normalized := models.NormalizeSteps(steps)
	for _, step := range normalized {
		step.AutomationID = automation.ID
	}

	err := ar.store.write(automationsDir, automation.ID, automationDocument{Automation: automation, Steps: normalized})
	if err != nil {
		return persistence.NewAutomationError("SaveAutomation", automation.ID, err)
	}

	return nil
}

// SetAutomationActive switches the automation on or off.
func (ar *AutomationRepository) SetAutomationActive(_ context.Context, id string, active bool) error {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	doc, err := ar.load(id)
	if err != nil {
		return err
	}

	doc.Automation.IsActive = active
	doc.Automation.UpdatedAt = time.Now().UTC()

	err = ar.store.write(automationsDir, id, doc)
	if err != nil {
		return persistence.NewAutomationError("SetAutomationActive", id, err)
	}

	return nil
}

func (ar *AutomationRepository) load(id string) (*automationDocument, error) {
	var doc automationDocument

	err := ar.store.read(automationsDir, id, &doc)
	if err != nil {
		if isNotExist(err) {
			return nil, persistence.NewAutomationError("AutomationWithSteps", id, persistence.ErrAutomationNotFound)
		}

		return nil, persistence.NewAutomationError("AutomationWithSteps", id, err)
	}

	if doc.Automation == nil {
		return nil, persistence.NewAutomationError("AutomationWithSteps", id, persistence.ErrAutomationNotFound)
	}

	return &doc, nil
}
