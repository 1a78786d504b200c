// Package definitions loads automations and subscribers from YAML files.
package definitions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalidDefinitions reports that stored automations fail activation rules.
var ErrInvalidDefinitions = errors.New("invalid automation definitions")

// File represents the structure of a definitions YAML file.
type File struct {
	Automations []AutomationDefinition `yaml:"automations"`
	Subscribers []*models.Subscriber   `yaml:"subscribers"`
}

// AutomationDefinition is an automation with its steps inline.
type AutomationDefinition struct {
	models.Automation `yaml:",inline"`

	Steps []*models.Step `yaml:"steps"`
}

// Load reads and parses a definitions file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes definitions and checks required fields. Steps keep their
// listed order unless an explicit order is given.
func Parse(data []byte) (*File, error) {
	var file File

	err := yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML definitions: %w", err)
	}

	seen := make(map[string]bool, len(file.Automations))

	for i := range file.Automations {
		def := &file.Automations[i]

		err = validate.Struct(def.Automation)
		if err != nil {
			return nil, fmt.Errorf("automations[%d]: %w", i, err)
		}

		if seen[def.ID] {
			return nil, fmt.Errorf("automations[%d]: duplicate automation id %q", i, def.ID)
		}

		seen[def.ID] = true

		if !hasExplicitOrder(def.Steps) {
			for order, step := range def.Steps {
				step.Order = order
			}
		}
	}

	for i, subscriber := range file.Subscribers {
		if subscriber.Status == "" {
			subscriber.Status = models.SubscriberStatusActive
		}

		err = validate.Struct(subscriber)
		if err != nil {
			return nil, fmt.Errorf("subscribers[%d]: %w", i, err)
		}
	}

	return &file, nil
}

func hasExplicitOrder(steps []*models.Step) bool {
	for _, step := range steps {
		if step.Order != 0 {
			return true
		}
	}

	return false
}

// ImportResult counts what Import wrote.
type ImportResult struct {
	Automations int
	Subscribers int
}

// Importer writes definitions to a persistence backend.
type Importer struct {
	persistence persistence.Persistence
	maxLength   int
	logger      *slog.Logger
}

// NewImporter creates an importer. Automations marked active are validated
// against maxLength before they are saved.
func NewImporter(p persistence.Persistence, maxLength int, logger *slog.Logger) *Importer {
	return &Importer{
		persistence: p,
		maxLength:   maxLength,
		logger:      logger.With("module", "definitions"),
	}
}

// Import saves every subscriber and automation in file. An active automation
// that fails activation validation aborts the import before anything is written.
func (i *Importer) Import(ctx context.Context, file *File) (ImportResult, error) {
	var result ImportResult

	for _, def := range file.Automations {
		if !def.IsActive {
			continue
		}

		err := models.ValidateForActivation(&def.Automation, def.Steps, i.maxLength)
		if err != nil {
			return result, fmt.Errorf("automation %s: %w", def.ID, err)
		}
	}

	for _, subscriber := range file.Subscribers {
		err := i.persistence.SubscriberRepository().SaveSubscriber(ctx, subscriber)
		if err != nil {
			return result, fmt.Errorf("failed to save subscriber %s: %w", subscriber.ID, err)
		}

		result.Subscribers++
	}

	for _, def := range file.Automations {
		automation := def.Automation

		err := i.persistence.AutomationRepository().SaveAutomation(ctx, &automation, def.Steps)
		if err != nil {
			return result, fmt.Errorf("failed to save automation %s: %w", def.ID, err)
		}

		i.logger.InfoContext(ctx, "Automation imported",
			"automation_id", automation.ID,
			"steps", len(def.Steps),
			"active", automation.IsActive)

		result.Automations++
	}

	return result, nil
}

// Problem is an automation that would fail activation.
type Problem struct {
	AutomationID string
	IsActive     bool
	Err          error
}

// Validate runs the activation rules over every stored automation.
func Validate(ctx context.Context, p persistence.Persistence, maxLength int) ([]Problem, error) {
	automations, err := p.AutomationRepository().Automations(ctx)
	if err != nil {
		return nil, err
	}

	var problems []Problem

	for _, automation := range automations {
		stored, steps, err := p.AutomationRepository().AutomationWithSteps(ctx, automation.ID)
		if err != nil {
			if persistence.IsAutomationNotFound(err) {
				continue
			}

			return nil, err
		}

		err = models.ValidateForActivation(stored, steps, maxLength)
		if err != nil {
			problems = append(problems, Problem{AutomationID: stored.ID, IsActive: stored.IsActive, Err: err})
		}
	}

	return problems, nil
}
