package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

// AutomationRepository handles automation and step database operations.
type AutomationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAutomationRepository creates a new automation repository.
func NewAutomationRepository(db *sql.DB, logger *slog.Logger) *AutomationRepository {
	return &AutomationRepository{db: db, logger: logger}
}

const automationColumns = `
	id
  , name
  , trigger_event
  , conditions
  , is_active
  , allow_reenrollment
  , created_at
  , updated_at
`

// AutomationWithSteps returns the automation and its steps sorted by position.
func (r *AutomationRepository) AutomationWithSteps(ctx context.Context, id string) (*models.Automation, []*models.Step, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+automationColumns+` FROM automations WHERE id = $1`, id)

	automation, err := scanAutomation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, persistence.NewAutomationError("AutomationWithSteps", id, persistence.ErrAutomationNotFound)
		}

		return nil, nil, persistence.NewAutomationError("AutomationWithSteps", id, err)
	}

	steps, err := r.steps(ctx, id)
	if err != nil {
		return nil, nil, persistence.NewAutomationError("AutomationWithSteps", id, err)
	}

	return automation, steps, nil
}

// ActiveAutomationsByTrigger returns the active automations listening for event.
func (r *AutomationRepository) ActiveAutomationsByTrigger(ctx context.Context, event string) ([]*models.Automation, error) {
	return r.query(ctx, `SELECT `+automationColumns+` FROM automations WHERE trigger_event = $1 AND is_active ORDER BY id`, event)
}

// Automations returns every automation ordered by ID.
func (r *AutomationRepository) Automations(ctx context.Context) ([]*models.Automation, error) {
	return r.query(ctx, `SELECT `+automationColumns+` FROM automations ORDER BY id`)
}

// SaveAutomation upserts the automation and replaces its steps in one transaction.
func (r *AutomationRepository) SaveAutomation(ctx context.Context, automation *models.Automation, steps []*models.Step) error {
	now := time.Now().UTC()
	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	conditionsJSON, err := json.Marshal(automation.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO automations (id, name, trigger_event, conditions, is_active, allow_reenrollment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			trigger_event = EXCLUDED.trigger_event,
			conditions = EXCLUDED.conditions,
			is_active = EXCLUDED.is_active,
			allow_reenrollment = EXCLUDED.allow_reenrollment,
			updated_at = EXCLUDED.updated_at
	`,
		automation.ID,
		automation.Name,
		automation.TriggerEvent,
		conditionsJSON,
		automation.IsActive,
		automation.AllowReenrollment,
		automation.CreatedAt,
		automation.UpdatedAt,
	)
	if err != nil {
		return persistence.NewAutomationError("SaveAutomation", automation.ID, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM automation_steps WHERE automation_id = $1", automation.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing steps: %w", err)
	}

	for _, step := range models.NormalizeSteps(steps) {
		step.AutomationID = automation.ID

		var configJSON []byte

		configJSON, err = marshalStepConfig(step)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO automation_steps (automation_id, position, type, config) VALUES ($1, $2, $3, $4)",
			automation.ID, step.Order, step.Type, configJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to save step %d: %w", step.Order, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SetAutomationActive switches the automation on or off.
func (r *AutomationRepository) SetAutomationActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE automations SET is_active = $2, updated_at = $3 WHERE id = $1",
		id, active, time.Now().UTC(),
	)
	if err != nil {
		return persistence.NewAutomationError("SetAutomationActive", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewAutomationError("SetAutomationActive", id, persistence.ErrAutomationNotFound)
	}

	return nil
}

func (r *AutomationRepository) query(ctx context.Context, query string, args ...any) ([]*models.Automation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	automations := make([]*models.Automation, 0)

	for rows.Next() {
		automation, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return automations, nil
}

func (r *AutomationRepository) steps(ctx context.Context, automationID string) ([]*models.Step, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT position, type, config FROM automation_steps WHERE automation_id = $1 ORDER BY position",
		automationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query automation steps: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.Step, 0)

	for rows.Next() {
		var (
			step       models.Step
			configJSON []byte
		)

		err := rows.Scan(&step.Order, &step.Type, &configJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		step.AutomationID = automationID

		step.Config = models.DecodeStepConfig(step.Type, configJSON)

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

func marshalStepConfig(step *models.Step) ([]byte, error) {
	if raw, ok := models.RawConfig(step.Config); ok {
		if len(raw) == 0 {
			return []byte("{}"), nil
		}

		return raw, nil
	}

	configJSON, err := json.Marshal(step.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step %d config: %w", step.Order, err)
	}

	return configJSON, nil
}

func scanAutomation(row scanner) (*models.Automation, error) {
	var (
		automation     models.Automation
		conditionsJSON []byte
	)

	err := row.Scan(
		&automation.ID,
		&automation.Name,
		&automation.TriggerEvent,
		&conditionsJSON,
		&automation.IsActive,
		&automation.AllowReenrollment,
		&automation.CreatedAt,
		&automation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(conditionsJSON) > 0 {
		err = json.Unmarshal(conditionsJSON, &automation.Conditions)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
	}

	return &automation, nil
}
