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
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// EnrollmentRepository handles enrollment database operations. Updates are
// compare-and-swap on the version column.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEnrollmentRepository creates a new enrollment repository.
func NewEnrollmentRepository(db *sql.DB, logger *slog.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, logger: logger}
}

const enrollmentColumns = `
	id
  , automation_id
  , subscriber_id
  , status
  , current_step
  , next_execute_at
  , event_payload
  , version
  , created_at
  , updated_at
`

func (r *EnrollmentRepository) EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEnrollmentError("EnrollmentByID", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, persistence.NewEnrollmentError("EnrollmentByID", id, err)
	}

	return enrollment, nil
}

// CreateEnrollment inserts a new enrollment. A second active enrollment for
// the same subscriber and automation is rejected by a partial unique index.
func (r *EnrollmentRepository) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	payloadJSON, err := json.Marshal(enrollment.EventPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO enrollments (id, automation_id, subscriber_id, status, current_step,
			next_execute_at, event_payload, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		enrollment.ID,
		enrollment.AutomationID,
		enrollment.SubscriberID,
		enrollment.Status,
		enrollment.CurrentStep,
		enrollment.NextExecuteAt,
		payloadJSON,
		enrollment.Version,
		enrollment.CreatedAt,
		enrollment.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewEnrollmentError("CreateEnrollment", enrollment.ID, persistence.ErrEnrollmentAlreadyExists)
		}

		return persistence.NewEnrollmentError("CreateEnrollment", enrollment.ID, err)
	}

	return nil
}

func (r *EnrollmentRepository) UpdateEnrollment(
	ctx context.Context,
	id string,
	expectedVersion int,
	transition models.EnrollmentTransition,
) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE enrollments SET
			status = $3,
			current_step = $4,
			next_execute_at = $5,
			version = version + 1,
			updated_at = $6
		WHERE id = $1 AND version = $2
	`,
		id,
		expectedVersion,
		transition.Status,
		transition.CurrentStep,
		transition.NextExecuteAt,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, persistence.NewEnrollmentError("UpdateEnrollment", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

func (r *EnrollmentRepository) LatestEnrollment(ctx context.Context, automationID, subscriberID string) (*models.Enrollment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+enrollmentColumns+`
		FROM enrollments
		WHERE automation_id = $1 AND subscriber_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, automationID, subscriberID)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEnrollmentError("LatestEnrollment", subscriberID, persistence.ErrEnrollmentNotFound)
		}

		return nil, persistence.NewEnrollmentError("LatestEnrollment", subscriberID, err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) DueEnrollments(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+enrollmentColumns+`
		FROM enrollments
		WHERE status = 'active'
		  AND ((next_execute_at IS NOT NULL AND next_execute_at <= $1)
		    OR (next_execute_at IS NULL AND updated_at < $2))
		ORDER BY updated_at
		LIMIT $3
	`, now, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due enrollments: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

func scanEnrollment(row scanner) (*models.Enrollment, error) {
	var (
		enrollment    models.Enrollment
		nextExecuteAt sql.NullTime
		payloadJSON   []byte
	)

	err := row.Scan(
		&enrollment.ID,
		&enrollment.AutomationID,
		&enrollment.SubscriberID,
		&enrollment.Status,
		&enrollment.CurrentStep,
		&nextExecuteAt,
		&payloadJSON,
		&enrollment.Version,
		&enrollment.CreatedAt,
		&enrollment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if nextExecuteAt.Valid {
		at := nextExecuteAt.Time.UTC()
		enrollment.NextExecuteAt = &at
	}

	if len(payloadJSON) > 0 {
		err = json.Unmarshal(payloadJSON, &enrollment.EventPayload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
	}

	return &enrollment, nil
}
