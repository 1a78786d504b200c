package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/drip/pkg/models"
)

// DeliveryRepository writes the delivery audit trail. Rows are never updated.
type DeliveryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDeliveryRepository creates a new delivery repository.
func NewDeliveryRepository(db *sql.DB, logger *slog.Logger) *DeliveryRepository {
	return &DeliveryRepository{db: db, logger: logger}
}

func (r *DeliveryRepository) AppendDelivery(ctx context.Context, delivery *models.Delivery) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, automation_id, enrollment_id, subscriber_id, content,
			status, channel_message_id, error, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
	`,
		delivery.ID,
		delivery.AutomationID,
		delivery.EnrollmentID,
		delivery.SubscriberID,
		delivery.Content,
		delivery.Status,
		delivery.ChannelMessageID,
		delivery.Error,
		delivery.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append delivery %s: %w", delivery.ID, err)
	}

	return nil
}

func (r *DeliveryRepository) DeliveriesByEnrollment(ctx context.Context, enrollmentID string) ([]*models.Delivery, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, automation_id, enrollment_id, subscriber_id, content, status,
			COALESCE(channel_message_id, ''), COALESCE(error, ''), sent_at
		FROM deliveries
		WHERE enrollment_id = $1
		ORDER BY sent_at, id
	`, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	deliveries := make([]*models.Delivery, 0)

	for rows.Next() {
		var delivery models.Delivery

		err := rows.Scan(
			&delivery.ID,
			&delivery.AutomationID,
			&delivery.EnrollmentID,
			&delivery.SubscriberID,
			&delivery.Content,
			&delivery.Status,
			&delivery.ChannelMessageID,
			&delivery.Error,
			&delivery.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}

		deliveries = append(deliveries, &delivery)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating deliveries: %w", err)
	}

	return deliveries, nil
}
