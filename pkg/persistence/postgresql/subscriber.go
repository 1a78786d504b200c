package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

// SubscriberRepository reads subscribers from the subscribers table.
type SubscriberRepository struct {
	db *sql.DB
}

func NewSubscriberRepository(db *sql.DB) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

func (r *SubscriberRepository) SubscriberByID(ctx context.Context, id string) (*models.Subscriber, error) {
	var (
		subscriber     models.Subscriber
		attributesJSON []byte
	)

	err := r.db.QueryRowContext(ctx,
		"SELECT id, status, language, chat_id, attributes FROM subscribers WHERE id = $1", id,
	).Scan(&subscriber.ID, &subscriber.Status, &subscriber.Language, &subscriber.ChatID, &attributesJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSubscriberNotFound
		}

		return nil, fmt.Errorf("failed to load subscriber %s: %w", id, err)
	}

	if len(attributesJSON) > 0 {
		err = json.Unmarshal(attributesJSON, &subscriber.Attributes)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscriber attributes: %w", err)
		}
	}

	return &subscriber, nil
}

func (r *SubscriberRepository) SaveSubscriber(ctx context.Context, subscriber *models.Subscriber) error {
	attributesJSON, err := json.Marshal(subscriber.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriber attributes: %w", err)
	}

	if subscriber.Attributes == nil {
		attributesJSON = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO subscribers (id, status, language, chat_id, attributes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			language = EXCLUDED.language,
			chat_id = EXCLUDED.chat_id,
			attributes = EXCLUDED.attributes
	`, subscriber.ID, subscriber.Status, subscriber.Language, subscriber.ChatID, attributesJSON)
	if err != nil {
		return fmt.Errorf("failed to save subscriber %s: %w", subscriber.ID, err)
	}

	return nil
}
