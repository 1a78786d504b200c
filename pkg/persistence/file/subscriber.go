package file

import (
	"context"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

const subscribersDir = "subscribers"

// SubscriberRepository handles subscriber file operations.
type SubscriberRepository struct {
	store *store
}

func (sr *SubscriberRepository) SubscriberByID(_ context.Context, id string) (*models.Subscriber, error) {
	sr.store.mu.RLock()
	defer sr.store.mu.RUnlock()

	var subscriber models.Subscriber

	err := sr.store.read(subscribersDir, id, &subscriber)
	if err != nil {
		if isNotExist(err) {
			return nil, persistence.ErrSubscriberNotFound
		}

		return nil, err
	}

	return &subscriber, nil
}

func (sr *SubscriberRepository) SaveSubscriber(_ context.Context, subscriber *models.Subscriber) error {
	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	return sr.store.write(subscribersDir, subscriber.ID, subscriber)
}
