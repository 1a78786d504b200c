package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dukex/drip/pkg/models"
)

const deliveriesDir = "deliveries"

// DeliveryRepository appends delivery records to one JSON-lines file per enrollment.
type DeliveryRepository struct {
	store *store
}

// AppendDelivery adds a record to the enrollment's audit trail.
func (dr *DeliveryRepository) AppendDelivery(_ context.Context, delivery *models.Delivery) error {
	dr.store.mu.Lock()
	defer dr.store.mu.Unlock()

	filePath, err := dr.store.path(deliveriesDir, delivery.EnrollmentID, ".jsonl")
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(filePath), 0750)
	if err != nil {
		return fmt.Errorf("failed to create deliveries directory: %w", err)
	}

	data, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery %s: %w", delivery.ID, err)
	}

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open deliveries of %s: %w", delivery.EnrollmentID, err)
	}

	_, err = file.Write(append(data, '\n'))
	if err != nil {
		_ = file.Close()

		return fmt.Errorf("failed to append delivery %s: %w", delivery.ID, err)
	}

	return file.Close()
}

// DeliveriesByEnrollment returns the records in the order they were written.
func (dr *DeliveryRepository) DeliveriesByEnrollment(_ context.Context, enrollmentID string) ([]*models.Delivery, error) {
	dr.store.mu.RLock()
	defer dr.store.mu.RUnlock()

	filePath, err := dr.store.path(deliveriesDir, enrollmentID, ".jsonl")
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if isNotExist(err) {
			return []*models.Delivery{}, nil
		}

		return nil, fmt.Errorf("failed to read deliveries of %s: %w", enrollmentID, err)
	}

	deliveries := make([]*models.Delivery, 0)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var delivery models.Delivery

		err := json.Unmarshal(line, &delivery)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal delivery of %s: %w", enrollmentID, err)
		}

		deliveries = append(deliveries, &delivery)
	}

	return deliveries, scanner.Err()
}
