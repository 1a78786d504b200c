package file

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

const enrollmentsDir = "enrollments"

// EnrollmentRepository handles enrollment file operations.
type EnrollmentRepository struct {
	store *store
}

// EnrollmentByID loads an enrollment.
func (er *EnrollmentRepository) EnrollmentByID(_ context.Context, id string) (*models.Enrollment, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	return er.load("EnrollmentByID", id)
}

// CreateEnrollment stores a new enrollment. Like the postgres backend, it
// allows one active enrollment per subscriber and automation.
func (er *EnrollmentRepository) CreateEnrollment(_ context.Context, enrollment *models.Enrollment) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	_, err := er.load("CreateEnrollment", enrollment.ID)
	if err == nil {
		return persistence.NewEnrollmentError("CreateEnrollment", enrollment.ID, persistence.ErrEnrollmentAlreadyExists)
	}

	if !persistence.IsEnrollmentNotFound(err) {
		return err
	}

	if enrollment.Status == models.EnrollmentStatusActive {
		all, err := er.all()
		if err != nil {
			return err
		}

		for _, existing := range all {
			if existing.Status == models.EnrollmentStatusActive &&
				existing.AutomationID == enrollment.AutomationID &&
				existing.SubscriberID == enrollment.SubscriberID {
				return persistence.NewEnrollmentError("CreateEnrollment", enrollment.ID, persistence.ErrEnrollmentAlreadyExists)
			}
		}
	}

	err = er.store.write(enrollmentsDir, enrollment.ID, enrollment)
	if err != nil {
		return persistence.NewEnrollmentError("CreateEnrollment", enrollment.ID, err)
	}

	return nil
}

// UpdateEnrollment applies the transition if the stored version matches.
func (er *EnrollmentRepository) UpdateEnrollment(_ context.Context, id string, expectedVersion int, transition models.EnrollmentTransition) (int64, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	enrollment, err := er.load("UpdateEnrollment", id)
	if err != nil {
		if persistence.IsEnrollmentNotFound(err) {
			return 0, nil
		}

		return 0, err
	}

	if enrollment.Version != expectedVersion {
		return 0, nil
	}

	enrollment.Apply(transition, time.Now().UTC())

	err = er.store.write(enrollmentsDir, id, enrollment)
	if err != nil {
		return 0, persistence.NewEnrollmentError("UpdateEnrollment", id, err)
	}

	return 1, nil
}

// LatestEnrollment returns the newest enrollment of subscriberID in automationID.
func (er *EnrollmentRepository) LatestEnrollment(_ context.Context, automationID, subscriberID string) (*models.Enrollment, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	all, err := er.all()
	if err != nil {
		return nil, err
	}

	var latest *models.Enrollment

	for _, enrollment := range all {
		if enrollment.AutomationID != automationID || enrollment.SubscriberID != subscriberID {
			continue
		}

		if latest == nil || enrollment.CreatedAt.After(latest.CreatedAt) {
			latest = enrollment
		}
	}

	if latest == nil {
		return nil, persistence.NewEnrollmentError("LatestEnrollment", subscriberID, persistence.ErrEnrollmentNotFound)
	}

	return latest, nil
}

// DueEnrollments lists active enrollments that should be running.
func (er *EnrollmentRepository) DueEnrollments(_ context.Context, now, staleBefore time.Time, limit int) ([]*models.Enrollment, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	all, err := er.all()
	if err != nil {
		return nil, err
	}

	due := make([]*models.Enrollment, 0)

	for _, enrollment := range all {
		if enrollment.Status != models.EnrollmentStatusActive {
			continue
		}

		waitElapsed := enrollment.NextExecuteAt != nil && !enrollment.NextExecuteAt.After(now)
		stale := enrollment.NextExecuteAt == nil && enrollment.UpdatedAt.Before(staleBefore)

		if waitElapsed || stale {
			due = append(due, enrollment)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].UpdatedAt.Before(due[j].UpdatedAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (er *EnrollmentRepository) load(op, id string) (*models.Enrollment, error) {
	var enrollment models.Enrollment

	err := er.store.read(enrollmentsDir, id, &enrollment)
	if err != nil {
		if isNotExist(err) {
			return nil, persistence.NewEnrollmentError(op, id, persistence.ErrEnrollmentNotFound)
		}

		return nil, persistence.NewEnrollmentError(op, id, err)
	}

	return &enrollment, nil
}

func (er *EnrollmentRepository) all() ([]*models.Enrollment, error) {
	ids, err := er.store.ids(enrollmentsDir)
	if err != nil {
		return nil, err
	}

	enrollments := make([]*models.Enrollment, 0, len(ids))

	for _, id := range ids {
		enrollment, err := er.load("ListEnrollments", id)
		if err != nil {
			return nil, err
		}

		enrollments = append(enrollments, enrollment)
	}

	return enrollments, nil
}
