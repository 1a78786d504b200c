// Package file provides file-based persistence for automations and enrollments.
// It serializes writes with a process-local mutex, so compare-and-swap updates
// are only safe within one process; use it for development and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/drip/pkg/persistence"
)

var errInvalidID = errors.New("id contains invalid characters")

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	store          *store
	automationRepo *AutomationRepository
	enrollmentRepo *EnrollmentRepository
	deliveryRepo   *DeliveryRepository
	subscriberRepo *SubscriberRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	s := &store{root: cleanRoot}

	return &Persistence{
		store:          s,
		automationRepo: &AutomationRepository{store: s},
		enrollmentRepo: &EnrollmentRepository{store: s},
		deliveryRepo:   &DeliveryRepository{store: s},
		subscriberRepo: &SubscriberRepository{store: s},
	}
}

func (fp *Persistence) AutomationRepository() persistence.AutomationRepository {
	return fp.automationRepo
}

func (fp *Persistence) EnrollmentRepository() persistence.EnrollmentRepository {
	return fp.enrollmentRepo
}

func (fp *Persistence) DeliveryRepository() persistence.DeliveryRepository {
	return fp.deliveryRepo
}

func (fp *Persistence) SubscriberRepository() persistence.SubscriberRepository {
	return fp.subscriberRepo
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	_, err := os.Stat(fp.store.root)
	if os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return err
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

type store struct {
	root string
	mu   sync.RWMutex
}

func (s *store) path(dir, id, ext string) (string, error) {
	if id == "" || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: %q", errInvalidID, id)
	}

	return filepath.Join(s.root, dir, id+ext), nil
}

// read decodes the file into v. A missing file reports fs.ErrNotExist.
func (s *store) read(dir, id string, v any) error {
	filePath, err := s.path(dir, id, ".json")
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", dir, id, err)
	}

	return nil
}

// write replaces the file atomically.
func (s *store) write(dir, id string, v any) error {
	filePath, err := s.path(dir, id, ".json")
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(filePath), 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", dir, id, err)
	}

	tmp := filePath + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", dir, id, err)
	}

	err = os.Rename(tmp, filePath)
	if err != nil {
		return fmt.Errorf("failed to replace %s/%s: %w", dir, id, err)
	}

	return nil
}

// ids lists the identifiers stored in dir.
func (s *store) ids(dir string) ([]string, error) {
	matches, err := fs.Glob(os.DirFS(filepath.Join(s.root, dir)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files: %w", dir, err)
	}

	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, strings.TrimSuffix(match, ".json"))
	}

	return ids, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
