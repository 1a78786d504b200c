// Package queue carries enrollment processing tasks between the scheduler
// and the worker pool. Tasks are at-least-once: a reserved task stays in the
// worker's processing list until it is acked, and is recovered on restart.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TypeProcessEnrollment asks a worker to run one execution of an enrollment.
const TypeProcessEnrollment = "enrollment:process"

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Task is a unit of work for the worker pool.
type Task struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	EnrollmentID string `json:"enrollment_id"`
	Attempt      int    `json:"attempt"`

	raw string
}

// NewProcessTask builds a processing task for the enrollment.
func NewProcessTask(enrollmentID string) Task {
	return Task{
		ID:           uuid.NewString(),
		Type:         TypeProcessEnrollment,
		EnrollmentID: enrollmentID,
	}
}

func (t Task) encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode task %s: %w", t.ID, err)
	}

	return string(data), nil
}

func decodeTask(raw string) (*Task, error) {
	var task Task

	err := json.Unmarshal([]byte(raw), &task)
	if err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}

	task.raw = raw

	return &task, nil
}

// Scheduler is the producer side used by the executor and the enroller.
type Scheduler interface {
	// Enqueue makes the task ready as soon as possible when delay <= 0, and
	// not before delay has passed otherwise.
	Enqueue(ctx context.Context, task Task, delay time.Duration) error
}

// Queue is the full task queue used by the worker pool.
type Queue interface {
	Scheduler

	// Reserve blocks up to timeout for a ready task and moves it to the
	// worker's processing list. It returns nil, nil on timeout.
	Reserve(ctx context.Context, worker string, timeout time.Duration) (*Task, error)
	// Ack removes a finished task from the worker's processing list.
	Ack(ctx context.Context, worker string, task *Task) error
	// Retry puts a failed task back with its attempt counter bumped.
	Retry(ctx context.Context, worker string, task *Task, at time.Time) error
	// Bury moves a task that ran out of attempts to the dead list.
	Bury(ctx context.Context, worker string, task *Task) error
	// PromoteDue moves delayed tasks whose time has come to the ready list.
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	// Recover returns tasks a crashed worker left in processing to ready.
	Recover(ctx context.Context, worker string) (int, error)

	Close() error
}
