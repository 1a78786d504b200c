package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type delayedTask struct {
	task Task
	at   time.Time
}

// MemoryQueue is an in-process Queue for tests and single-binary runs.
type MemoryQueue struct {
	mu         sync.Mutex
	ready      []Task
	delayed    []delayedTask
	processing map[string][]Task
	dead       []Task
	notify     chan struct{}
	closed     bool
	now        func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		processing: make(map[string][]Task),
		notify:     make(chan struct{}, 1),
		now:        time.Now,
	}
}

// WithClock sets the clock used to compute due times of delayed tasks.
func (q *MemoryQueue) WithClock(now func() time.Time) *MemoryQueue {
	q.now = now

	return q
}

// Delayed returns the due time of each delayed task by enrollment ID.
func (q *MemoryQueue) Delayed() map[string]time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()

	due := make(map[string]time.Time, len(q.delayed))
	for _, d := range q.delayed {
		due[d.task.EnrollmentID] = d.at
	}

	return due
}

func (q *MemoryQueue) signal() {
	if q.closed {
		return
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, task Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	if delay > 0 {
		q.delayed = append(q.delayed, delayedTask{task: task, at: q.now().Add(delay)})

		return nil
	}

	q.ready = append(q.ready, task)
	q.signal()

	return nil
}

func (q *MemoryQueue) Reserve(ctx context.Context, worker string, timeout time.Duration) (*Task, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()

		if q.closed {
			q.mu.Unlock()

			return nil, ErrClosed
		}

		if len(q.ready) > 0 {
			task := q.ready[0]
			q.ready = q.ready[1:]
			q.processing[worker] = append(q.processing[worker], task)

			if len(q.ready) > 0 {
				q.signal()
			}

			q.mu.Unlock()

			return &task, nil
		}

		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) removeProcessing(worker string, task *Task) {
	list := q.processing[worker]
	for i := range list {
		if list[i].ID == task.ID && list[i].Attempt == task.Attempt {
			q.processing[worker] = append(list[:i], list[i+1:]...)

			return
		}
	}
}

func (q *MemoryQueue) Ack(_ context.Context, worker string, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeProcessing(worker, task)

	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, worker string, task *Task, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeProcessing(worker, task)

	next := *task
	next.Attempt++
	q.delayed = append(q.delayed, delayedTask{task: next, at: at})

	return nil
}

func (q *MemoryQueue) Bury(_ context.Context, worker string, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeProcessing(worker, task)
	q.dead = append(q.dead, *task)

	return nil
}

func (q *MemoryQueue) PromoteDue(_ context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sort.SliceStable(q.delayed, func(i, j int) bool {
		return q.delayed[i].at.Before(q.delayed[j].at)
	})

	moved := 0
	for moved < len(q.delayed) && !q.delayed[moved].at.After(now) {
		q.ready = append(q.ready, q.delayed[moved].task)
		moved++
	}

	q.delayed = q.delayed[moved:]

	if moved > 0 {
		q.signal()
	}

	return moved, nil
}

func (q *MemoryQueue) Recover(_ context.Context, worker string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := q.processing[worker]
	delete(q.processing, worker)

	q.ready = append(tasks, q.ready...)

	if len(tasks) > 0 {
		q.signal()
	}

	return len(tasks), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.notify)

	return nil
}

// Stats reports queue lengths.
func (q *MemoryQueue) Stats() (ready, delayed, dead int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.ready), len(q.delayed), len(q.dead)
}
