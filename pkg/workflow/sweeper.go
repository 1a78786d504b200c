package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/drip/pkg/metrics"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/queue"
)

// Sweeper defaults.
const (
	DefaultStaleAfter = 10 * time.Minute
	DefaultSweepBatch = 500
)

// Sweeper re-enqueues active enrollments whose task was lost: waits that
// elapsed without a wake-up and immediate steps nobody picked up. The
// executor's version check makes a redundant task harmless. An enrollment
// requeued at a given version is not requeued again until staleAfter passes
// or its version moves, so a worker backlog does not pile up duplicates.
type Sweeper struct {
	enrollments persistence.EnrollmentRepository
	scheduler   queue.Scheduler
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
	staleAfter  time.Duration
	batch       int

	mu    sync.Mutex
	swept map[string]sweptAt
}

type sweptAt struct {
	version int
	at      time.Time
}

func NewSweeper(
	p persistence.Persistence,
	scheduler queue.Scheduler,
	m *metrics.Metrics,
	logger *slog.Logger,
	staleAfter time.Duration,
	batch int,
) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	if batch <= 0 {
		batch = DefaultSweepBatch
	}

	return &Sweeper{
		enrollments: p.EnrollmentRepository(),
		scheduler:   scheduler,
		metrics:     m,
		logger:      logger.With("module", "sweeper"),
		now:         time.Now,
		staleAfter:  staleAfter,
		batch:       batch,
		swept:       make(map[string]sweptAt),
	}
}

// Sweep enqueues one task per due enrollment and returns how many it queued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()

	due, err := s.enrollments.DueEnrollments(ctx, now, now.Add(-s.staleAfter), s.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list due enrollments: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.swept {
		if now.Sub(entry.at) >= s.staleAfter {
			delete(s.swept, id)
		}
	}

	queued := 0

	for _, enrollment := range due {
		if entry, ok := s.swept[enrollment.ID]; ok && entry.version == enrollment.Version {
			continue
		}

		err := s.scheduler.Enqueue(ctx, queue.NewProcessTask(enrollment.ID), 0)
		if err != nil {
			s.metrics.AddRequeued(queued)

			return queued, fmt.Errorf("failed to requeue enrollment %s: %w", enrollment.ID, err)
		}

		s.swept[enrollment.ID] = sweptAt{version: enrollment.Version, at: now}
		queued++
	}

	if queued > 0 {
		s.logger.InfoContext(ctx, "Requeued due enrollments", "count", queued)
	}

	s.metrics.AddRequeued(queued)

	return queued, nil
}
