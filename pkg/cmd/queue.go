package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/drip/pkg/queue"
)

// NewQueue connects to Redis for redis:// and rediss:// URLs and falls back
// to the in-process queue otherwise.
func NewQueue(ctx context.Context, logger *slog.Logger, redisURL string, prefix string) (queue.Queue, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		return queue.NewRedisQueue(ctx, logger, redisURL, prefix)
	}

	logger.WarnContext(ctx, "Using in-memory task queue; tasks do not survive restarts")

	return queue.NewMemoryQueue(), nil
}
