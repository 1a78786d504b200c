package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

func (p *Pool) startJobs(ctx context.Context) error {
	logger := cronLogger{logger: p.logger.With("component", "cron")}

	p.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		),
	)

	if p.config.PromoteSchedule != "" {
		_, err := p.cron.AddFunc(p.config.PromoteSchedule, func() { p.promote(ctx) })
		if err != nil {
			return fmt.Errorf("invalid promote schedule %q: %w", p.config.PromoteSchedule, err)
		}
	}

	if p.sweeper != nil && p.config.SweepSchedule != "" {
		_, err := p.cron.AddFunc(p.config.SweepSchedule, func() { p.sweep(ctx) })
		if err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", p.config.SweepSchedule, err)
		}
	}

	p.cron.Start()

	return nil
}

// promote releases delayed tasks whose time has come.
func (p *Pool) promote(ctx context.Context) {
	moved, err := p.queue.PromoteDue(ctx, p.now())
	if err != nil {
		if ctx.Err() == nil {
			p.logger.ErrorContext(ctx, "Failed to promote delayed tasks", "error", err)
		}

		return
	}

	if moved > 0 {
		p.logger.DebugContext(ctx, "Promoted delayed tasks", "count", moved)
	}
}

func (p *Pool) sweep(ctx context.Context) {
	_, err := p.sweeper.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		p.logger.ErrorContext(ctx, "Sweep failed", "error", err)
	}
}
