// Package main provides the drip worker: it enrolls subscribers from trigger
// events and executes enrollment steps from the task queue.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dukex/drip/pkg/cmd"
	"github.com/dukex/drip/pkg/log"
	"github.com/dukex/drip/pkg/otelhelper"
	"github.com/dukex/drip/pkg/worker"
	"github.com/dukex/drip/pkg/workflow"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "drip-worker",
		EnableShellCompletion: true,
		Usage:                 "Enroll subscribers and execute automation steps",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Worker ID; keep it stable across restarts to recover unfinished tasks",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres:// or a directory)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the task queue; empty uses an in-memory queue",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "queue-prefix",
				Usage:   "Key prefix of the Redis task queue",
				Value:   "drip:tasks",
				Sources: cli.EnvVars("QUEUE_PREFIX"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "gateway",
				Usage:   "Delivery gateway (telegram, log)",
				Value:   "log",
				Sources: cli.EnvVars("GATEWAY_TYPE"),
			},
			&cli.StringFlag{
				Name:    "telegram-token",
				Usage:   "Telegram bot token",
				Sources: cli.EnvVars("TELEGRAM_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "telegram-url",
				Usage:   "Telegram Bot API base URL",
				Sources: cli.EnvVars("TELEGRAM_API_URL"),
			},
			&cli.DurationFlag{
				Name:    "send-timeout",
				Usage:   "Timeout of one gateway request",
				Value:   10 * time.Second,
				Sources: cli.EnvVars("SEND_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Number of concurrent task consumers",
				Value:   10,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.IntFlag{
				Name:    "max-attempts",
				Usage:   "Attempts before a failing task is buried",
				Value:   5,
				Sources: cli.EnvVars("WORKER_MAX_ATTEMPTS"),
			},
			&cli.DurationFlag{
				Name:    "stale-after",
				Usage:   "Age after which an enrollment without a wake-up time is requeued by the sweeper",
				Value:   workflow.DefaultStaleAfter,
				Sources: cli.EnvVars("SWEEP_STALE_AFTER"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron spec of the sweeper",
				Value:   "@every 1m",
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "default-language",
				Usage:   "Message language used when the subscriber's language has no variant",
				Value:   workflow.DefaultLanguage,
				Sources: cli.EnvVars("DEFAULT_LANGUAGE"),
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Address serving /metrics; empty disables it",
				Value:   ":9092",
				Sources: cli.EnvVars("METRICS_ADDR"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("drip-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing drip worker")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), splitList(command.String("kafka-brokers")), "drip-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			taskQueue, err := cmd.NewQueue(ctx, logger, command.String("redis-url"), command.String("queue-prefix"))
			if err != nil {
				return err
			}

			defer func() {
				err := taskQueue.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close task queue", "error", err)
				}
			}()

			gateway, err := cmd.NewGateway(cmd.GatewayConfig{
				Type:          command.String("gateway"),
				TelegramToken: command.String("telegram-token"),
				TelegramURL:   command.String("telegram-url"),
				Timeout:       command.Duration("send-timeout"),
			}, logger)
			if err != nil {
				return err
			}

			tracer := otelhelper.NoopTracer()

			if command.Bool("tracing") {
				var shutdown func(context.Context) error

				tracer, shutdown, err = otelhelper.NewTracer(ctx, "drip-worker")
				if err != nil {
					return err
				}

				defer func() {
					err := shutdown(context.WithoutCancel(ctx))
					if err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()
			}

			config := worker.DefaultConfig(workerID)
			config.Concurrency = int(command.Int("concurrency"))
			config.MaxAttempts = int(command.Int("max-attempts"))
			config.SweepSchedule = command.String("sweep-schedule")

			manager := NewWorkerManager(Dependencies{
				Persistence:     persistence,
				EventBus:        eventBus,
				Queue:           taskQueue,
				Gateway:         gateway,
				Tracer:          tracer,
				Logger:          logger,
				Config:          config,
				StaleAfter:      command.Duration("stale-after"),
				DefaultLanguage: command.String("default-language"),
				MetricsAddr:     command.String("metrics-addr"),
			})

			return manager.Run(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func splitList(value string) []string {
	var items []string

	for item := range strings.SplitSeq(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}

	return items
}
