package main

import (
	"context"
	"fmt"

	"github.com/dukex/drip/pkg/cmd"
	"github.com/dukex/drip/pkg/definitions"
	"github.com/dukex/drip/pkg/log"
	"github.com/urfave/cli/v3"
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Check stored automations against the activation rules",
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("drip-definitions").With("action", "validate")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			problems, err := definitions.Validate(ctx, persistence, int(command.Int("max-message-length")))
			if err != nil {
				return fmt.Errorf("failed to validate automations: %w", err)
			}

			out := command.Root().Writer

			if len(problems) == 0 {
				_, _ = fmt.Fprintln(out, "All automations are valid")

				return nil
			}

			_, _ = fmt.Fprintln(out, "Automation Validation Results:")
			_, _ = fmt.Fprintln(out, "==============================")

			for _, problem := range problems {
				state := "inactive"
				if problem.IsActive {
					state = "active"
				}

				_, _ = fmt.Fprintf(out, "  ❌ %s (%s): %v\n", problem.AutomationID, state, problem.Err)
			}

			return fmt.Errorf("%w: %d automations", definitions.ErrInvalidDefinitions, len(problems))
		},
	}
}
