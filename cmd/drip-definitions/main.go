// Package main provides drip-definitions, a tool to import and check
// automation definition files.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/drip/pkg/delivery"
	cli "github.com/urfave/cli/v3"
)

func main() {
	err := NewCommand().Run(context.Background(), os.Args)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewCommand() *cli.Command {
	return &cli.Command{
		Name:                  "drip-definitions",
		Usage:                 "Import and validate automation definitions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.IntFlag{
				Name:    "max-message-length",
				Usage:   "Longest message text accepted for active automations",
				Value:   delivery.TelegramMaxLength,
				Sources: cli.EnvVars("MAX_MESSAGE_LENGTH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			NewImportCommand(),
			NewValidateCommand(),
		},
	}
}
