package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/drip/pkg/cmd"
	"github.com/dukex/drip/pkg/definitions"
	"github.com/dukex/drip/pkg/log"
	"github.com/urfave/cli/v3"
)

var ErrMissingFile = errors.New("definitions file is required")

func NewImportCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Aliases:   []string{"i"},
		Usage:     "Save the automations and subscribers of a YAML file",
		ArgsUsage: "<file.yaml>",
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("drip-definitions").With("action", "import")

			path := command.Args().First()
			if path == "" {
				return ErrMissingFile
			}

			defs, err := definitions.Load(path)
			if err != nil {
				return err
			}

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

			importer := definitions.NewImporter(persistence, int(command.Int("max-message-length")), logger)

			result, err := importer.Import(ctx, defs)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(command.Root().Writer, "Imported %d automations and %d subscribers from %s\n",
				result.Automations, result.Subscribers, path)

			return nil
		},
	}
}
