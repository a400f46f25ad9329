package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/Structa/internal/config"
	"github.com/markdave123-py/Structa/internal/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

// cli holds what every subcommand shares once the root has run.
type cli struct {
	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "structa",
		Short:         "Partition documents into structured JSON and convert them to JSON-LD",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			c.cfg = config.LoadConfig()
			logger.Init(&logger.Config{
				Level:      logger.LogLevel(c.cfg.LogLevel),
				Output:     os.Stderr,
				JSON:       c.cfg.LogJSON,
				TimeFormat: "15:04:05",
			})
		},
	}

	root.AddCommand(
		newExtractCommand(c),
		newJSONLDCommand(c),
		newServeCommand(c),
		newTokenCommand(c),
	)
	return root
}
