package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/Structa/internal/app"
	"github.com/markdave123-py/Structa/internal/api/handlers"
	"github.com/markdave123-py/Structa/internal/logger"
)

func newServeCommand(c *cli) *cobra.Command {
	var (
		local  bool
		upload bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose extraction over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := app.NewApp(ctx, c.cfg, app.Options{Local: local, Mirror: upload, Ledger: true})
			if err != nil {
				return err
			}
			defer a.Close()

			var converter handlers.Converter
			if conv, err := a.JSONLDConverter(ctx); err != nil {
				logger.Warn("JSON-LD conversion disabled", "err", err)
			} else {
				converter = conv
			}

			srv := app.NewServer(a, converter)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "partition in-process instead of calling the remote service")
	cmd.Flags().BoolVar(&upload, "upload", false, "mirror artifacts to BUCKET_NAME")
	return cmd
}
