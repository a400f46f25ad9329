package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/Structa/internal/app"
)

func newJSONLDCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "jsonld <artifact.json>...",
		Short: "Convert extraction artifacts to JSON-LD with the configured LLM",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := app.NewApp(ctx, c.cfg, app.Options{Local: true})
			if err != nil {
				return err
			}
			defer a.Close()

			converter, err := a.JSONLDConverter(ctx)
			if err != nil {
				return err
			}

			for _, path := range args {
				elements, err := readArtifact(path)
				if err != nil {
					return err
				}
				artifact, err := convertElements(ctx, converter, a.Writer, path, elements)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "jsonld     %s\n", artifact.Path)
			}
			return nil
		},
	}
}
