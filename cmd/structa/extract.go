package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/Structa/internal/app"
	"github.com/markdave123-py/Structa/internal/core/extraction_engine"
	"github.com/markdave123-py/Structa/internal/core/llm"
	"github.com/markdave123-py/Structa/internal/models"
)

func newExtractCommand(c *cli) *cobra.Command {
	var (
		flags   strategyFlags
		local   bool
		upload  bool
		jsonld  bool
		workers int
	)

	cmd := &cobra.Command{
		Use:   "extract <document>...",
		Short: "Partition documents with one or more strategies",
		Long: "Partition each document (a local path or an S3 URL) once per strategy and write\n" +
			"one JSON artifact per run to OUTPUT_DIR.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			options, err := flags.options(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("workers") {
				workers = c.cfg.Workers
			}

			a, err := app.NewApp(ctx, c.cfg, app.Options{Local: local, Mirror: upload, Ledger: true})
			if err != nil {
				return err
			}
			defer a.Close()

			var jobs []extraction_engine.Job
			for _, ref := range args {
				doc, err := a.Loader.Load(ctx, ref)
				if err != nil {
					return err
				}
				jobs = append(jobs, extraction_engine.Jobs(doc, options)...)
			}

			results := a.Pipeline.RunAll(ctx, jobs, workers)
			printResults(cmd, results)

			if jsonld {
				converter, err := a.JSONLDConverter(ctx)
				if err != nil {
					return err
				}
				for _, res := range results {
					if res.Outcome == nil {
						continue
					}
					artifact, err := convertElements(ctx, converter, a.Writer, res.Outcome.Artifact.Path, res.Outcome.Elements)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "jsonld     %s\n", artifact.Path)
				}
			}

			return extraction_engine.Errors(results)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&local, "local", false, "partition in-process instead of calling the remote service")
	cmd.Flags().BoolVar(&upload, "upload", false, "mirror artifacts to BUCKET_NAME")
	cmd.Flags().BoolVar(&jsonld, "jsonld", false, "also convert every artifact to JSON-LD")
	cmd.Flags().IntVar(&workers, "workers", 1, "runs in flight (default WORKERS)")
	return cmd
}

func printResults(cmd *cobra.Command, results []extraction_engine.Result) {
	out := cmd.OutOrStdout()
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(out, "failed     %s [%s]: %v\n", res.Job.Name, res.Job.Options.ChunkingStrategy, res.Err)
			continue
		}
		o := res.Outcome
		fmt.Fprintf(out, "persisted  %s (%d elements, %d attempts)\n", o.Artifact.Path, len(o.Elements), o.Attempts)
		if o.Artifact.URL != "" {
			fmt.Fprintf(out, "uploaded   %s\n", o.Artifact.URL)
		}
	}
}

func convertElements(ctx context.Context, converter *llm.JSONLDConverter, w *extraction_engine.OutputWriter, source string, elements models.ExtractionResult) (models.Artifact, error) {
	doc, err := converter.Convert(ctx, elements)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("convert %s: %w", source, err)
	}
	return w.WriteJSONLD(source, doc)
}

func readArtifact(path string) (models.ExtractionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var elements models.ExtractionResult
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return elements, nil
}
