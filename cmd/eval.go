package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/herbarium/internal/evaluation"
	"github.com/lehigh-university-libraries/herbarium/internal/identification"
)

func newEvalCmd() *cobra.Command {
	var (
		provider    string
		model       string
		concurrency int
		output      string
	)

	cmd := &cobra.Command{
		Use:   "eval <dataset>",
		Short: "Measure identification accuracy against labelled photos",
		Long: `Runs the identification provider over a labelled dataset and reports
species, genus and family accuracy.

The dataset is a YAML manifest ("samples:" list) or a JSONL file. Each sample
has an image path, relative to the dataset file, and the expected
scientific_name. The family is optional.`,
		Args: cobra.ExactArgs(1),
		Example: `  herbarium eval photos/dataset.yaml --provider gemini --output evals/gemini.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := evaluation.LoadDataset(args[0])
			if err != nil {
				return err
			}

			identifier, err := identification.NewIdentifier(provider, model)
			if err != nil {
				return err
			}

			slog.Info("Starting evaluation run", "dataset", args[0], "samples", len(ds.Samples), "provider", provider, "concurrency", concurrency)
			results, err := evaluation.Run(cmd.Context(), identifier, ds, concurrency)
			if err != nil {
				return fmt.Errorf("evaluation aborted: %w", err)
			}

			summary := evaluation.Summarize(provider, model, args[0], results)
			summary.PrintSummary(cmd.OutOrStdout())

			if output != "" {
				if err := summary.SaveYAML(output); err != nil {
					return err
				}
				slog.Info("Evaluation results saved", "path", output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Identification provider (plantnet, gemini, openai or ollama)")
	cmd.Flags().StringVar(&model, "model", "", "Model name for the vision model providers")
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "Number of identifications in flight")
	cmd.Flags().StringVar(&output, "output", "", "Write the full per-sample report as YAML")

	return cmd
}
