package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/herbarium/internal/export"
	"github.com/lehigh-university-libraries/herbarium/internal/stores"
)

func newExportCmd() *cobra.Command {
	var (
		user   string
		public bool
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export saved plants to parquet or yaml",
		Example: `  # All of alice's plants as parquet
  herbarium export --user alice --output alice.parquet

  # The public gallery as yaml on stdout
  herbarium export --public --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := scopeFromFlags(user, public)
			if err != nil {
				return err
			}

			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			if f == export.FormatParquet && output == "" {
				return fmt.Errorf("--output is required for parquet exports")
			}

			st, err := stores.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			rows, err := export.Collect(cmd.Context(), st.Plants, scope)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer file.Close()
				w = file
			}

			if err := export.Write(w, f, rows); err != nil {
				return err
			}

			if output != "" {
				absPath, _ := filepath.Abs(output)
				slog.Info("Export written", "path", absPath, "rows", len(rows), "format", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Export this user's plants")
	cmd.Flags().BoolVar(&public, "public", false, "Export the public gallery")
	cmd.Flags().StringVar(&format, "format", "parquet", "Output format (parquet or yaml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (yaml defaults to stdout)")

	return cmd
}
