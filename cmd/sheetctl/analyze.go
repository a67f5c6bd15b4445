package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetingest/internal/core"
	"github.com/JonMunkholm/sheetingest/internal/ingest"
)

var analyzeReader string

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE...",
	Short: "Print the detected layout, headers and column types of each sheet",
	Long: `analyze runs header detection, type inference and numeric profiling over
every sheet of the given workbooks and prints the result as JSON. Nothing is
stored and no database is needed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := ingest.NewPipeline(ingest.DefaultWeights(), ingest.DefaultBatchSize)

		out := make([]*core.PreviewResponse, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			opener, err := ingest.Detect(path, data, ingest.ReaderKind(analyzeReader))
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			resp, err := core.PreviewWorkbook(cmd.Context(), p, opener, filepath.Base(path))
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			out = append(out, resp)
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeReader, "reader", string(ingest.ReaderExcelize), "xlsx reader: excelize or stream")
}
