package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/sheetingest/internal/core"
	"github.com/JonMunkholm/sheetingest/internal/logging"
)

var (
	ingestMode     string
	ingestTemplate string
	ingestParallel int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Store workbooks in the database",
	Long: `ingest stores each workbook in its own transaction and prints one result
per file. Files run concurrently up to --parallel, further bounded by
INGEST_MAX_CONCURRENT. The command fails when any file failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, pool, err := openService(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		opts := core.IngestOptions{Mode: core.StorageMode(ingestMode), TemplateID: ingestTemplate}
		results := make([]*core.IngestResult, len(args))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(ingestParallel, 1))
		for i, path := range args {
			i, path := i, path
			g.Go(func() error {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				res, err := svc.Ingest(gctx, data, filepath.Base(path), opts)
				if err != nil {
					// Per-file failures are reported in the result; only
					// unreadable input stops the batch.
					logging.WithFields(gctx, "file", path).Warn("ingest failed", "error", err)
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if err := printJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}

		failed := 0
		for _, res := range results {
			if res == nil || res.Outcome == core.OutcomeFailed {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestMode, "mode", "", "storage mode: rows or table (default from INGEST_STORAGE_MODE)")
	ingestCmd.Flags().StringVar(&ingestTemplate, "template", "", "mapping template id applied to every sheet")
	ingestCmd.Flags().IntVar(&ingestParallel, "parallel", runtime.NumCPU(), "files ingested at once")
}
