package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess SHEET_ID HEADER_ROW",
	Short: "Re-read a sheet with an explicit 0-based header row",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sheetID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid sheet id %q", args[0])
		}
		header, err := strconv.Atoi(args[1])
		if err != nil || header < 0 {
			return fmt.Errorf("invalid header row %q", args[1])
		}

		ctx := cmd.Context()
		svc, pool, err := openService(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		res, err := svc.Reprocess(ctx, sheetID, header)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}
