package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var templatesJSON bool

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage mapping templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mapping templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, pool, err := openService(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		templates, err := svc.ListTemplates(ctx)
		if err != nil {
			return err
		}
		if templatesJSON {
			return printJSON(cmd.OutOrStdout(), templates)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tMAPPINGS\tUPDATED")
		for _, t := range templates {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.ID, t.Name, len(t.Mappings), t.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

func init() {
	templatesListCmd.Flags().BoolVar(&templatesJSON, "json", false, "print JSON instead of a table")
	templatesCmd.AddCommand(templatesListCmd)
}
