package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReportsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Manage saved reports",
	}
	cmd.AddCommand(newReportsListCmd(o))
	cmd.AddCommand(newReportsShowCmd(o))
	cmd.AddCommand(newReportsClearCmd(o))
	return cmd
}

func newReportsListCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved reports, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := o.openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer app.Close()

			reports, err := app.Reports.List(cmd.Context())
			if err != nil {
				return err
			}
			if o.json() {
				return printJSON(cmd.OutOrStdout(), reports)
			}
			printReportList(cmd.OutOrStdout(), reports)
			return nil
		},
	}
}

func newReportsShowCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one saved report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := o.openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer app.Close()

			r, err := app.Reports.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if o.json() {
				return printJSON(cmd.OutOrStdout(), r)
			}
			printReport(cmd.OutOrStdout(), *r)
			return nil
		},
	}
}

func newReportsClearCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved report",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := o.openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Reports.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Saved reports cleared.")
			return nil
		},
	}
}
