package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pilot-net/netcheck/agent/internal/api"
)

func newServeCmd(o *options) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the observer API and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := o.openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			if listen != "" {
				app.Config.Server.Listen = listen
			}
			return app.Serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: server.listen)")
	return cmd
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash to use as server.token_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := api.HashToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
