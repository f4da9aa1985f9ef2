package cli

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/pilot-net/netcheck/agent"
	"github.com/pilot-net/netcheck/agent/internal/diag"
	"github.com/pilot-net/netcheck/pkg/types"
)

func newProfilesCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List vendor profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := o.loadConfig(true)
			if err != nil {
				return err
			}
			reg, err := agent.LoadProfiles(cfg)
			if err != nil {
				return err
			}
			if o.json() {
				return printJSON(cmd.OutOrStdout(), reg.List())
			}
			printProfiles(cmd.OutOrStdout(), reg.List())
			return nil
		},
	}
}

func newRunCmd(o *options) *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "run [profile-id]",
		Short: "Run a vendor profile diagnostic",
		Long: `Run the diagnostic sequence of a vendor profile: NAT check, connectivity
sweep, LAN isolation and MTU checks as the profile enables them.

Without a profile id the configured default profile is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := o.openApp(ctx, true)
			if err != nil {
				return err
			}
			defer app.Close()

			var id string
			if len(args) > 0 {
				id = args[0]
			}
			p, err := app.Profile(id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printed := map[string]bool{}
			stopStream := func() {}
			if !o.json() {
				fmt.Fprintf(out, "Running %s diagnostics\n\n", p.Name)
				updates, unsubscribe := app.Controller.Subscribe()
				drained := make(chan struct{})
				go func() {
					defer close(drained)
					for u := range updates {
						if u.Entry != nil {
							printEntry(out, *u.Entry)
							printed[u.Entry.ID] = true
						}
					}
				}()
				stopStream = sync.OnceFunc(func() {
					unsubscribe()
					<-drained
				})
			}
			defer stopStream()

			if err := app.Controller.Run(ctx, p); err != nil {
				return err
			}
			snap := app.Controller.Snapshot()

			var saved *types.SavedReport
			if save || app.Config.Diagnostics.AutoSave {
				saved, err = app.Reports.Save(ctx, snap.ProfileName, snap.Logs)
				if err != nil {
					return fmt.Errorf("saving report: %w", err)
				}
			}

			if o.json() {
				if saved != nil {
					return printJSON(out, saved)
				}
				return printJSON(out, snap)
			}

			// Entries a slow terminal missed on the live stream.
			stopStream()
			for _, e := range snap.Logs {
				if !printed[e.ID] {
					printEntry(out, e)
				}
			}
			printOutcome(out, snap)
			if saved != nil {
				fmt.Fprintf(out, "Saved report %s\n", saved.ID)
			}

			if snap.Outcome == diag.StateFailed {
				return errors.New("diagnostic run aborted")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "save the run as a report")
	return cmd
}
