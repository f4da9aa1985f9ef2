package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newTraceCmd(o *options) *cobra.Command {
	var (
		duration time.Duration
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "trace <host>",
		Short: "Trace the path to a host and keep per-hop statistics",
		Long: `Discover the hops toward a host, then ping every hop on a fixed refresh
interval and keep running loss and latency statistics per hop.

The session runs until --duration elapses or it is interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			app, err := o.openApp(ctx, true)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Hops.Start(ctx, args[0]); err != nil {
				return err
			}
			done := app.Hops.Done()
			out := cmd.OutOrStdout()

			ticker := time.NewTicker(app.Config.Trace.RefreshInterval)
			defer ticker.Stop()
		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case <-done:
					break loop
				case <-ticker.C:
					if watch && !o.json() {
						fmt.Fprint(out, "\033[H\033[2J")
						printHops(out, app.Hops.Snapshot())
					}
				}
			}
			app.Hops.Stop()

			snap := app.Hops.Snapshot()
			if o.json() {
				if err := printJSON(out, snap); err != nil {
					return err
				}
			} else {
				printHops(out, snap)
			}
			if snap.Error != "" {
				return fmt.Errorf("path discovery failed: %s", snap.Error)
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 30*time.Second, "how long to keep refreshing (0 runs until interrupted)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "redraw the hop table on every refresh")
	return cmd
}
