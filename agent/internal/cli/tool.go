package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pilot-net/netcheck/agent/internal/config"
	"github.com/pilot-net/netcheck/agent/internal/executor"
	"github.com/pilot-net/netcheck/pkg/types"
)

// toolFunc runs one probe and returns its result along with a text renderer.
type toolFunc func(cmd *cobra.Command, gw *executor.Local, cfg *config.Config, args []string) (any, func(io.Writer), error)

func newToolCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Run a single network probe",
	}

	var samples int
	jitter := toolCommand(o, "jitter <host>", "Measure latency, jitter and loss with a ping burst", cobra.ExactArgs(1),
		func(cmd *cobra.Command, gw *executor.Local, cfg *config.Config, args []string) (any, func(io.Writer), error) {
			n := samples
			if n <= 0 {
				n = cfg.Probing.JitterSamples
			}
			res, err := gw.JitterTest(cmd.Context(), args[0], n)
			if err != nil {
				return nil, nil, err
			}
			return res, func(w io.Writer) {
				fmt.Fprintf(w, "%s: avg %sms  jitter %sms  loss %s%%  (%d samples)\n",
					res.Host, ms(res.AvgLatency), ms(res.Jitter), ms(res.PacketLoss), res.SampleCount)
			}, nil
		})
	jitter.Flags().IntVarP(&samples, "samples", "n", 0, "echo count (default: probing.jitter_samples)")

	var recordType string
	dns := toolCommand(o, "dns <name>", "Resolve a name", cobra.ExactArgs(1),
		func(cmd *cobra.Command, gw *executor.Local, _ *config.Config, args []string) (any, func(io.Writer), error) {
			recs, err := gw.DNSLookup(cmd.Context(), args[0], recordType)
			if err != nil {
				return nil, nil, err
			}
			return recs, func(w io.Writer) {
				if len(recs) == 0 {
					fmt.Fprintln(w, "No records.")
					return
				}
				tw := newTable(w)
				fmt.Fprintln(tw, "TYPE\tVALUE\tTTL")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%d\n", r.Type, r.Value, r.TTL)
				}
				tw.Flush()
			}, nil
		})
	dns.Flags().StringVarP(&recordType, "type", "t", "A", "record type: A, AAAA, CNAME, MX, NS, TXT")

	var speedDuration time.Duration
	speed := toolCommand(o, "speed <host> <port>", "Measure upload throughput to a TCP sink", cobra.ExactArgs(2),
		func(cmd *cobra.Command, gw *executor.Local, _ *config.Config, args []string) (any, func(io.Writer), error) {
			port, err := parsePort(args[1])
			if err != nil {
				return nil, nil, err
			}
			res, err := gw.Throughput(cmd.Context(), args[0], port, speedDuration)
			if err != nil {
				return nil, nil, err
			}
			return res, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s Mbps (%d bytes in %dms)\n",
					res.Status, ms(res.Mbps), res.BytesTransferred, res.DurationMs)
			}, nil
		})
	speed.Flags().DurationVarP(&speedDuration, "duration", "d", 10*time.Second, "upload duration")

	var firstPort, lastPort int
	portscan := toolCommand(o, "portscan <host>", "Find open TCP ports in a range", cobra.ExactArgs(1),
		func(cmd *cobra.Command, gw *executor.Local, _ *config.Config, args []string) (any, func(io.Writer), error) {
			events := make(chan types.TCPResult, 16)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for ev := range events {
					if !o.json() {
						fmt.Fprintf(cmd.OutOrStdout(), "%d/tcp %s%s\n", ev.Port, passColor.Sprint("open"), latencySuffix(ev.LatencyMs))
					}
				}
			}()
			res, err := gw.PortScan(cmd.Context(), args[0], firstPort, lastPort, events)
			close(events)
			<-done
			if err != nil {
				return nil, nil, err
			}
			return res, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %d open of %d scanned in %dms\n",
					res.Host, len(res.OpenPorts), res.ScannedCount, res.DurationMs)
			}, nil
		})
	portscan.Flags().IntVar(&firstPort, "start", 1, "first port")
	portscan.Flags().IntVar(&lastPort, "end", 1024, "last port")

	var (
		execPort   int
		execParams string
	)
	execCmd := toolCommand(o, "exec <type> [host]", "Run any registered probe by type name", cobra.RangeArgs(1, 2),
		func(cmd *cobra.Command, gw *executor.Local, _ *config.Config, args []string) (any, func(io.Writer), error) {
			target := executor.ProbeTarget{Port: execPort}
			if len(args) == 2 {
				target.Host = args[1]
			}
			if execParams != "" {
				if !json.Valid([]byte(execParams)) {
					return nil, nil, fmt.Errorf("--params is not valid JSON")
				}
				target.Params = json.RawMessage(execParams)
			}
			res, err := gw.Execute(cmd.Context(), args[0], target)
			if err != nil {
				return nil, nil, err
			}
			return res, func(w io.Writer) {
				status := passColor.Sprint("ok")
				if !res.Success {
					status = failColor.Sprint("failed")
				}
				fmt.Fprintf(w, "%s %s: %s (%s)\n", res.Type, orDash(res.Target), status, res.Duration.Round(time.Millisecond))
				printJSON(w, res.Payload)
			}, nil
		})
	execCmd.Flags().IntVarP(&execPort, "port", "p", 0, "target port")
	execCmd.Flags().StringVar(&execParams, "params", "", `probe-specific JSON parameters, e.g. '{"samples":50}'`)

	cmd.AddCommand(
		toolCommand(o, "probes", "List the probes available on this machine", cobra.NoArgs,
			func(cmd *cobra.Command, gw *executor.Local, _ *config.Config, _ []string) (any, func(io.Writer), error) {
				probes := gw.Probes()
				return probes, func(w io.Writer) { printProbes(w, probes) }, nil
			}),
		execCmd,
		portscan,
		toolCommand(o, "ping <host>", "Send one ICMP echo", cobra.ExactArgs(1),
			func(cmd *cobra.Command, gw *executor.Local, _ *config.Config, args []string) (any, func(io.Writer), error) {
				res, err := gw.Ping(cmd.Context(), args[0])
				if err != nil {
					return nil, nil, err
				}
				return res, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %s%s\n", res.Host, res.Status, latencySuffix(res.LatencyMs))
				}, nil
			}),
		jitter,
		toolCommand(o, "tcp <host> <port>", "Check that a TCP port accepts connections", cobra.ExactArgs(2),
			func(cmd *cobra.Command, gw *executor.Local, _ *config.Config, args []string) (any, func(io.Writer), error) {
				port, err := parsePort(args[1])
				if err != nil {
					return nil, nil, err
				}
				res, err := gw.TCPCheck(cmd.Context(), args[0], port)
				if err != nil {
					return nil, nil, err
				}
				return res, func(w io.Writer) {
					fmt.Fprintf(w, "%s:%d: %s%s\n", res.Host, res.Port, res.Status, latencySuffix(res.LatencyMs))
				}, nil
			}),
		toolCommand(o, "mtu <host>", "Find the largest unfragmented packet toward a host", cobra.ExactArgs(1),
			func(cmd *cobra.Command, gw *executor.Local, _ *config.Config, args []string) (any, func(io.Writer), error) {
				res, err := gw.MTUCheck(cmd.Context(), args[0])
				if err != nil {
					return nil, nil, err
				}
				return res, func(w io.Writer) {
					fmt.Fprintf(w, "%s: MTU %d (%s) %s\n", res.Host, res.MTU, res.Status, res.Details)
				}, nil
			}),
		toolCommand(o, "nat", "Classify the local NAT with STUN", cobra.NoArgs,
			func(cmd *cobra.Command, gw *executor.Local, _ *config.Config, _ []string) (any, func(io.Writer), error) {
				res, err := gw.NATCheck(cmd.Context())
				if err != nil {
					return nil, nil, err
				}
				return res, func(w io.Writer) {
					fmt.Fprintf(w, "NAT type:  %s\nPublic IP: %s\n%s\n", res.NATType, res.PublicIP, res.Details)
				}, nil
			}),
		toolCommand(o, "scan", "Discover devices on the local subnet", cobra.NoArgs,
			func(cmd *cobra.Command, gw *executor.Local, _ *config.Config, _ []string) (any, func(io.Writer), error) {
				devices, err := gw.DiscoverDevices(cmd.Context(), nil)
				if err != nil {
					return nil, nil, err
				}
				return devices, func(w io.Writer) {
					tw := newTable(w)
					fmt.Fprintln(tw, "IP\tMAC\tHOSTNAME\tSTATUS")
					for _, d := range devices {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.IP, d.MAC, d.Hostname, d.Status)
					}
					tw.Flush()
					fmt.Fprintf(w, "%d devices\n", len(devices))
				}, nil
			}),
		toolCommand(o, "geo <ip>", "Geolocate an address", cobra.ExactArgs(1),
			func(cmd *cobra.Command, gw *executor.Local, _ *config.Config, args []string) (any, func(io.Writer), error) {
				res, err := gw.GeoLookup(cmd.Context(), args[0])
				if err != nil {
					return nil, nil, err
				}
				return res, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %s (%s)\n", res.Query, location(*res), orDash(res.ISP))
				}, nil
			}),
		dns,
		speed,
		toolCommand(o, "sysinfo", "Show local system resource usage", cobra.NoArgs,
			func(cmd *cobra.Command, gw *executor.Local, _ *config.Config, _ []string) (any, func(io.Writer), error) {
				res, err := gw.SystemInfo(cmd.Context())
				if err != nil {
					return nil, nil, err
				}
				return res, func(w io.Writer) { printSystemInfo(w, *res) }, nil
			}),
	)
	return cmd
}

func toolCommand(o *options, use, short string, args cobra.PositionalArgs, run toolFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, cfg, err := o.openGateway()
			if err != nil {
				return err
			}
			defer gw.Close()

			res, render, err := run(cmd, gw, cfg, args)
			if err != nil {
				return err
			}
			if o.json() {
				return printJSON(cmd.OutOrStdout(), res)
			}
			render(cmd.OutOrStdout())
			return nil
		},
	}
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}

func latencySuffix(latency *float64) string {
	if latency == nil {
		return ""
	}
	return fmt.Sprintf(" (%sms)", ms(*latency))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printSystemInfo(w io.Writer, info types.SystemInfo) {
	const mib = 1024 * 1024
	fmt.Fprintf(w, "Host:   %s\n", info.HostName)
	fmt.Fprintf(w, "OS:     %s %s\n", info.OSName, info.OSVersion)
	fmt.Fprintf(w, "CPU:    %s%%\n", ms(info.CPUUsage))
	fmt.Fprintf(w, "Memory: %d / %d MiB\n", info.MemoryUsed/mib, info.MemoryTotal/mib)
}

func printProbes(w io.Writer, probes map[string]executor.Capabilities) {
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := newTable(w)
	fmt.Fprintln(tw, "TYPE\tROOT\tREQUIRES")
	for _, name := range names {
		caps := probes[name]
		root := "no"
		if caps.RequiresRoot {
			root = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, root, orDash(strings.Join(caps.Dependencies, ", ")))
	}
	tw.Flush()
}
