// Command netcheck runs vendor profile network diagnostics.
//
// # Usage
//
//	netcheck profiles
//	netcheck run zoom --save
//	netcheck trace 1.1.1.1 --duration 1m
//	netcheck reports list
//	netcheck tool jitter 8.8.8.8 -n 50
//	netcheck tool portscan 192.168.1.1 --start 1 --end 1024
//	netcheck tool exec jitter 8.8.8.8 --params '{"samples":50}'
//	netcheck serve --listen 127.0.0.1:8088
//
// # Configuration
//
// Configuration can be provided via:
// - Command-line flags
// - Environment variables (NETCHECK_*)
// - Config file (--config)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pilot-net/netcheck/agent/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
