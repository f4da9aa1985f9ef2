// Package executor - local subnet discovery.
//
// The sweep pings every host of the local /24 with a bounded number of
// concurrent single echoes, then enriches answering hosts with their MAC from
// the ARP table and a reverse DNS name.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pilot-net/netcheck/pkg/types"
)

// DiscoveryExecutor sweeps the local IPv4 subnet for live devices.
type DiscoveryExecutor struct {
	// Workers bounds concurrent pings. Default: 50
	Workers int

	// PingTimeout bounds each single echo. Default: 1s
	PingTimeout time.Duration

	logger  *slog.Logger
	ping    pingFunc
	localIP func() (net.IP, error)
	arp     func(ctx context.Context) map[string]string
	rdns    func(ctx context.Context, ip string) string
}

// NewDiscoveryExecutor creates a discovery executor that pings through icmp.
func NewDiscoveryExecutor(icmp *ICMPExecutor, workers int, logger *slog.Logger) *DiscoveryExecutor {
	if workers <= 0 {
		workers = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscoveryExecutor{
		Workers:     workers,
		PingTimeout: time.Second,
		logger:      logger,
		ping:        icmp.ping,
		localIP:     outboundIPv4,
		arp:         readARPTable,
		rdns:        reverseName,
	}
}

// Type returns the executor type identifier.
func (e *DiscoveryExecutor) Type() string {
	return "scan"
}

// Capabilities returns what this executor needs.
func (e *DiscoveryExecutor) Capabilities() Capabilities {
	return Capabilities{}
}

// Execute runs one sweep. target is ignored.
func (e *DiscoveryExecutor) Execute(ctx context.Context, target ProbeTarget) (*Result, error) {
	start := time.Now()
	devices, err := e.Discover(ctx, nil)
	if err != nil {
		return nil, err
	}
	return newResult(e.Type(), "LAN", start, true, devices), nil
}

// Discover sweeps the local /24, excluding this host. Devices are sent on
// events as they answer and returned sorted by address.
func (e *DiscoveryExecutor) Discover(ctx context.Context, events chan<- types.LanDevice) ([]types.LanDevice, error) {
	self, err := e.localIP()
	if err != nil {
		return nil, fmt.Errorf("determine local address: %w", err)
	}
	hosts := subnetHosts(self)
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no IPv4 subnet for %s", self)
	}

	e.logger.Info("starting LAN sweep",
		"local_ip", self.String(),
		"hosts", len(hosts),
		"workers", e.Workers,
	)

	sem := semaphore.NewWeighted(int64(e.Workers))
	var (
		mu      sync.Mutex
		devices []types.LanDevice
		wg      sync.WaitGroup
	)

	for _, ip := range hosts {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			defer sem.Release(1)

			rtts, err := e.ping(ctx, ip, 1, e.PingTimeout, e.PingTimeout)
			if err != nil || len(rtts) == 0 {
				return
			}

			// The echo just populated the neighbor entry.
			dev := types.LanDevice{
				IP:       ip,
				MAC:      e.arp(ctx)[ip],
				Hostname: e.rdns(ctx, ip),
				Status:   types.DeviceOnline,
			}
			if dev.MAC == "" {
				dev.MAC = "Unknown"
			}

			mu.Lock()
			devices = append(devices, dev)
			mu.Unlock()

			if events != nil {
				select {
				case events <- dev:
				case <-ctx.Done():
				}
			}
		}(ip)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(devices, func(i, j int) bool {
		return ipLess(devices[i].IP, devices[j].IP)
	})

	e.logger.Info("LAN sweep complete", "devices", len(devices))
	if devices == nil {
		devices = []types.LanDevice{}
	}
	return devices, nil
}

// subnetHosts returns .1 through .254 of self's /24, minus self.
func subnetHosts(self net.IP) []string {
	v4 := self.To4()
	if v4 == nil {
		return nil
	}
	hosts := make([]string, 0, 253)
	for i := 1; i < 255; i++ {
		if byte(i) == v4[3] {
			continue
		}
		hosts = append(hosts, net.IPv4(v4[0], v4[1], v4[2], byte(i)).String())
	}
	return hosts
}

// ipLess orders dotted IPv4 strings numerically.
func ipLess(x, y string) bool {
	a, b := net.ParseIP(x).To4(), net.ParseIP(y).To4()
	if a == nil || b == nil {
		return x < y
	}
	return bytes.Compare(a, b) < 0
}

// outboundIPv4 returns the source address the kernel would use for public
// traffic. Dialing UDP sends nothing.
func outboundIPv4() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.To4() == nil {
		return nil, errors.New("no IPv4 route")
	}
	return addr.IP.To4(), nil
}

// reverseName returns the PTR name of ip, or "Unknown".
func reverseName(ctx context.Context, ip string) string {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return "Unknown"
	}
	return strings.TrimSuffix(names[0], ".")
}

// =============================================================================
// ARP TABLE
// =============================================================================

// readARPTable returns IP -> MAC from the kernel neighbor table.
func readARPTable(ctx context.Context) map[string]string {
	if runtime.GOOS == "linux" {
		if data, err := os.ReadFile("/proc/net/arp"); err == nil {
			return parseProcARP(data)
		}
	}
	out, err := runCommand(ctx, "arp", "-an")
	if err != nil {
		return map[string]string{}
	}
	return parseArpOutput(out)
}

// parseProcARP parses /proc/net/arp:
//
//	IP address       HW type     Flags       HW address            Mask     Device
//	192.168.1.1      0x1         0x2         aa:bb:cc:dd:ee:ff     *        eth0
func parseProcARP(data []byte) map[string]string {
	out := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[3] == "00:00:00:00:00:00" {
			continue
		}
		out[fields[0]] = strings.ToLower(fields[3])
	}
	return out
}

var arpLine = regexp.MustCompile(`\((\d+\.\d+\.\d+\.\d+)\) at ([0-9a-fA-F:]+)`)

// parseArpOutput parses BSD-style `arp -an` output:
//
//	? (192.168.1.1) at aa:bb:cc:dd:ee:ff on en0 ifscope [ethernet]
func parseArpOutput(data []byte) map[string]string {
	out := make(map[string]string)
	for _, m := range arpLine.FindAllSubmatch(data, -1) {
		out[string(m[1])] = strings.ToLower(string(m[2]))
	}
	return out
}
