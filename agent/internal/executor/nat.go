// Package executor - NAT classification over STUN.
//
// One UDP socket sends a binding request to each configured STUN server and
// compares the mapped addresses the servers report back:
//
//	mapped == local address          -> Open Internet
//	same mapping from every server   -> Endpoint-Independent
//	different mappings per server    -> Symmetric
//	only one server answered         -> Unknown
//	no answer                        -> Error
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/pion/stun"

	"github.com/pilot-net/netcheck/pkg/types"
)

// NAT type names reported by the NAT executor.
const (
	NATOpenInternet        = "Open Internet"
	NATEndpointIndependent = "Endpoint-Independent"
	NATSymmetric           = "Symmetric"
)

// DefaultSTUNServers are used when none are configured.
var DefaultSTUNServers = []string{"stun.l.google.com:19302", "stun1.l.google.com:19302"}

// NATExecutor classifies the local NAT using STUN binding requests.
type NATExecutor struct {
	Servers []string

	// Timeout bounds the whole exchange. Default: 3s
	Timeout time.Duration

	logger *slog.Logger
}

// NewNATExecutor creates a NAT executor.
func NewNATExecutor(servers []string, logger *slog.Logger) *NATExecutor {
	if len(servers) == 0 {
		servers = DefaultSTUNServers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATExecutor{
		Servers: servers,
		Timeout: 3 * time.Second,
		logger:  logger,
	}
}

// Type returns the executor type identifier.
func (e *NATExecutor) Type() string {
	return "nat"
}

// Capabilities returns what this executor needs.
func (e *NATExecutor) Capabilities() Capabilities {
	return Capabilities{}
}

// Execute runs the NAT classification. target is ignored.
func (e *NATExecutor) Execute(ctx context.Context, target ProbeTarget) (*Result, error) {
	start := time.Now()
	res, err := e.Check(ctx)
	if err != nil {
		return nil, err
	}
	ok := res.NATType != types.NATError && res.NATType != types.NATUnknown
	return newResult(e.Type(), "STUN", start, ok, res), nil
}

// Check runs one round of binding requests. Unreachable servers produce an
// Error classification; only socket setup and cancellation are errors.
func (e *NATExecutor) Check(ctx context.Context) (*types.NATResult, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("open udp socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(e.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	pending := make(map[[stun.TransactionIDSize]byte]string, len(e.Servers))
	for _, server := range e.Servers {
		raddr, err := net.ResolveUDPAddr("udp4", server)
		if err != nil {
			e.logger.Debug("stun server did not resolve", "server", server, "error", err)
			continue
		}
		msg, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("build binding request: %w", err)
		}
		if _, err := conn.WriteTo(msg.Raw, raddr); err != nil {
			e.logger.Debug("stun request failed", "server", server, "error", err)
			continue
		}
		pending[msg.TransactionID] = server
	}

	answers := make(map[string]*net.UDPAddr, len(pending))
	buf := make([]byte, 1500)
	for len(answers) < len(pending) {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			break
		}
		if !stun.IsMessage(buf[:n]) {
			continue
		}
		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			continue
		}
		server, ok := pending[res.TransactionID]
		if !ok {
			continue
		}
		if mapped := mappedAddress(res); mapped != nil {
			answers[server] = mapped
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Keep server order stable for classification and details.
	var servers []string
	var mapped []*net.UDPAddr
	for _, s := range e.Servers {
		if a, ok := answers[s]; ok {
			servers = append(servers, s)
			mapped = append(mapped, a)
		}
	}

	localPort := 0
	if la, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		localPort = la.Port
	}
	res := classifyNAT(localAddrs(), localPort, servers, mapped)
	return &res, nil
}

// mappedAddress reads XOR-MAPPED-ADDRESS, falling back to MAPPED-ADDRESS.
func mappedAddress(m *stun.Message) *net.UDPAddr {
	var xor stun.XORMappedAddress
	if err := xor.GetFrom(m); err == nil {
		return &net.UDPAddr{IP: xor.IP, Port: xor.Port}
	}
	var plain stun.MappedAddress
	if err := plain.GetFrom(m); err == nil {
		return &net.UDPAddr{IP: plain.IP, Port: plain.Port}
	}
	return nil
}

// classifyNAT maps STUN answers to a NAT type. servers and mapped are parallel.
func classifyNAT(local map[string]bool, localPort int, servers []string, mapped []*net.UDPAddr) types.NATResult {
	if len(mapped) == 0 {
		return types.NATResult{NATType: types.NATError, PublicIP: "N/A", Details: "No STUN response"}
	}

	first := mapped[0]
	res := types.NATResult{
		PublicIP: first.IP.String(),
		Details:  "Via " + strings.Join(servers, ", "),
	}

	switch {
	case local[first.IP.String()] && first.Port == localPort:
		res.NATType = NATOpenInternet
	case len(mapped) == 1:
		res.NATType = types.NATUnknown
		res.Details = "Only " + servers[0] + " answered"
	default:
		res.NATType = NATEndpointIndependent
		for _, m := range mapped[1:] {
			if !m.IP.Equal(first.IP) || m.Port != first.Port {
				res.NATType = NATSymmetric
				break
			}
		}
	}
	return res
}

// localAddrs returns the unicast addresses of this host's interfaces.
func localAddrs() map[string]bool {
	out := make(map[string]bool)
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return out
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			out[ipnet.IP.String()] = true
		}
	}
	return out
}
