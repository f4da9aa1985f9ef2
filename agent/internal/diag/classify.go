package diag

import (
	"fmt"
	"strconv"

	"github.com/pilot-net/netcheck/pkg/types"
)

// Thresholds are the media quality limits a jitter probe is judged against.
// A target passes when both readings are strictly below the limit.
type Thresholds struct {
	JitterMs    float64 `yaml:"jitter_ms" json:"jitter_ms"`
	LossPercent float64 `yaml:"loss_percent" json:"loss_percent"`
}

// DefaultThresholds are applied when a profile declares none.
func DefaultThresholds() Thresholds {
	return Thresholds{JitterMs: 50, LossPercent: 5}
}

// For returns the thresholds to use for p. Declared profile values win
// field by field; anything undeclared falls back to t.
func (t Thresholds) For(p types.VendorProfile) Thresholds {
	out := t
	if q := p.MediaQualityThresholds; q != nil {
		if q.JitterMs != nil {
			out.JitterMs = *q.JitterMs
		}
		if q.PacketLossPercent != nil {
			out.LossPercent = *q.PacketLossPercent
		}
	}
	return out
}

// isolationDeviceLimit is the number of hosts expected on an isolated LAN:
// this machine and its gateway.
const isolationDeviceLimit = 2

// classifyNAT fails an unknown or errored NAT type.
func classifyNAT(res *types.NATResult) types.Status {
	switch res.NATType {
	case "", types.NATUnknown, types.NATError:
		return types.StatusFail
	}
	return types.StatusPass
}

func classifyJitter(res *types.JitterResult, th Thresholds) types.Status {
	if res.PacketLoss < th.LossPercent && res.Jitter < th.JitterMs {
		return types.StatusPass
	}
	return types.StatusFail
}

func jitterDetails(res *types.JitterResult) string {
	return fmt.Sprintf("Avg: %sms, Jitter: %sms, Loss: %s%%",
		num(res.AvgLatency), num(res.Jitter), num(res.PacketLoss))
}

func classifyPort(res *types.TCPResult) (types.Status, string) {
	if res.Status != types.PortOpen {
		return types.StatusFail, types.PortClosed
	}
	if res.LatencyMs == nil {
		return types.StatusPass, types.PortOpen
	}
	return types.StatusPass, fmt.Sprintf("Open (%sms)", num(*res.LatencyMs))
}

func classifyIsolation(devices int) (types.Status, string) {
	if devices > isolationDeviceLimit {
		return types.StatusWarn, fmt.Sprintf("Isolation Fail: %d Active Devices Found", devices)
	}
	return types.StatusPass, "Isolation Verified (Minimal Traffic)"
}

// classifyMTU trusts the probe's own verdict. Anything but Pass is a warning.
func classifyMTU(res *types.MTUResult) types.Status {
	if res.Status == types.MTUPass {
		return types.StatusPass
	}
	return types.StatusWarn
}

// num renders v in its shortest form, so 12 prints as "12" and 12.5 as "12.5".
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
