// Package types defines the domain types shared by the diagnostic agent packages.
//
// # Design Principles
//
// 1. Simplicity: Types represent the domain model directly
// 2. Serialization: All types are JSON-serializable for storage and the observer API
// 3. Immutability: Profiles and saved reports are never mutated once built; use Clone
// 4. Validation: Types include Validate() methods for business rule enforcement
package types

import (
	"fmt"
	"strings"
)

// =============================================================================
// VENDOR PROFILE
// =============================================================================

// VendorProfile is a named bundle of connectivity targets, quality thresholds
// and enabled checks describing one communication service.
type VendorProfile struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Icon        string `json:"icon,omitempty" yaml:"icon,omitempty"`

	ConnectivityTargets []ConnectivityTarget `json:"connectivity_targets" yaml:"connectivity_targets"`

	MediaQualityThresholds *MediaQualityThresholds `json:"media_quality_thresholds,omitempty" yaml:"media_quality_thresholds,omitempty"`

	ALGTestEnabled    bool `json:"alg_test_enabled,omitempty" yaml:"alg_test_enabled,omitempty"`
	LANIsolationCheck bool `json:"lan_isolation_check,omitempty" yaml:"lan_isolation_check,omitempty"`
	MTUCheck          bool `json:"mtu_check,omitempty" yaml:"mtu_check,omitempty"`

	UploadStressTest *UploadStressTest `json:"upload_stress_test,omitempty" yaml:"upload_stress_test,omitempty"`
	TestMode         TestMode          `json:"test_mode,omitempty" yaml:"test_mode,omitempty"`
}

// TestMode describes how a profile is meant to be exercised.
type TestMode string

const (
	TestModeStandard   TestMode = "standard"
	TestModeContinuous TestMode = "continuous_monitoring"
)

// Protocol is the transport expectation of a connectivity target.
type Protocol string

const (
	ProtocolICMP Protocol = "icmp"
	ProtocolUDP  Protocol = "udp"
	ProtocolTCP  Protocol = "tcp"
)

// ConnectivityTarget is one address the profile expects to reach.
// For tcp targets every port is probed independently.
type ConnectivityTarget struct {
	Address     string   `json:"ip" yaml:"ip"`
	Protocol    Protocol `json:"proto,omitempty" yaml:"proto,omitempty"`
	Ports       []int    `json:"ports,omitempty" yaml:"ports,omitempty"`
	Description string   `json:"desc,omitempty" yaml:"desc,omitempty"`
}

// UsesJitterProbe reports whether the target is swept with a jitter probe.
// An unspecified protocol is treated like icmp.
func (t ConnectivityTarget) UsesJitterProbe() bool {
	switch t.Protocol {
	case "", ProtocolICMP, ProtocolUDP:
		return true
	}
	return false
}

// MediaQualityThresholds are the quality limits a profile declares.
// Nil fields mean "not declared".
type MediaQualityThresholds struct {
	JitterMs          *float64 `json:"jitter_ms,omitempty" yaml:"jitter_ms,omitempty"`
	PacketLossPercent *float64 `json:"packet_loss_percent,omitempty" yaml:"packet_loss_percent,omitempty"`
}

// UploadStressTest describes an upload stability check. It is data only.
type UploadStressTest struct {
	Target         string `json:"target" yaml:"target"`
	DurationSec    int    `json:"duration_sec" yaml:"duration_sec"`
	MinBitrateKbps int    `json:"min_bitrate_kbps" yaml:"min_bitrate_kbps"`
}

// Validate checks that the profile is usable by the diagnostic controller.
func (p *VendorProfile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile %s: name is required", p.ID)
	}
	for i, t := range p.ConnectivityTargets {
		if strings.TrimSpace(t.Address) == "" {
			return fmt.Errorf("profile %s: target %d: address is required", p.ID, i)
		}
		switch t.Protocol {
		case "", ProtocolICMP, ProtocolUDP, ProtocolTCP:
		default:
			return fmt.Errorf("profile %s: target %s: unknown protocol %q", p.ID, t.Address, t.Protocol)
		}
		for _, port := range t.Ports {
			if port < 1 || port > 65535 {
				return fmt.Errorf("profile %s: target %s: invalid port %d", p.ID, t.Address, port)
			}
		}
	}
	if p.TestMode != "" && p.TestMode != TestModeStandard && p.TestMode != TestModeContinuous {
		return fmt.Errorf("profile %s: unknown test mode %q", p.ID, p.TestMode)
	}
	return nil
}

// Clone returns a deep copy so callers can never mutate a registry entry.
func (p VendorProfile) Clone() VendorProfile {
	out := p
	if p.ConnectivityTargets != nil {
		out.ConnectivityTargets = make([]ConnectivityTarget, len(p.ConnectivityTargets))
		for i, t := range p.ConnectivityTargets {
			t.Ports = append([]int(nil), t.Ports...)
			out.ConnectivityTargets[i] = t
		}
	}
	if p.MediaQualityThresholds != nil {
		th := MediaQualityThresholds{}
		if v := p.MediaQualityThresholds.JitterMs; v != nil {
			j := *v
			th.JitterMs = &j
		}
		if v := p.MediaQualityThresholds.PacketLossPercent; v != nil {
			l := *v
			th.PacketLossPercent = &l
		}
		out.MediaQualityThresholds = &th
	}
	if p.UploadStressTest != nil {
		u := *p.UploadStressTest
		out.UploadStressTest = &u
	}
	return out
}

// Float64 returns a pointer to v. Handy for optional threshold literals.
func Float64(v float64) *float64 {
	return &v
}
