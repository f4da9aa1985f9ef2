package profiles

import "github.com/pilot-net/netcheck/pkg/types"

// builtin is the shipped catalog, in display order.
func builtin() []types.VendorProfile {
	return []types.VendorProfile{
		{
			ID:          "generic-voip",
			Name:        "General VoIP",
			Description: "Standard checklist for SIP-based Voice over IP services.",
			Icon:        "Phone",
			ConnectivityTargets: []types.ConnectivityTarget{
				{Address: "8.8.8.8", Description: "Public DNS (Connectivity)", Protocol: types.ProtocolICMP},
				{Address: "1.1.1.1", Description: "Secondary DNS", Protocol: types.ProtocolICMP},
			},
			ALGTestEnabled: true,
			MTUCheck:       true,
			MediaQualityThresholds: &types.MediaQualityThresholds{
				JitterMs:          types.Float64(30),
				PacketLossPercent: types.Float64(1),
			},
		},
		{
			ID:          "zoom",
			Name:        "Zoom",
			Description: "Zoom Meetings, Webinars, and Zoom Phone (Targeting US Media Blocks).",
			Icon:        "Video",
			ConnectivityTargets: []types.ConnectivityTarget{
				{Address: "zoom.us", Ports: []int{8801, 443}, Protocol: types.ProtocolTCP, Description: "Signaling / Web"},
				{Address: "162.255.37.11", Ports: []int{3478, 8801}, Protocol: types.ProtocolUDP, Description: "Zoom Media (US West Block)"},
				{Address: "64.211.144.11", Ports: []int{3478}, Protocol: types.ProtocolUDP, Description: "Zoom Media (US East Block)"},
			},
			MTUCheck: true,
			MediaQualityThresholds: &types.MediaQualityThresholds{
				JitterMs:          types.Float64(30),
				PacketLossPercent: types.Float64(2),
			},
		},
		{
			ID:          "ringcentral",
			Name:        "RingCentral",
			Description: "Unified Communications (Supernet Connectivity).",
			Icon:        "PhoneCall",
			ConnectivityTargets: []types.ConnectivityTarget{
				{Address: "sip.ringcentral.com", Ports: []int{5060, 443}, Protocol: types.ProtocolTCP, Description: "SIP Signaling"},
				{Address: "66.81.240.10", Description: "Media Supernet (SJC)", Protocol: types.ProtocolUDP},
				{Address: "80.81.128.10", Description: "Media Supernet (IAD)", Protocol: types.ProtocolUDP},
			},
			ALGTestEnabled: true,
			MTUCheck:       true,
		},
		{
			ID:          "8x8",
			Name:        "8x8",
			Description: "Voice, Video, and Contact Center connectivity.",
			Icon:        "PhoneForwarded",
			ConnectivityTargets: []types.ConnectivityTarget{
				{Address: "192.84.16.1", Ports: []int{443, 5060}, Protocol: types.ProtocolTCP, Description: "Signaling / US Block"},
				{Address: "8.28.0.1", Description: "Global Media Relay", Protocol: types.ProtocolUDP},
			},
			ALGTestEnabled: true,
			MTUCheck:       true,
		},
		{
			ID:          "dialpad",
			Name:        "Dialpad",
			Description: "AI-Powered Customer Intelligence Platform.",
			Icon:        "Mic",
			ConnectivityTargets: []types.ConnectivityTarget{
				{Address: "dialpad.com", Ports: []int{443}, Protocol: types.ProtocolTCP, Description: "Web / Signaling"},
				{Address: "turn.ubervoip.net", Ports: []int{3478, 443}, Protocol: types.ProtocolUDP, Description: "TURN / Media Relay"},
				{Address: "66.23.129.11", Description: "Voice Network Block", Protocol: types.ProtocolUDP},
			},
			ALGTestEnabled: true,
			MTUCheck:       true,
		},
		{
			ID:          "discord",
			Name:        "Discord",
			Description: "Voice, Video, and Streaming diagnostics (High UDP Range).",
			Icon:        "Gamepad2",
			ConnectivityTargets: []types.ConnectivityTarget{
				{Address: "gateway.discord.gg", Ports: []int{443}, Protocol: types.ProtocolTCP, Description: "Gateway / Text Chat"},
				{Address: "162.159.128.233", Ports: []int{50000, 50005}, Protocol: types.ProtocolUDP, Description: "Voice Region (Sample)"},
			},
			MTUCheck: true,
			MediaQualityThresholds: &types.MediaQualityThresholds{
				JitterMs:          types.Float64(20),
				PacketLossPercent: types.Float64(0.5),
			},
		},
		{
			ID:          "twitch",
			Name:        "Twitch Streamer",
			Description: "Upload stability and ingest server reachability for streamers.",
			Icon:        "Cast",
			MTUCheck:    true,
			UploadStressTest: &types.UploadStressTest{
				Target:         "rtmp://live-jfk.twitch.tv/app",
				DurationSec:    30,
				MinBitrateKbps: 6000,
			},
			ConnectivityTargets: []types.ConnectivityTarget{
				{Address: "live-jfk.twitch.tv", Ports: []int{1935, 443}, Protocol: types.ProtocolTCP, Description: "Ingest Server (US-East)"},
			},
		},
		{
			ID:          "citrix",
			Name:        "Citrix / VDI",
			Description: "Remote work connectivity focusing on MTU and reliable transport.",
			Icon:        "Monitor",
			ConnectivityTargets: []types.ConnectivityTarget{
				{Address: "citrix.com", Ports: []int{443, 1494, 2598}, Protocol: types.ProtocolTCP, Description: "ICA/HDX Control"},
			},
			MTUCheck: true,
		},
		{
			ID:          "gamer",
			Name:        "Pro Gamer",
			Description: "Latency stability, packet loss burst analysis, and LAN isolation.",
			Icon:        "Gamepad2",
			ConnectivityTargets: []types.ConnectivityTarget{
				{Address: "1.1.1.1", Description: "Public DNS (General Health)", Protocol: types.ProtocolICMP},
				{Address: "162.249.72.1", Description: "Riot Games (US)", Protocol: types.ProtocolICMP},
				{Address: "137.221.106.102", Description: "Blizzard (US Central)", Protocol: types.ProtocolICMP},
			},
			TestMode: types.TestModeContinuous,

			// Gamers care about NAT strictness for peer-to-peer lobbies.
			ALGTestEnabled:    true,
			LANIsolationCheck: true,
			MTUCheck:          true,
		},
	}
}
