package types

// =============================================================================
// PROBE RESULTS
// =============================================================================

// Probe status strings reported by the gateway.
const (
	PingSuccess = "Success"
	PingTimeout = "Timeout"

	PortOpen   = "Open"
	PortClosed = "Closed"

	MTUPass = "Pass"
	MTUFail = "Fail"

	NATUnknown = "Unknown"
	NATError   = "Error"

	DeviceOnline = "Online"
)

// PingResult is the outcome of a single echo. LatencyMs is nil on timeout.
type PingResult struct {
	Host      string   `json:"host"`
	Status    string   `json:"status"`
	LatencyMs *float64 `json:"time_ms"`
}

// JitterResult summarizes a burst of echoes to one host.
type JitterResult struct {
	Host        string  `json:"host"`
	AvgLatency  float64 `json:"avg_latency"`
	Jitter      float64 `json:"jitter"`
	PacketLoss  float64 `json:"packet_loss"`
	Details     string  `json:"details"`
	SampleCount int     `json:"sample_count"`
}

// TCPResult is the outcome of one TCP connect attempt.
type TCPResult struct {
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	Status    string   `json:"status"`
	LatencyMs *float64 `json:"time_ms"`
}

// PortScanResult lists the open ports found in a scanned range.
type PortScanResult struct {
	Host         string `json:"host"`
	OpenPorts    []int  `json:"open_ports"`
	ScannedCount int    `json:"scanned_count"`
	DurationMs   int64  `json:"time_ms"`
}

// MTUResult is the largest unfragmented packet size found toward a host.
type MTUResult struct {
	Host    string `json:"host"`
	MTU     int    `json:"mtu"`
	Status  string `json:"status"`
	Details string `json:"details"`
}

// NATResult classifies the local NAT as seen from public STUN servers.
type NATResult struct {
	NATType  string `json:"nat_type"`
	PublicIP string `json:"public_ip"`
	Details  string `json:"details"`
}

// LanDevice is one host answering on the local subnet.
type LanDevice struct {
	IP       string `json:"ip"`
	MAC      string `json:"mac"`
	Hostname string `json:"hostname"`
	Status   string `json:"status"`
}

// TraceHop is one path-discovery event.
type TraceHop struct {
	Hop       int      `json:"hop"`
	IP        string   `json:"ip"`
	LatencyMs *float64 `json:"time_ms"`
	Status    string   `json:"status"`
}

// GeoInfo is a geolocation answer for one address.
type GeoInfo struct {
	Status  string `json:"status"`
	City    string `json:"city,omitempty"`
	Region  string `json:"regionName,omitempty"`
	Country string `json:"country,omitempty"`
	ISP     string `json:"isp,omitempty"`
	Query   string `json:"query"`
}

// SystemInfo is a point-in-time reading of the local machine.
type SystemInfo struct {
	OSName      string  `json:"os_name"`
	OSVersion   string  `json:"os_version"`
	HostName    string  `json:"host_name"`
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsed  uint64  `json:"memory_used"`
	MemoryTotal uint64  `json:"memory_total"`
}

// DNSRecord is one answer of a DNS lookup.
type DNSRecord struct {
	Type  string `json:"record_type"`
	Value string `json:"value"`
	TTL   uint32 `json:"ttl"`
}

// ThroughputResult is the outcome of an upload flood test.
type ThroughputResult struct {
	BytesTransferred uint64  `json:"bytes_transferred"`
	DurationMs       int64   `json:"duration_ms"`
	Mbps             float64 `json:"mbps"`
	Status           string  `json:"status"`
}

// Trace hop address sentinels. Neither is a probeable address.
const (
	HopTimeoutIP   = "*"
	HopTimedOutTag = "Request Timed Out"
)

// IsProbeableAddress reports whether ip is a real address rather than a
// timeout or unknown sentinel.
func IsProbeableAddress(ip string) bool {
	return ip != "" && ip != HopTimeoutIP && ip != HopTimedOutTag
}
