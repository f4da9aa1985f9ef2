// Package config handles netcheck configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (NETCHECK_*)
// 3. Config file (YAML)
// 4. Defaults
//
// # Example Config File
//
//	agent:
//	  name: branch-office-7
//	  tags:
//	    site: denver
//
//	probing:
//	  privileged: true
//	  jitter_samples: 20
//	  stun_servers: [stun.l.google.com:19302, stun1.l.google.com:19302]
//
//	storage:
//	  backend: sqlite
//	  sqlite_path: /var/lib/netcheck/netcheck.db
//
//	diagnostics:
//	  default_jitter_ms: 50
//	  default_loss_percent: 5
//
//	server:
//	  listen: 127.0.0.1:8088
//
//	profiles_file: /etc/netcheck/profiles.yaml
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete netcheck configuration.
type Config struct {
	Agent        AgentConfig       `yaml:"agent"`
	Probing      ProbingConfig     `yaml:"probing"`
	Geo          GeoConfig         `yaml:"geo"`
	Storage      StorageConfig     `yaml:"storage"`
	Diagnostics  DiagnosticsConfig `yaml:"diagnostics"`
	Trace        TraceConfig       `yaml:"trace"`
	Server       ServerConfig      `yaml:"server"`
	System       SystemConfig      `yaml:"system"`
	Log          LogConfig         `yaml:"log"`
	ProfilesFile string            `yaml:"profiles_file,omitempty"` // Extra vendor profiles
}

// AgentConfig identifies this machine in logs and reports.
type AgentConfig struct {
	Name string            `yaml:"name"`
	Tags map[string]string `yaml:"tags"`
}

// ProbingConfig defines probe behavior.
type ProbingConfig struct {
	// ICMP
	Privileged    bool          `yaml:"privileged"` // Raw sockets instead of unprivileged UDP ping
	PingTimeout   time.Duration `yaml:"ping_timeout"`
	BurstInterval time.Duration `yaml:"burst_interval"`
	JitterSamples int           `yaml:"jitter_samples"`

	TCPTimeout       time.Duration `yaml:"tcp_timeout"`
	DiscoveryWorkers int           `yaml:"discovery_workers"`
	PortScanTimeout  time.Duration `yaml:"port_scan_timeout"`
	PortScanWorkers  int           `yaml:"port_scan_workers"`
	STUNServers      []string      `yaml:"stun_servers,omitempty"`
	DNSServer        string        `yaml:"dns_server,omitempty"` // Default: first resolv.conf server

	// External binaries
	PingPath       string `yaml:"ping_path,omitempty"`
	TraceroutePath string `yaml:"traceroute_path,omitempty"`
}

// GeoConfig selects the geolocation provider.
type GeoConfig struct {
	Provider  string        `yaml:"provider"` // ipapi, mmdb, none
	BaseURL   string        `yaml:"base_url,omitempty"`
	RateLimit int           `yaml:"rate_limit"` // Requests per minute
	Timeout   time.Duration `yaml:"timeout"`
	MMDBPath  string        `yaml:"mmdb_path,omitempty"`
}

// StorageConfig selects where saved reports live.
type StorageConfig struct {
	Backend     string `yaml:"backend"` // memory, sqlite, redis, postgres
	SQLitePath  string `yaml:"sqlite_path"`
	RedisURL    string `yaml:"redis_url,omitempty"`
	PostgresURL string `yaml:"postgres_url,omitempty"`
}

// DiagnosticsConfig tunes the diagnostic controller.
type DiagnosticsConfig struct {
	DefaultProfile     string        `yaml:"default_profile,omitempty"`
	DefaultJitterMs    float64       `yaml:"default_jitter_ms"`
	DefaultLossPercent float64       `yaml:"default_loss_percent"`
	MTUFallbackHost    string        `yaml:"mtu_fallback_host"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
	AutoSave           bool          `yaml:"auto_save"` // Save a report after every CLI run
}

// TraceConfig tunes path tracing and hop statistics.
type TraceConfig struct {
	MaxHops         int           `yaml:"max_hops"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	HistorySize     int           `yaml:"history_size"`
	GeoTimeout      time.Duration `yaml:"geo_timeout"`
}

// ServerConfig defines the observer HTTP server.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	TokenHash    string        `yaml:"token_hash,omitempty"` // bcrypt hash of the bearer token
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SystemConfig defines local resource polling.
type SystemConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	HistorySize  int           `yaml:"history_size"`
}

// LogConfig defines logging output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		Agent: AgentConfig{
			Name: hostname,
			Tags: make(map[string]string),
		},
		Probing: ProbingConfig{
			PingTimeout:      time.Second,
			BurstInterval:    200 * time.Millisecond,
			JitterSamples:    20,
			TCPTimeout:       2 * time.Second,
			DiscoveryWorkers: 50,
			PortScanTimeout:  500 * time.Millisecond,
			PortScanWorkers:  100,
		},
		Geo: GeoConfig{
			Provider:  "ipapi",
			RateLimit: 45,
			Timeout:   5 * time.Second,
		},
		Storage: StorageConfig{
			Backend:    "sqlite",
			SQLitePath: "netcheck.db",
		},
		Diagnostics: DiagnosticsConfig{
			DefaultJitterMs:    50,
			DefaultLossPercent: 5,
			MTUFallbackHost:    "8.8.8.8",
			ProbeTimeout:       2 * time.Minute,
		},
		Trace: TraceConfig{
			MaxHops:         15,
			RefreshInterval: time.Second,
			HistorySize:     20,
			GeoTimeout:      10 * time.Second,
		},
		Server: ServerConfig{
			Listen:       "127.0.0.1:8088",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		System: SystemConfig{
			PollInterval: 5 * time.Second,
			HistorySize:  60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Load reads path (defaults when empty) and applies environment overrides.
// Callers apply flag overrides and then Validate.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "sqlite":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis backend")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, sqlite, redis, postgres", c.Storage.Backend)
	}

	switch c.Geo.Provider {
	case "ipapi", "none":
	case "mmdb":
		if c.Geo.MMDBPath == "" {
			return fmt.Errorf("geo.mmdb_path is required for the mmdb provider")
		}
	default:
		return fmt.Errorf("geo.provider %q is not one of ipapi, mmdb, none", c.Geo.Provider)
	}

	if c.Probing.JitterSamples < 1 {
		return fmt.Errorf("probing.jitter_samples must be at least 1")
	}
	if c.Diagnostics.DefaultJitterMs <= 0 || c.Diagnostics.DefaultLossPercent <= 0 {
		return fmt.Errorf("diagnostics default thresholds must be positive")
	}
	if c.Trace.MaxHops < 1 || c.Trace.MaxHops > 64 {
		return fmt.Errorf("trace.max_hops must be between 1 and 64")
	}
	if c.Trace.RefreshInterval <= 0 {
		return fmt.Errorf("trace.refresh_interval must be positive")
	}
	if c.System.PollInterval <= 0 {
		return fmt.Errorf("system.poll_interval must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not one of text, json", c.Log.Format)
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use the NETCHECK_ prefix:
// - NETCHECK_AGENT_NAME
// - NETCHECK_AGENT_TAGS (JSON object, e.g., '{"site":"denver"}')
// - NETCHECK_PRIVILEGED (true/false)
// - NETCHECK_STORAGE_BACKEND, NETCHECK_SQLITE_PATH, NETCHECK_REDIS_URL, NETCHECK_POSTGRES_URL
// - NETCHECK_GEO_PROVIDER, NETCHECK_GEO_MMDB_PATH
// - NETCHECK_SERVER_LISTEN, NETCHECK_SERVER_TOKEN_HASH
// - NETCHECK_LOG_LEVEL, NETCHECK_LOG_FORMAT
// - NETCHECK_PROFILES_FILE
func (c *Config) ApplyEnvOverrides() {
	strs := map[string]*string{
		"NETCHECK_AGENT_NAME":         &c.Agent.Name,
		"NETCHECK_STORAGE_BACKEND":    &c.Storage.Backend,
		"NETCHECK_SQLITE_PATH":        &c.Storage.SQLitePath,
		"NETCHECK_REDIS_URL":          &c.Storage.RedisURL,
		"NETCHECK_POSTGRES_URL":       &c.Storage.PostgresURL,
		"NETCHECK_GEO_PROVIDER":       &c.Geo.Provider,
		"NETCHECK_GEO_MMDB_PATH":      &c.Geo.MMDBPath,
		"NETCHECK_SERVER_LISTEN":      &c.Server.Listen,
		"NETCHECK_SERVER_TOKEN_HASH":  &c.Server.TokenHash,
		"NETCHECK_LOG_LEVEL":          &c.Log.Level,
		"NETCHECK_LOG_FORMAT":         &c.Log.Format,
		"NETCHECK_PROFILES_FILE":      &c.ProfilesFile,
		"NETCHECK_MTU_FALLBACK_HOST":  &c.Diagnostics.MTUFallbackHost,
		"NETCHECK_DEFAULT_PROFILE":    &c.Diagnostics.DefaultProfile,
		"NETCHECK_PROBING_DNS_SERVER": &c.Probing.DNSServer,
	}
	for env, dst := range strs {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("NETCHECK_PRIVILEGED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Probing.Privileged = b
		}
	}
	if v := os.Getenv("NETCHECK_AGENT_TAGS"); v != "" {
		var tags map[string]string
		if err := json.Unmarshal([]byte(v), &tags); err == nil {
			if c.Agent.Tags == nil {
				c.Agent.Tags = make(map[string]string)
			}
			for k, val := range tags {
				c.Agent.Tags[k] = val
			}
		}
	}
}
