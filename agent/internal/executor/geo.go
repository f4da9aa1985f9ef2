// Package executor - IP geolocation.
//
// Two providers are supported:
//
//   - ipapi: the ip-api.com JSON endpoint. The free tier allows 45 requests
//     per minute, so requests go through a token-bucket limiter.
//   - mmdb: a local MaxMind-format City database, no network needed.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oschwald/geoip2-golang"
	"golang.org/x/time/rate"

	"github.com/pilot-net/netcheck/pkg/types"
)

// Geo providers.
const (
	GeoProviderIPAPI = "ipapi"
	GeoProviderMMDB  = "mmdb"
	GeoProviderNone  = "none"
)

// GeoConfig holds configuration for the geolocation executor.
type GeoConfig struct {
	Provider  string        // ipapi | mmdb | none
	BaseURL   string        // Default: "http://ip-api.com/json/"
	RateLimit int           // Requests per minute. Default: 45
	Timeout   time.Duration // HTTP timeout. Default: 5s
	MMDBPath  string        // Required for the mmdb provider
}

// GeoExecutor resolves an address to a location.
type GeoExecutor struct {
	provider    string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	db          *geoip2.Reader
	logger      *slog.Logger
}

// NewGeoExecutor creates a geolocation executor for the configured provider.
func NewGeoExecutor(cfg GeoConfig, logger *slog.Logger) (*GeoExecutor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &GeoExecutor{
		provider: cfg.Provider,
		logger:   logger.With("component", "geo"),
	}
	if e.provider == "" {
		e.provider = GeoProviderIPAPI
	}

	switch e.provider {
	case GeoProviderIPAPI:
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		rateLimit := cfg.RateLimit
		if rateLimit == 0 {
			rateLimit = 45
		}
		e.baseURL = cfg.BaseURL
		if e.baseURL == "" {
			e.baseURL = "http://ip-api.com/json/"
		}
		e.httpClient = &http.Client{Timeout: timeout}
		e.rateLimiter = rate.NewLimiter(rate.Limit(float64(rateLimit)/60.0), 1)
	case GeoProviderMMDB:
		db, err := geoip2.Open(cfg.MMDBPath)
		if err != nil {
			return nil, fmt.Errorf("open geoip database: %w", err)
		}
		e.db = db
	case GeoProviderNone:
	default:
		return nil, fmt.Errorf("unknown geo provider: %s", cfg.Provider)
	}
	return e, nil
}

// Close releases the MMDB reader, if any.
func (e *GeoExecutor) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// Type returns the executor type identifier.
func (e *GeoExecutor) Type() string {
	return "geo"
}

// Capabilities returns what this executor needs.
func (e *GeoExecutor) Capabilities() Capabilities {
	return Capabilities{}
}

// Execute looks up target.Host.
func (e *GeoExecutor) Execute(ctx context.Context, target ProbeTarget) (*Result, error) {
	start := time.Now()
	res, err := e.Lookup(ctx, target.Host)
	if err != nil {
		return nil, err
	}
	return newResult(e.Type(), target.Host, start, res.Status == "success", res), nil
}

// Lookup returns the location of ip. A provider-side refusal (private range,
// quota) is reported in Status; transport failures are errors.
func (e *GeoExecutor) Lookup(ctx context.Context, ip string) (*types.GeoInfo, error) {
	switch e.provider {
	case GeoProviderMMDB:
		return e.lookupMMDB(ip)
	case GeoProviderNone:
		return &types.GeoInfo{Status: "fail", Query: ip}, nil
	default:
		return e.lookupIPAPI(ctx, ip)
	}
}

// ipAPIResponse is the ip-api.com JSON shape for the requested fields.
type ipAPIResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Country    string `json:"country"`
	RegionName string `json:"regionName"`
	City       string `json:"city"`
	ISP        string `json:"isp"`
	Query      string `json:"query"`
}

func (e *GeoExecutor) lookupIPAPI(ctx context.Context, ip string) (*types.GeoInfo, error) {
	// Rate limit
	if err := e.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := strings.TrimSuffix(e.baseURL, "/") + "/" + url.PathEscape(ip) +
		"?fields=status,message,country,regionName,city,isp,query"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo API error: status %d", resp.StatusCode)
	}

	var r ipAPIResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if r.Status != "success" {
		e.logger.Debug("geo lookup refused", "ip", ip, "message", r.Message)
	}
	if r.Query == "" {
		r.Query = ip
	}

	return &types.GeoInfo{
		Status:  r.Status,
		City:    r.City,
		Region:  r.RegionName,
		Country: r.Country,
		ISP:     r.ISP,
		Query:   r.Query,
	}, nil
}

func (e *GeoExecutor) lookupMMDB(ip string) (*types.GeoInfo, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, errors.New("invalid IP address: " + ip)
	}
	if parsed.IsPrivate() || parsed.IsLoopback() {
		return &types.GeoInfo{Status: "fail", Query: ip}, nil
	}

	record, err := e.db.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("geoip lookup: %w", err)
	}

	info := &types.GeoInfo{
		Status:  "success",
		City:    record.City.Names["en"],
		Country: record.Country.Names["en"],
		Query:   ip,
	}
	if len(record.Subdivisions) > 0 {
		info.Region = record.Subdivisions[0].Names["en"]
	}
	if info.City == "" && info.Country == "" {
		info.Status = "fail"
	}
	return info, nil
}
