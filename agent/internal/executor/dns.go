package executor

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/pilot-net/netcheck/pkg/types"
)

// dnsTypes are the record types the lookup tool understands.
var dnsTypes = map[string]uint16{
	"A":     dns.TypeA,
	"AAAA":  dns.TypeAAAA,
	"CNAME": dns.TypeCNAME,
	"MX":    dns.TypeMX,
	"TXT":   dns.TypeTXT,
	"NS":    dns.TypeNS,
}

// DNSExecutor queries a recursive resolver directly.
type DNSExecutor struct {
	// Server is host:port of the resolver. Default: first nameserver in /etc/resolv.conf
	Server  string
	Timeout time.Duration
}

// NewDNSExecutor creates a DNS executor.
func NewDNSExecutor(server string) *DNSExecutor {
	if server == "" {
		server = systemResolver()
	}
	return &DNSExecutor{Server: server, Timeout: 3 * time.Second}
}

// systemResolver returns the first configured nameserver, or a public one.
func systemResolver() string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return "1.1.1.1:53"
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}

// DNSParams are generic-execution params for the dns executor.
type DNSParams struct {
	RecordType string `json:"record_type,omitempty"`
}

// Type returns the executor type identifier.
func (e *DNSExecutor) Type() string {
	return "dns"
}

// Capabilities returns what this executor needs.
func (e *DNSExecutor) Capabilities() Capabilities {
	return Capabilities{}
}

// Execute looks up target.Host.
func (e *DNSExecutor) Execute(ctx context.Context, target ProbeTarget) (*Result, error) {
	params, err := parseParams(target.Params, DNSParams{RecordType: "A"})
	if err != nil {
		return nil, err
	}
	start := time.Now()
	records, err := e.Lookup(ctx, target.Host, params.RecordType)
	if err != nil {
		return nil, err
	}
	return newResult(e.Type(), target.Host, start, len(records) > 0, records), nil
}

// Lookup resolves name for one record type. NXDOMAIN yields no records and no error.
func (e *DNSExecutor) Lookup(ctx context.Context, name, recordType string) ([]types.DNSRecord, error) {
	rtype := strings.ToUpper(recordType)
	if rtype == "" {
		rtype = "A"
	}
	qtype, ok := dnsTypes[rtype]
	if !ok {
		return nil, fmt.Errorf("unsupported record type: %s", recordType)
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	c := &dns.Client{Timeout: e.Timeout}
	in, _, err := c.ExchangeContext(ctx, m, e.Server)
	if err != nil {
		return nil, fmt.Errorf("dns query %s %s: %w", rtype, name, err)
	}
	if in.Rcode != dns.RcodeSuccess && in.Rcode != dns.RcodeNameError {
		return nil, fmt.Errorf("dns query %s %s: %s", rtype, name, dns.RcodeToString[in.Rcode])
	}

	return answerRecords(in.Answer), nil
}

// answerRecords flattens the answer section into records.
func answerRecords(answer []dns.RR) []types.DNSRecord {
	records := make([]types.DNSRecord, 0, len(answer))
	for _, rr := range answer {
		rec := types.DNSRecord{TTL: rr.Header().Ttl}
		switch v := rr.(type) {
		case *dns.A:
			rec.Type, rec.Value = "A", v.A.String()
		case *dns.AAAA:
			rec.Type, rec.Value = "AAAA", v.AAAA.String()
		case *dns.CNAME:
			rec.Type, rec.Value = "CNAME", strings.TrimSuffix(v.Target, ".")
		case *dns.MX:
			rec.Type, rec.Value = "MX", fmt.Sprintf("%d %s", v.Preference, strings.TrimSuffix(v.Mx, "."))
		case *dns.TXT:
			rec.Type, rec.Value = "TXT", strings.Join(v.Txt, " ")
		case *dns.NS:
			rec.Type, rec.Value = "NS", strings.TrimSuffix(v.Ns, ".")
		default:
			continue
		}
		records = append(records, rec)
	}
	return records
}
