package tools

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/Ullaakut/nmap/v3"
	"github.com/miekg/dns"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

// NetDiscoverInput lists scan seeds: raw IPs/CIDRs plus hostnames that are
// expanded through DNS before the ping sweep.
type NetDiscoverInput struct {
	Targets   []string `json:"targets,omitempty"`
	Hostnames []string `json:"hostnames,omitempty"`
}

type NetDiscoverOutput struct {
	Hosts []string `json:"hosts"`
}

type netDiscover struct {
	cfg       config.NmapConfig
	logger    *logger.Logger
	resolvers []string
	dns       *dns.Client
}

func NewNetDiscover(cfg config.NmapConfig, log *logger.Logger) *netDiscover {
	return &netDiscover{
		cfg:    cfg,
		logger: log.WithComponent(NameNetDiscover),
		resolvers: []string{
			"8.8.8.8:53",
			"1.1.1.1:53",
			"9.9.9.9:53",
		},
		dns: &dns.Client{Timeout: 2 * time.Second},
	}
}

func (t *netDiscover) Name() string { return NameNetDiscover }

func (t *netDiscover) Run(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var input NetDiscoverInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, types.NewValidationError("undecodable netdiscover input: " + err.Error())
	}
	if len(input.Targets) == 0 && len(input.Hostnames) == 0 {
		return nil, types.NewValidationError("netdiscover requires targets or hostnames")
	}

	targets := append([]string(nil), input.Targets...)
	for _, host := range input.Hostnames {
		ips := t.resolve(host, 0)
		if len(ips) == 0 {
			t.logger.Warnw("Hostname did not resolve", "host", host)
			continue
		}
		targets = append(targets, ips...)
	}
	if len(targets) == 0 {
		return NetDiscoverOutput{}, nil
	}

	scanner, err := nmap.NewScanner(ctx,
		nmap.WithTargets(targets...),
		nmap.WithPingScan(),
	)
	if err != nil {
		return nil, types.NewToolError(NameNetDiscover, err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, types.NewToolError(NameNetDiscover, err)
	}
	if warnings != nil && len(*warnings) > 0 {
		t.logger.Warnw("Ping sweep produced warnings", "warnings", *warnings)
	}

	var hosts []string
	for _, host := range result.Hosts {
		if len(host.Addresses) == 0 {
			continue
		}
		hosts = append(hosts, host.Addresses[0].Addr)
	}

	t.logger.Infow("Ping sweep finished",
		"seeds", len(targets), "alive", len(hosts))
	return NetDiscoverOutput{Hosts: hosts}, nil
}

// resolve follows A records and CNAME chains (bounded depth) across the
// configured resolvers, returning the first non-empty answer set.
func (t *netDiscover) resolve(host string, depth int) []string {
	if depth > 5 {
		return nil
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)

	for _, resolver := range t.resolvers {
		reply, _, err := t.dns.Exchange(msg, resolver)
		if err != nil {
			continue
		}

		var ips []string
		var cname string
		for _, ans := range reply.Answer {
			switch v := ans.(type) {
			case *dns.A:
				ips = append(ips, v.A.String())
			case *dns.CNAME:
				cname = v.Target
			}
		}
		if len(ips) > 0 {
			return ips
		}
		if cname != "" {
			return t.resolve(cname, depth+1)
		}
	}
	return nil
}

// timingTemplate parses the configured nmap timing value, defaulting to T4.
func timingTemplate(raw string) nmap.Timing {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 5 {
		return nmap.TimingAggressive
	}
	return nmap.Timing(n)
}
