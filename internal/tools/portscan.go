package tools

import (
	"context"
	"encoding/json"

	"github.com/Ullaakut/nmap/v3"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

type PortScanInput struct {
	Host string `json:"host"`
}

type PortInfo struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Service  string `json:"service,omitempty"`
	Product  string `json:"product,omitempty"`
}

type PortScanOutput struct {
	Host  string     `json:"host"`
	Ports []PortInfo `json:"ports"`
}

type portScan struct {
	cfg    config.NmapConfig
	logger *logger.Logger
}

func NewPortScan(cfg config.NmapConfig, log *logger.Logger) *portScan {
	return &portScan{cfg: cfg, logger: log.WithComponent(NamePortScan)}
}

func (t *portScan) Name() string { return NamePortScan }

func (t *portScan) Run(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var input PortScanInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, types.NewValidationError("undecodable portscan input: " + err.Error())
	}
	if input.Host == "" {
		return nil, types.NewValidationError("portscan requires a host")
	}

	opts := []nmap.Option{
		nmap.WithTargets(input.Host),
		nmap.WithConnectScan(),
		nmap.WithSkipHostDiscovery(),
		nmap.WithOpenOnly(),
		nmap.WithServiceInfo(),
		nmap.WithTimingTemplate(timingTemplate(t.cfg.Timing)),
	}
	if t.cfg.Ports != "" {
		opts = append(opts, nmap.WithPorts(t.cfg.Ports))
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, types.NewToolError(NamePortScan, err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, types.NewToolError(NamePortScan, err)
	}
	if warnings != nil && len(*warnings) > 0 {
		t.logger.Warnw("Port scan produced warnings",
			"host", input.Host, "warnings", *warnings)
	}

	output := PortScanOutput{Host: input.Host}
	for _, host := range result.Hosts {
		for _, port := range host.Ports {
			if port.State.State != "open" {
				continue
			}
			output.Ports = append(output.Ports, PortInfo{
				Port:     int(port.ID),
				Protocol: port.Protocol,
				Service:  port.Service.Name,
				Product:  port.Service.Product,
			})
		}
	}

	t.logger.Infow("Port scan finished",
		"host", input.Host, "open_ports", len(output.Ports))
	return output, nil
}
