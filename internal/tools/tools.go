// Package tools holds the child-process implementations invoked through the
// tool runner: network discovery, port scanning, web probing, screenshots,
// crawling, URL deduplication and cloud resource enumeration.
package tools

import (
	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/toolrunner"
)

// Tool names as invoked through the runner.
const (
	NameNetDiscover = "netdiscover"
	NamePortScan    = "portscan"
	NameWebProbe    = "webprobe"
	NameScreenshot  = "screenshot"
	NameCrawler     = "crawler"
	NameURLDedup    = "urldedup"
	NameCloudEnum   = "cloudenum"
)

// RegisterAll wires every tool into the child harness. The probe and crawl
// tools share one limiter so their combined outbound rate stays capped.
func RegisterAll(h *toolrunner.Harness, cfg config.ToolsConfig, log *logger.Logger) {
	limiter := ratelimit.New(cfg.RateLimit)

	h.Register(NewNetDiscover(cfg.Nmap, log))
	h.Register(NewPortScan(cfg.Nmap, log))
	h.Register(NewWebProbe(cfg.WebProbe, limiter, log))
	h.Register(NewScreenshot(cfg.Screenshot, log))
	h.Register(NewCrawler(cfg.Crawler, limiter, log))
	h.Register(NewURLDedup(log))
	h.Register(NewCloudEnum(cfg.CloudEnum, log))
}
