package tools

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

type ProbeTarget struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type WebProbeInput struct {
	Targets []ProbeTarget `json:"targets"`
}

type ProbeResult struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Scheme     string `json:"scheme"`
	URL        string `json:"url"`
	FinalURL   string `json:"final_url"`
	StatusCode int    `json:"status_code"`
	Title      string `json:"title,omitempty"`
	Alive      bool   `json:"alive"`
}

type WebProbeOutput struct {
	Webapps []ProbeResult `json:"webapps"`
}

type webProbe struct {
	cfg     config.WebProbeConfig
	logger  *logger.Logger
	client  *http.Client
	limiter *ratelimit.Limiter
}

func NewWebProbe(cfg config.WebProbeConfig, limiter *ratelimit.Limiter, log *logger.Logger) *webProbe {
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			// Self-signed certificates are the norm on discovered hosts.
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return &webProbe{cfg: cfg, logger: log.WithComponent(NameWebProbe), client: client, limiter: limiter}
}

func (t *webProbe) Name() string { return NameWebProbe }

func (t *webProbe) Run(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var input WebProbeInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, types.NewValidationError("undecodable webprobe input: " + err.Error())
	}
	if len(input.Targets) == 0 {
		return nil, types.NewValidationError("webprobe requires at least one target")
	}

	output := WebProbeOutput{}
	for _, target := range input.Targets {
		result := t.probe(ctx, target)
		if result.Alive {
			output.Webapps = append(output.Webapps, result)
		}
	}

	t.logger.Infow("Web probe finished",
		"candidates", len(input.Targets), "alive", len(output.Webapps))
	return output, nil
}

// probe tries https first, then http, accepting the first endpoint that
// answers with any HTTP status.
func (t *webProbe) probe(ctx context.Context, target ProbeTarget) ProbeResult {
	schemes := []string{"https", "http"}
	if target.Port == 80 {
		schemes = []string{"http"}
	} else if target.Port == 443 {
		schemes = []string{"https"}
	}

	for _, scheme := range schemes {
		if err := t.limiter.WaitHost(ctx, target.Host); err != nil {
			break
		}
		url := fmt.Sprintf("%s://%s:%d/", scheme, target.Host, target.Port)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		req.Header.Set("User-Agent", t.cfg.UserAgent)

		resp, err := t.client.Do(req)
		if err != nil {
			continue
		}

		result := ProbeResult{
			Host:       target.Host,
			Port:       target.Port,
			Scheme:     scheme,
			URL:        url,
			FinalURL:   resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
			Title:      extractTitle(resp.Body),
			Alive:      true,
		}
		resp.Body.Close()
		return result
	}

	return ProbeResult{Host: target.Host, Port: target.Port}
}

func extractTitle(body io.Reader) string {
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(body, 1<<20))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
