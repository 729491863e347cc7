package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

type CrawlInput struct {
	URL string `json:"url"`
	// OutputDir receives one artifact file per endpoint plus index.json;
	// created under the configured output root when empty.
	OutputDir string `json:"output_dir,omitempty"`
	MaxDepth  int    `json:"max_depth,omitempty"`
	MaxPages  int    `json:"max_pages,omitempty"`
}

// CrawlArtifact is one index.json entry pointing at an endpoint's artifact
// file.
type CrawlArtifact struct {
	URL    string `json:"url"`
	Method string `json:"method"`
	File   string `json:"file"`
}

type CrawlIndex struct {
	StartURL  string          `json:"start_url"`
	Artifacts []CrawlArtifact `json:"artifacts"`
}

type CrawlOutput struct {
	Dir       string `json:"dir"`
	IndexPath string `json:"index_path"`
	Pages     int    `json:"pages"`
	Endpoints int    `json:"endpoints"`
}

// ArtifactFile is the on-disk per-endpoint record consumed by the webapp
// sub-scan when it promotes surviving endpoints to WEBAPP_API assets.
type ArtifactFile struct {
	URL         string    `json:"url"`
	Method      string    `json:"method"`
	Request     string    `json:"request"`
	Response    string    `json:"response"`
	ContentType string    `json:"content_type"`
	CapturedAt  time.Time `json:"captured_at"`
}

type crawler struct {
	cfg     config.CrawlerConfig
	logger  *logger.Logger
	limiter *ratelimit.Limiter
}

func NewCrawler(cfg config.CrawlerConfig, limiter *ratelimit.Limiter, log *logger.Logger) *crawler {
	return &crawler{cfg: cfg, logger: log.WithComponent(NameCrawler), limiter: limiter}
}

func (t *crawler) Name() string { return NameCrawler }

func (t *crawler) Run(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var input CrawlInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, types.NewValidationError("undecodable crawler input: " + err.Error())
	}
	if input.URL == "" {
		return nil, types.NewValidationError("crawler requires a url")
	}
	start, err := url.Parse(input.URL)
	if err != nil || start.Host == "" {
		return nil, types.NewValidationError("crawler requires an absolute url")
	}

	maxDepth := input.MaxDepth
	if maxDepth <= 0 {
		maxDepth = t.cfg.MaxDepth
	}
	maxPages := input.MaxPages
	if maxPages <= 0 {
		maxPages = t.cfg.MaxPages
	}

	dir := input.OutputDir
	if dir == "" {
		dir, err = os.MkdirTemp(t.cfg.OutputDir, "crawl-")
		if err != nil {
			return nil, types.NewToolError(NameCrawler, err)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.NewToolError(NameCrawler, err)
	}

	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("ignore-certificate-errors", true),
		)...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	index := CrawlIndex{StartURL: input.URL}
	seen := map[string]bool{}
	pages := 0

	type frontierItem struct {
		url   string
		depth int
	}
	frontier := []frontierItem{{url: start.String(), depth: 0}}

	for len(frontier) > 0 && pages < maxPages {
		if err := ctx.Err(); err != nil {
			break
		}

		item := frontier[0]
		frontier = frontier[1:]
		if seen[item.url] {
			continue
		}
		seen[item.url] = true

		if err := t.limiter.WaitHost(ctx, start.Hostname()); err != nil {
			break
		}

		html, err := t.render(browserCtx, item.url)
		if err != nil {
			t.logger.Warnw("Failed to render page", "url", item.url, "error", err)
			continue
		}
		pages++

		endpoints, links := t.extract(start, item.url, html)
		for _, ep := range endpoints {
			artifact, err := t.writeArtifact(dir, len(index.Artifacts), ep, html)
			if err != nil {
				return nil, types.NewToolError(NameCrawler, err)
			}
			index.Artifacts = append(index.Artifacts, artifact)
		}

		if item.depth >= maxDepth {
			continue
		}
		for _, link := range links {
			if !seen[link] {
				frontier = append(frontier, frontierItem{url: link, depth: item.depth + 1})
			}
		}
	}

	indexPath := filepath.Join(dir, "index.json")
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return nil, types.NewToolError(NameCrawler, err)
	}
	if err := os.WriteFile(indexPath, data, 0o644); err != nil {
		return nil, types.NewToolError(NameCrawler, err)
	}

	t.logger.Infow("Crawl finished",
		"url", input.URL, "pages", pages, "endpoints", len(index.Artifacts))
	return CrawlOutput{
		Dir:       dir,
		IndexPath: indexPath,
		Pages:     pages,
		Endpoints: len(index.Artifacts),
	}, nil
}

func (t *crawler) render(ctx context.Context, pageURL string) (string, error) {
	var html string
	err := chromedp.Run(ctx,
		chromedp.Navigate(pageURL),
		chromedp.OuterHTML("html", &html),
	)
	return html, err
}

type endpoint struct {
	url    string
	method string
}

// extract pulls candidate API endpoints (links and form actions) out of a
// rendered page, keeping only same-host absolute URLs.
func (t *crawler) extract(start *url.URL, pageURL, html string) ([]endpoint, []string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil
	}

	var endpoints []endpoint
	var links []string
	addLink := func(raw, method string) {
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Host != start.Host || (abs.Scheme != "http" && abs.Scheme != "https") {
			return
		}
		abs.Fragment = ""
		endpoints = append(endpoints, endpoint{url: abs.String(), method: method})
		if method == "GET" {
			links = append(links, abs.String())
		}
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			addLink(href, "GET")
		}
	})
	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		action := s.AttrOr("action", pageURL)
		method := strings.ToUpper(s.AttrOr("method", "GET"))
		addLink(action, method)
	})

	return endpoints, links
}

func (t *crawler) writeArtifact(dir string, seq int, ep endpoint, html string) (CrawlArtifact, error) {
	response := html
	if len(response) > 64*1024 {
		response = response[:64*1024]
	}

	record := ArtifactFile{
		URL:         ep.url,
		Method:      ep.method,
		Request:     fmt.Sprintf("%s %s", ep.method, ep.url),
		Response:    response,
		ContentType: "text/html",
		CapturedAt:  time.Now().UTC(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return CrawlArtifact{}, err
	}

	name := fmt.Sprintf("endpoint-%04d.json", seq)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return CrawlArtifact{}, err
	}

	return CrawlArtifact{URL: ep.url, Method: ep.method, File: name}, nil
}
