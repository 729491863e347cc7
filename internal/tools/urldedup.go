package tools

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

type URLDedupInput struct {
	URLs []string `json:"urls"`
}

type URLDedupOutput struct {
	URLs []string `json:"urls"`
}

type urlDedup struct {
	logger *logger.Logger
}

func NewURLDedup(log *logger.Logger) *urlDedup {
	return &urlDedup{logger: log.WithComponent(NameURLDedup)}
}

func (t *urlDedup) Name() string { return NameURLDedup }

// Run keeps the first occurrence of every distinct normalized URL, preserving
// input order. Unparseable entries are dropped.
func (t *urlDedup) Run(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var input URLDedupInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, types.NewValidationError("undecodable urldedup input: " + err.Error())
	}

	seen := map[string]bool{}
	output := URLDedupOutput{}
	for _, raw := range input.URLs {
		normalized, err := NormalizeURL(raw)
		if err != nil {
			t.logger.Debugw("Dropping unparseable url", "url", raw)
			continue
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		output.URLs = append(output.URLs, raw)
	}

	t.logger.Infow("URL dedup finished",
		"input", len(input.URLs), "survivors", len(output.URLs))
	return output, nil
}

// NormalizeURL canonicalizes a URL for dedup comparison: scheme and host are
// lowercased, default ports dropped, the trailing slash stripped, and query
// parameters reduced to a sorted key signature so /list?page=1 and
// /list?page=2 collapse to one endpoint.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", types.NewValidationError("unparseable url: " + raw)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", types.NewValidationError("not an absolute http url: " + raw)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}

	path := strings.TrimSuffix(u.EscapedPath(), "/")

	signature := ""
	if u.RawQuery != "" {
		keys := make([]string, 0, len(u.Query()))
		for k := range u.Query() {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		signature = "?" + strings.Join(keys, "&")
	}

	return strings.ToLower(u.Scheme) + "://" + host + path + signature, nil
}
