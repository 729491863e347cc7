// Package assets resolves raw discovery output (hostnames, URLs, cloud
// resource descriptors) into deduplicated asset rows with their ancestor
// chains in place.
package assets

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

// Classification maps a raw host string onto exactly one asset type. For
// DOMAIN and SUBDOMAIN results, Registrable holds the eTLD+1.
type Classification struct {
	Type        types.AssetType
	Name        string
	Registrable string
}

// Classify canonicalizes a host string and classifies it as IP, DOMAIN,
// SUBDOMAIN or UNKNOWN. A "www." prefix directly on the registrable domain is
// folded into the bare domain rather than treated as a subdomain.
func Classify(raw string) Classification {
	host := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(raw), "."))
	if host == "" {
		return Classification{Type: types.AssetTypeUnknown, Name: raw}
	}

	if ip := net.ParseIP(host); ip != nil {
		return Classification{Type: types.AssetTypeIP, Name: ip.String()}
	}

	if strings.ContainsAny(host, " /\\@:") {
		return Classification{Type: types.AssetTypeUnknown, Name: raw}
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return Classification{Type: types.AssetTypeUnknown, Name: host}
	}

	switch host {
	case registrable, "www." + registrable:
		return Classification{Type: types.AssetTypeDomain, Name: registrable, Registrable: registrable}
	}
	return Classification{Type: types.AssetTypeSubdomain, Name: host, Registrable: registrable}
}

// ParseWebappURL extracts host, port and scheme from a webapp URL. Missing
// ports default from the scheme.
func ParseWebappURL(raw string) (host string, port int, scheme string, err error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, perr := url.Parse(raw)
	if perr != nil || u.Hostname() == "" {
		return "", 0, "", types.NewValidationError("unparseable webapp url: " + raw)
	}

	scheme = strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", 0, "", types.NewValidationError("unsupported webapp scheme: " + scheme)
	}

	port = 80
	if scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return "", 0, "", types.NewValidationError("invalid webapp port: " + p)
		}
	}

	return strings.ToLower(u.Hostname()), port, scheme, nil
}

// SchemeForPort guesses a webapp scheme from a bare port number.
func SchemeForPort(port int) string {
	if port == 443 || port == 8443 {
		return "https"
	}
	return "http"
}
