// Package egress restricts outbound HTTP to approved provider hosts.
package egress

import (
	"net"
	"net/http"
	"strings"

	"fincite/engine/internal/llm"
)

// AllowlistRoundTripper enforces HTTPS-only requests to a fixed host
// allowlist. Literal IP hosts are always refused.
type AllowlistRoundTripper struct {
	base    http.RoundTripper
	allowed map[string]bool
}

func NewAllowlistRoundTripper(base http.RoundTripper, hosts []string) *AllowlistRoundTripper {
	allowed := make(map[string]bool, len(hosts))
	for _, host := range hosts {
		allowed[strings.ToLower(host)] = true
	}
	return &AllowlistRoundTripper{base: base, allowed: allowed}
}

func (rt *AllowlistRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil || req.URL.Scheme != "https" {
		return nil, llm.ErrEgressBlocked
	}
	host := req.URL.Hostname()
	if host == "" {
		return nil, llm.ErrEgressBlocked
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil, llm.ErrEgressBlocked
	}
	if !rt.allowed[strings.ToLower(host)] {
		return nil, llm.ErrEgressBlocked
	}
	base := rt.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
