package tracking

import (
	"net/url"
	"strings"
)

// AllowList decides which hosts click redirects may point at. A host matches
// an entry exactly or as a subdomain of it.
type AllowList struct {
	hosts []string
}

func NewAllowList(hosts ...string) AllowList {
	var normalized []string
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.TrimPrefix(h, ".")
		if h != "" {
			normalized = append(normalized, h)
		}
	}
	return AllowList{hosts: normalized}
}

// HostsFromURLs extracts the hosts of the configured app URLs so the
// pipeline's own links are always redirectable.
func HostsFromURLs(urls ...string) []string {
	var hosts []string
	for _, raw := range urls {
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			hosts = append(hosts, u.Hostname())
		}
	}
	return hosts
}

func (a AllowList) Allowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, h := range a.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
