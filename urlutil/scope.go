package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Strategy bounds which discovered links a crawl follows.
type Strategy int

const (
	// SameDomain follows links whose registrable domain (the last two
	// hostname labels) matches the origin, so subdomains are included.
	SameDomain Strategy = iota
	// SameHostname follows links on exactly the origin hostname.
	SameHostname
)

// String returns the flag spelling of the strategy.
func (s Strategy) String() string {
	switch s {
	case SameHostname:
		return "same-hostname"
	default:
		return "same-domain"
	}
}

// ParseStrategy converts "same-domain" or "same-hostname" into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "same-domain":
		return SameDomain, nil
	case "same-hostname":
		return SameHostname, nil
	default:
		return SameDomain, fmt.Errorf("unknown scope strategy %q", s)
	}
}

// IsInScope reports whether candidate may be crawled when the crawl started
// at origin. Unparseable URLs are never in scope.
func IsInScope(candidate, origin string, strategy Strategy) bool {
	candidateURL, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	candidateHost := strings.ToLower(candidateURL.Hostname())
	originHost := strings.ToLower(originURL.Hostname())
	if candidateHost == "" || originHost == "" {
		return false
	}

	if strategy == SameHostname {
		return candidateHost == originHost
	}
	return RegistrableDomain(candidateHost) == RegistrableDomain(originHost)
}

// RegistrableDomain returns the last two labels of host. Hosts with fewer
// labels are returned unchanged.
func RegistrableDomain(host string) string {
	labels := strings.Split(strings.TrimSuffix(host, "."), ".")
	if len(labels) <= 2 {
		return strings.Join(labels, ".")
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// LinksEqual reports whether two URLs point at the same page: same host
// ignoring a leading "www." and same path. Query strings are not compared.
// When either side does not parse, the raw strings are compared.
func LinksEqual(a, b string) bool {
	aURL, errA := url.Parse(a)
	bURL, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}

	aHost := strings.TrimPrefix(strings.ToLower(aURL.Hostname()), "www.")
	bHost := strings.TrimPrefix(strings.ToLower(bURL.Hostname()), "www.")
	return aHost == bHost && samePath(aURL.Path, bURL.Path)
}

func samePath(a, b string) bool {
	if a == "" {
		a = "/"
	}
	if b == "" {
		b = "/"
	}
	return a == b
}
