package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Normalize returns the canonical spelling of an absolute URL: lowercase
// scheme and host, no fragment, and no trailing slash except on the root
// path, which a bare host gains. The query is kept as is. file URLs only
// lose their fragment.
func Normalize(rawURL string) (string, error) {
	if rawURL == "" {
		return "", errors.New("normalize URL: empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("normalize URL %q: %w", rawURL, err)
	}

	if parsed.Scheme == "file" {
		parsed.Fragment = ""
		return parsed.String(), nil
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("normalize URL %q: not absolute", rawURL)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""

	switch {
	case parsed.Path == "":
		parsed.Path = "/"
	case parsed.Path != "/" && strings.HasSuffix(parsed.Path, "/"):
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}

	return parsed.String(), nil
}

// StripTracking removes utm_* query parameters. Other parameters keep their
// original order.
func StripTracking(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.RawQuery == "" {
		return rawURL
	}

	kept := make([]string, 0, 4)
	for _, pair := range strings.Split(parsed.RawQuery, "&") {
		name := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			name = pair[:idx]
		}
		if strings.HasPrefix(strings.ToLower(name), "utm_") {
			continue
		}
		kept = append(kept, pair)
	}
	parsed.RawQuery = strings.Join(kept, "&")
	return parsed.String()
}

// DedupKey returns the key two crawl targets are compared by: the normalized
// URL without credentials and without tracking parameters.
func DedupKey(rawURL string) (string, error) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return "", err
	}
	stripped, _, err := StripCredentials(normalized)
	if err != nil {
		return "", err
	}
	return StripTracking(stripped), nil
}
