package urlutil

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// blacklistedExtensions are file types that never hold a scannable page.
var blacklistedExtensions = map[string]bool{
	"css":  true,
	"js":   true,
	"txt":  true,
	"mp3":  true,
	"mp4":  true,
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"svg":  true,
	"gif":  true,
	"woff": true,
	"zip":  true,
	"webp": true,
	"json": true,
}

// IsHTTPScheme returns true if the URL has an http or https scheme.
// Returns false for empty strings, non-HTTP schemes, or unparseable URLs.
func IsHTTPScheme(rawURL string) bool {
	if rawURL == "" {
		return false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	scheme := strings.ToLower(parsed.Scheme)
	return scheme == "http" || scheme == "https"
}

// extension returns the lowercased text after the last "." of the URL path.
func extension(rawURL string) string {
	p := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		p = parsed.Path
	}
	ext := path.Ext(p)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// HasBlacklistedExtension reports whether the URL path ends in a file type
// that is never scanned (stylesheets, scripts, images, media, archives).
func HasBlacklistedExtension(rawURL string) bool {
	return blacklistedExtensions[extension(rawURL)]
}

// IsPDF reports whether the URL path ends in ".pdf".
func IsPDF(rawURL string) bool {
	return extension(rawURL) == "pdf"
}

// Exclusions matches URLs against user supplied exclusion patterns. A
// pattern starting with "http" matches that exact URL; anything else is a
// regular expression tested against the hostname and the full URL.
type Exclusions struct {
	exact   map[string]bool
	regexps []*regexp.Regexp
}

// NewExclusions compiles patterns. Blank lines and lines starting with "#"
// are ignored so the patterns can come straight from a file.
func NewExclusions(patterns []string) (*Exclusions, error) {
	ex := &Exclusions{exact: make(map[string]bool)}
	for _, raw := range patterns {
		pattern := strings.TrimSpace(raw)
		if pattern == "" || strings.HasPrefix(pattern, "#") {
			continue
		}
		if strings.HasPrefix(pattern, "http") {
			ex.exact[pattern] = true
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile exclusion %q: %w", pattern, err)
		}
		ex.regexps = append(ex.regexps, re)
	}
	return ex, nil
}

// Match reports whether rawURL is excluded. A nil *Exclusions matches nothing.
func (e *Exclusions) Match(rawURL string) bool {
	if e == nil {
		return false
	}
	if e.exact[rawURL] {
		return true
	}
	host := ""
	if parsed, err := url.Parse(rawURL); err == nil {
		host = parsed.Hostname()
	}
	for _, re := range e.regexps {
		if (host != "" && re.MatchString(host)) || re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled patterns.
func (e *Exclusions) Len() int {
	if e == nil {
		return 0
	}
	return len(e.exact) + len(e.regexps)
}
