package sitemap

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/lukemcguire/a11ycrawl/urlutil"
)

// WellKnownPaths are probed, in order, when looking for a site's sitemap.
var WellKnownPaths = []string{
	"/sitemap.xml",
	"/sitemap/sitemap.xml",
	"/sitemap-index.xml",
	"/sitemap_index.xml",
	"/sitemapindex.xml",
	"/sitemap/index.xml",
	"/sitemap1.xml",
	"/sitemap/",
	"/post-sitemap",
	"/page-sitemap",
	"/sitemap.txt",
	"/sitemap.php",
}

var (
	htmlMarker       = regexp.MustCompile(`(?im)<(?:!doctype html|html|head|body)+?>`)
	xmlSitemapMarker = regexp.MustCompile(`(?im)<(?:urlset|feed|rss)+?.*>`)
	urlLine          = regexp.MustCompile(`(?im)^.*(http|https):/{2}.*$`)
)

// IsSitemapContent reports whether content looks like a sitemap: well-formed
// XML, a sitemap wrapped in an HTML page, or a plain list of URLs with no
// HTML markup.
func IsSitemapContent(content []byte) bool {
	if wellFormedXML(content) {
		return true
	}
	isHTML := htmlMarker.Match(content)
	if isHTML && xmlSitemapMarker.Match(content) {
		return true
	}
	return !isHTML && urlLine.Match(content)
}

// wellFormedXML reports whether content parses as XML with a root element
// other than html.
func wellFormedXML(content []byte) bool {
	doc, err := xmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return false
	}
	root := rootElement(doc)
	return root != nil && !strings.EqualFold(root.Data, "html")
}

// Discover looks for a sitemap of the site serving seed. Candidates from
// robots.txt Sitemap directives are tried first, then WellKnownPaths under
// the seed's origin. It returns "" when nothing answers with sitemap content.
func (e *Extractor) Discover(ctx context.Context, seed string, robotsSitemaps []string, headers map[string]string) string {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	origin, err := originOf(seed)
	if err != nil {
		logger.Warn("sitemap discovery skipped", zap.String("seed", seed), zap.Error(err))
		return ""
	}

	candidates := append([]string(nil), robotsSitemaps...)
	for _, p := range WellKnownPaths {
		candidates = append(candidates, origin+p)
	}

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return ""
		}
		data, err := e.fetch(ctx, candidate, headers)
		if err != nil {
			logger.Debug("sitemap candidate unavailable", zap.String("url", candidate), zap.Error(err))
			continue
		}
		if IsSitemapContent(data) {
			logger.Info("sitemap found", zap.String("url", candidate))
			return candidate
		}
	}
	return ""
}

// originOf returns scheme://host[:port] of raw, keeping embedded
// credentials so the probe authenticates like the seed would.
func originOf(raw string) (string, error) {
	if !urlutil.IsHTTPScheme(raw) {
		return "", fmt.Errorf("not an http(s) URL: %q", raw)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse seed: %w", err)
	}
	origin := url.URL{Scheme: parsed.Scheme, User: parsed.User, Host: parsed.Host}
	return origin.String(), nil
}

// Probe reports whether rawURL answers with sitemap content.
func (e *Extractor) Probe(ctx context.Context, rawURL string, headers map[string]string) bool {
	data, err := e.fetch(ctx, rawURL, headers)
	return err == nil && IsSitemapContent(data)
}
