// Package sitemap turns XML sitemaps, sitemap indexes, RSS and Atom feeds and
// plain-text URL lists into an ordered list of links to crawl.
package sitemap

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/lukemcguire/a11ycrawl/urlutil"
)

// ErrFetch is returned when the root sitemap cannot be fetched or read.
var ErrFetch = errors.New("fetch sitemap")

// maxSitemapSize bounds one sitemap document.
const maxSitemapSize = 50 << 20

// RobotsPolicy decides whether a URL may be crawled. crawler.RobotsChecker
// satisfies it.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL, userAgent string) (bool, error)
}

// Link is one URL taken from a sitemap.
type Link struct {
	URL          string
	LastModified time.Time
	// SkipNavigation marks documents (PDFs) that are downloaded rather than
	// opened in a page.
	SkipNavigation bool
}

// ExtractOptions controls one extraction.
type ExtractOptions struct {
	// MaxLinks bounds the number of links returned. Zero means no bound.
	MaxLinks int
	// Intelligent sorts each sitemap's links by closeness to SeedURL and
	// then by last modification before truncating.
	Intelligent bool
	SeedURL     string
	// Headers are sent with every sitemap request.
	Headers map[string]string
}

// Extractor fetches and parses sitemaps.
type Extractor struct {
	Client    *http.Client
	Robots    RobotsPolicy // optional
	UserAgent string
	Logger    *zap.Logger
}

type format int

const (
	formatUnknown format = iota
	formatURLSet
	formatIndex
	formatRSS
	formatAtom
)

func (f format) String() string {
	switch f {
	case formatURLSet:
		return "xml"
	case formatIndex:
		return "xml-index"
	case formatRSS:
		return "rss"
	case formatAtom:
		return "atom"
	default:
		return "unknown"
	}
}

// sitemapNamespace is the fragment every sitemaps.org namespace contains.
const sitemapNamespace = "/schemas/sitemap"

var nonStandardURL = regexp.MustCompile(`(?im)^(http|https):/{2}.+$`)

// extraction is the state of one Extract call.
type extraction struct {
	e       *Extractor
	opts    ExtractOptions
	logger  *zap.Logger
	scanned map[string]bool
	seen    map[string]bool
	links   []Link
}

// Extract returns the links reachable from source, which may be an http(s)
// URL, a file:// URL or a local path. Sitemap indexes are followed
// recursively; a sitemap already visited in this call is not fetched again.
func (e *Extractor) Extract(ctx context.Context, source string, opts ExtractOptions) ([]Link, error) {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	x := &extraction{
		e:       e,
		opts:    opts,
		logger:  logger,
		scanned: make(map[string]bool),
		seen:    make(map[string]bool),
	}
	if err := x.fetchAndProcess(ctx, source, true); err != nil {
		return nil, err
	}
	return x.links, nil
}

func (x *extraction) full() bool {
	return x.opts.MaxLinks > 0 && len(x.links) >= x.opts.MaxLinks
}

func (x *extraction) remaining() int {
	if x.opts.MaxLinks <= 0 {
		return -1
	}
	return x.opts.MaxLinks - len(x.links)
}

func (x *extraction) add(ctx context.Context, raw string, lastMod time.Time) {
	raw = strings.TrimSpace(raw)
	if raw == "" || x.full() || x.seen[raw] {
		return
	}
	if x.e.Robots != nil && isHTTP(raw) {
		if ok, _ := x.e.Robots.Allowed(ctx, raw, x.e.UserAgent); !ok {
			x.logger.Debug("sitemap link disallowed by robots.txt", zap.String("url", raw))
			return
		}
	}
	x.seen[raw] = true
	x.links = append(x.links, Link{
		URL:            raw,
		LastModified:   lastMod,
		SkipNavigation: urlutil.IsPDF(raw),
	})
}

func (x *extraction) fetchAndProcess(ctx context.Context, source string, root bool) error {
	if x.scanned[source] {
		return nil
	}
	x.scanned[source] = true

	if isHTTP(source) && urlutil.IsPDF(source) {
		x.add(ctx, source, time.Time{})
		return nil
	}

	data, err := x.e.fetch(ctx, source, x.opts.Headers)
	if err != nil {
		if root {
			return fmt.Errorf("%w %s: %v", ErrFetch, source, err)
		}
		x.logger.Warn("child sitemap skipped", zap.String("sitemap", source), zap.Error(err))
		return nil
	}
	x.process(ctx, data)
	return nil
}

func (x *extraction) process(ctx context.Context, data []byte) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		x.logger.Debug("sitemap is not xml, scanning for urls", zap.Error(err))
		x.processNonStandard(ctx, data)
		return
	}
	root := rootElement(doc)
	if root == nil {
		x.processNonStandard(ctx, data)
		return
	}

	f := detectFormat(root)
	x.logger.Debug("sitemap format detected", zap.Stringer("format", f))
	switch f {
	case formatIndex:
		for _, loc := range xmlquery.Find(root, "//*[local-name()='loc']") {
			if x.full() {
				break
			}
			child := strings.TrimSpace(loc.InnerText())
			if strings.HasSuffix(child, ".xml") || strings.HasSuffix(child, ".txt") {
				x.fetchAndProcess(ctx, child, false)
				continue
			}
			x.add(ctx, child, time.Time{})
		}
	case formatURLSet:
		x.processEntries(ctx, root, "url", "loc", "lastmod", false)
	case formatRSS:
		x.processEntries(ctx, root, "item", "link", "pubDate", false)
	case formatAtom:
		x.processEntries(ctx, root, "entry", "link", "published", true)
	default:
		x.processNonStandard(ctx, data)
	}
}

// processEntries collects link and date from every section element, sorts
// them when intelligent and adds them up to the remaining capacity.
func (x *extraction) processEntries(ctx context.Context, root *xmlquery.Node, section, link, date string, hrefAttr bool) {
	var entries []Link
	for _, el := range xmlquery.Find(root, "//*[local-name()='"+section+"']") {
		var u string
		if ln := childElement(el, link); ln != nil {
			if hrefAttr {
				u = ln.SelectAttr("href")
			} else {
				u = ln.InnerText()
			}
		}
		var mod time.Time
		if d := childElement(el, date); d != nil {
			mod = parseDate(d.InnerText())
		}
		entries = append(entries, Link{URL: strings.TrimSpace(u), LastModified: mod})
	}

	if x.opts.Intelligent {
		sortByCloseness(entries, x.opts.SeedURL)
	}
	if x.opts.MaxLinks > 0 && len(entries) > x.opts.MaxLinks {
		entries = entries[:x.opts.MaxLinks]
	}
	for _, l := range entries {
		x.add(ctx, l.URL, l.LastModified)
	}
}

func (x *extraction) processNonStandard(ctx context.Context, data []byte) {
	matches := nonStandardURL.FindAll(data, x.remaining())
	for _, m := range matches {
		x.add(ctx, string(bytes.TrimSpace(m)), time.Time{})
	}
}

// sortByCloseness stable-sorts links: exact match of the seed first, then
// links under the seed, then the rest; ties by last modification, newest
// first, undated last.
func sortByCloseness(links []Link, seed string) {
	slices.SortStableFunc(links, func(a, b Link) int {
		if c := cmp.Compare(closeness(b.URL, seed), closeness(a.URL, seed)); c != 0 {
			return c
		}
		return b.LastModified.Compare(a.LastModified)
	})
}

var schemeAndWWW = regexp.MustCompile(`^(https?://)?(www\.)?`)

func closeness(link, seed string) int {
	l := schemeAndWWW.ReplaceAllString(link, "")
	s := strings.TrimSuffix(schemeAndWWW.ReplaceAllString(seed, ""), "/")
	switch {
	case l == s:
		return 2
	case strings.HasPrefix(l, s):
		return 1
	default:
		return 0
	}
}

func detectFormat(root *xmlquery.Node) format {
	ns := root.NamespaceURI
	if ns == "" {
		ns = root.SelectAttr("xmlns")
	}
	switch {
	case root.Data == "urlset" && strings.Contains(ns, sitemapNamespace):
		return formatURLSet
	case root.Data == "sitemapindex" && strings.Contains(ns, sitemapNamespace):
		return formatIndex
	case root.Data == "rss":
		return formatRSS
	case root.Data == "feed":
		return formatAtom
	default:
		return formatUnknown
	}
}

func rootElement(doc *xmlquery.Node) *xmlquery.Node {
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}

func childElement(parent *xmlquery.Node, name string) *xmlquery.Node {
	for n := parent.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode && n.Data == name {
			return n
		}
	}
	return nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func isHTTP(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

// fetch reads a sitemap over HTTP or from the local filesystem. Credentials
// embedded in an http URL are sent as a basic auth header.
func (e *Extractor) fetch(ctx context.Context, source string, headers map[string]string) ([]byte, error) {
	if !isHTTP(source) {
		path := source
		if parsed, err := url.Parse(source); err == nil && parsed.Scheme == "file" {
			path = parsed.Path
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read local sitemap: %w", err)
		}
		return data, nil
	}

	clean, auth, err := urlutil.StripCredentials(source)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, clean, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if auth != nil {
		req.Header.Set("Authorization", auth.Header())
	}
	if e.UserAgent != "" {
		req.Header.Set("User-Agent", e.UserAgent)
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}
