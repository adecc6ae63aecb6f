package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lukemcguire/a11ycrawl/result"
	"github.com/lukemcguire/a11ycrawl/sitemap"
	"github.com/lukemcguire/a11ycrawl/urlutil"
)

// ScanType selects how the pages of a scan are enumerated.
type ScanType int

const (
	ScanSitemap ScanType = iota
	ScanWebsite
	ScanLocalFile
	ScanCustomFlow
	ScanIntelligent
)

func (s ScanType) String() string {
	switch s {
	case ScanSitemap:
		return "sitemap"
	case ScanWebsite:
		return "website"
	case ScanLocalFile:
		return "localfile"
	case ScanCustomFlow:
		return "customflow"
	case ScanIntelligent:
		return "intelligent"
	default:
		return fmt.Sprintf("ScanType(%d)", int(s))
	}
}

// ParseScanType parses a scan type name as printed by String. Hyphenated
// forms ("local-file", "custom-flow") are accepted too.
func ParseScanType(s string) (ScanType, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "") {
	case "sitemap":
		return ScanSitemap, nil
	case "website":
		return ScanWebsite, nil
	case "localfile":
		return ScanLocalFile, nil
	case "customflow":
		return ScanCustomFlow, nil
	case "intelligent":
		return ScanIntelligent, nil
	default:
		return 0, fmt.Errorf("unknown scan type %q", s)
	}
}

// Scanner runs one scan from its seed and returns the crawl outcome. The
// result is non-nil whenever the crawl started, even if it ended in error.
type Scanner interface {
	Run(ctx context.Context, seed Target) (*result.Result, error)
}

// NewScanner returns the Scanner for t driving c.
func NewScanner(t ScanType, c *Crawler) (Scanner, error) {
	if c == nil {
		return nil, errors.New("new scanner: nil crawler")
	}
	switch t {
	case ScanSitemap:
		return &sitemapScanner{c: c}, nil
	case ScanWebsite:
		return &websiteScanner{c: c}, nil
	case ScanLocalFile:
		return &localFileScanner{c: c}, nil
	case ScanCustomFlow:
		return &flowScanner{c: c}, nil
	case ScanIntelligent:
		return &intelligentScanner{c: c}, nil
	}
	return nil, fmt.Errorf("new scanner: unsupported scan type %v", t)
}

// SeedTarget builds the seed Target of a scan from user input: a URL, a
// local path for local file scans, or a flow file for custom flows.
func SeedTarget(t ScanType, raw string) (Target, error) {
	switch t {
	case ScanCustomFlow:
		return Target{URL: raw, Key: "flow:" + raw}, nil
	case ScanLocalFile:
		if !strings.HasPrefix(raw, "file://") {
			abs, err := filepath.Abs(raw)
			if err != nil {
				return Target{}, fmt.Errorf("resolve local file: %w", err)
			}
			raw = (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
		}
		seed, err := NewTarget(raw)
		if err != nil {
			return Target{}, err
		}
		seed.LocalFile = true
		return seed, nil
	default:
		normalized, err := urlutil.Normalize(raw)
		if err != nil {
			return Target{}, fmt.Errorf("seed: %w", err)
		}
		seed, err := NewTarget(normalized)
		if err != nil {
			return Target{}, err
		}
		seed.Seed = true
		return seed, nil
	}
}

// authenticate splits credentials off seed. When there are any, every
// later navigation to the seed's host carries them as a basic auth header,
// and the credential-bearing URL is opened once before the crawl.
func (c *Crawler) authenticate(ctx context.Context, seed Target) (Target, error) {
	clean, auth, err := urlutil.StripCredentials(seed.URL)
	if err != nil {
		return seed, err
	}
	if auth == nil {
		return seed, nil
	}
	c.authorize(auth)
	prime := Target{URL: seed.URL, Key: "auth:" + seed.URL, AuthPrime: true}
	if _, err := c.Run(ctx, RunOptions{Seeds: []Target{prime}}); err != nil {
		return seed, err
	}

	stripped, err := NewTarget(clean)
	if err != nil {
		return seed, err
	}
	stripped.Seed = seed.Seed
	return stripped, nil
}

// targetsFromLinks turns sitemap links into crawl targets.
func (c *Crawler) targetsFromLinks(links []sitemap.Link) []Target {
	targets := make([]Target, 0, len(links))
	for _, l := range links {
		t, err := NewTarget(l.URL)
		if err != nil {
			c.logger.Debug("sitemap link dropped", zap.String("url", l.URL), zap.Error(err))
			continue
		}
		t.SkipNavigation = l.SkipNavigation
		targets = append(targets, t.withHeaders(c.headersFor(l.URL)))
	}
	return targets
}

func (c *Crawler) extractor() (*sitemap.Extractor, error) {
	if c.deps.Sitemaps == nil {
		return nil, errors.New("sitemap extractor not configured")
	}
	return c.deps.Sitemaps, nil
}

type websiteScanner struct{ c *Crawler }

func (s *websiteScanner) Run(ctx context.Context, seed Target) (*result.Result, error) {
	seed, err := s.c.authenticate(ctx, seed)
	if err != nil {
		return s.c.Result(ScanWebsite, seed.URL), err
	}
	_, err = s.c.Run(ctx, RunOptions{Seeds: []Target{seed}, Origin: seed.URL, FollowLinks: true})
	return s.c.Result(ScanWebsite, seed.URL), err
}

type sitemapScanner struct{ c *Crawler }

func (s *sitemapScanner) Run(ctx context.Context, seed Target) (*result.Result, error) {
	ex, err := s.c.extractor()
	if err != nil {
		return nil, err
	}
	withCreds := seed.URL
	seed, err = s.c.authenticate(ctx, seed)
	if err != nil {
		return s.c.Result(ScanSitemap, seed.URL), err
	}

	links, err := ex.Extract(ctx, withCreds, sitemap.ExtractOptions{
		MaxLinks: s.c.cfg.MaxPages,
		Headers:  s.c.cfg.Headers,
	})
	if err != nil {
		return nil, fmt.Errorf("extract sitemap: %w", err)
	}
	s.c.logger.Info("sitemap extracted", zap.String("sitemap", seed.URL), zap.Int("links", len(links)))

	_, err = s.c.Run(ctx, RunOptions{Seeds: s.c.targetsFromLinks(links), Origin: seed.URL})
	return s.c.Result(ScanSitemap, seed.URL), err
}

// intelligentScanner looks for the site's sitemap, crawls it ordered by
// closeness to the seed, then spends the remaining budget on a website
// crawl from the seed over the same state.
type intelligentScanner struct{ c *Crawler }

func (s *intelligentScanner) Run(ctx context.Context, seed Target) (*result.Result, error) {
	c := s.c
	ex, err := c.extractor()
	if err != nil {
		return nil, err
	}
	withCreds := seed.URL
	seed, err = c.authenticate(ctx, seed)
	if err != nil {
		return c.Result(ScanIntelligent, seed.URL), err
	}

	robots := c.robots
	if robots == nil {
		robots = NewRobotsChecker(&http.Client{Timeout: 5 * time.Second})
	}
	hints, hintErr := robots.Sitemaps(ctx, seed.URL)
	if hintErr != nil {
		c.logger.Debug("robots.txt sitemap hints unavailable", zap.Error(hintErr))
	}

	if found := ex.Discover(ctx, withCreds, hints, c.cfg.Headers); found != "" {
		links, err := ex.Extract(ctx, found, sitemap.ExtractOptions{
			MaxLinks:    c.cfg.MaxPages,
			Intelligent: true,
			SeedURL:     seed.URL,
			Headers:     c.cfg.Headers,
		})
		if err != nil {
			c.logger.Warn("discovered sitemap unreadable", zap.String("sitemap", found), zap.Error(err))
		} else if _, err := c.Run(ctx, RunOptions{Seeds: c.targetsFromLinks(links), Origin: seed.URL}); err != nil {
			return c.Result(ScanIntelligent, seed.URL), err
		}
	}

	if c.budgetLeft() && ctx.Err() == nil {
		_, err = c.Run(ctx, RunOptions{Seeds: []Target{seed}, Origin: seed.URL, FollowLinks: true})
	}
	return c.Result(ScanIntelligent, seed.URL), err
}

// localFileScanner expands a local sitemap, or scans any other file as one
// page.
type localFileScanner struct{ c *Crawler }

func (s *localFileScanner) Run(ctx context.Context, seed Target) (*result.Result, error) {
	c := s.c
	if c.deps.Sitemaps != nil && c.deps.Sitemaps.Probe(ctx, seed.URL, nil) {
		links, err := c.deps.Sitemaps.Extract(ctx, seed.URL, sitemap.ExtractOptions{MaxLinks: c.cfg.MaxPages})
		if err != nil {
			return nil, fmt.Errorf("extract local sitemap: %w", err)
		}
		_, err = c.Run(ctx, RunOptions{Seeds: c.targetsFromLinks(links), Origin: seed.URL})
		return c.Result(ScanLocalFile, seed.URL), err
	}

	seed.LocalFile = true
	seed.SkipNavigation = urlutil.IsPDF(seed.URL)
	_, err := c.Run(ctx, RunOptions{Seeds: []Target{seed}, Origin: seed.URL})
	return c.Result(ScanLocalFile, seed.URL), err
}

// flowScanner replays an ordered flow file step by step.
type flowScanner struct{ c *Crawler }

func (s *flowScanner) Run(ctx context.Context, seed Target) (*result.Result, error) {
	c := s.c
	flow, err := LoadFlow(seed.URL)
	if err != nil {
		return nil, err
	}
	c.logger.Info("replaying flow", zap.String("flow", flow.Name), zap.Int("steps", len(flow.Steps)))

	for i, step := range flow.Steps {
		if !c.budgetLeft() || ctx.Err() != nil {
			break
		}
		t := flowTarget(i, step).withHeaders(c.headersFor(step.URL))
		if _, err := c.Run(ctx, RunOptions{Seeds: []Target{t}, Origin: step.URL}); err != nil {
			return c.Result(ScanCustomFlow, seed.URL), err
		}
	}
	return c.Result(ScanCustomFlow, seed.URL), ctx.Err()
}
