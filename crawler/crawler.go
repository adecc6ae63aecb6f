// Package crawler enumerates the pages of a site and runs an accessibility
// analysis on each. A coordinator goroutine owns the URL frontier and feeds
// a pool of workers; every target ends in exactly one bucket of the crawl
// State, and the number of scanned pages is bounded by a page budget.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lukemcguire/a11ycrawl/pdf"
	"github.com/lukemcguire/a11ycrawl/result"
	"github.com/lukemcguire/a11ycrawl/sitemap"
	"github.com/lukemcguire/a11ycrawl/storage"
	"github.com/lukemcguire/a11ycrawl/urlutil"
)

// ErrAuthRequired is returned when the seed answers 401.
var ErrAuthRequired = errors.New("seed requires authentication")

// FileTypes selects which documents are analyzed.
type FileTypes int

const (
	FileTypesAll FileTypes = iota
	FileTypesHTMLOnly
	FileTypesPDFOnly
)

func (f FileTypes) String() string {
	switch f {
	case FileTypesHTMLOnly:
		return "html-only"
	case FileTypesPDFOnly:
		return "pdf-only"
	default:
		return "all"
	}
}

// ParseFileTypes parses "all", "html-only" or "pdf-only".
func ParseFileTypes(s string) (FileTypes, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return FileTypesAll, nil
	case "html-only":
		return FileTypesHTMLOnly, nil
	case "pdf-only":
		return FileTypesPDFOnly, nil
	default:
		return 0, fmt.Errorf("unknown file types %q", s)
	}
}

// Config holds crawler settings.
type Config struct {
	Concurrency    int
	MaxPages       int // page budget, default 100
	RequestTimeout time.Duration
	RateLimit      int           // initial navigations per second
	TargetRTT      time.Duration // navigation time the limiter adapts toward
	FixedRate      bool          // hold RateLimit instead of adapting it
	UserAgent      string
	Strategy       urlutil.Strategy
	FollowRobots   bool
	FileTypes      FileTypes
	Exclusions     *urlutil.Exclusions
	// Headers are sent with every navigation.
	Headers       map[string]string
	RetryPolicy   RetryPolicy
	MemoryLimitMB int64
	// WorkDir holds the visited set's backing file; the OS temp dir when empty.
	WorkDir string
	Logger  *zap.Logger
}

// Deps are the collaborators a Crawler drives.
type Deps struct {
	Navigator Navigator
	// Analyzer may be nil, in which case pages are recorded with no findings.
	Analyzer Analyzer
	// Store receives one finding record per analyzed page. Optional.
	Store storage.RecordStore
	// Stager receives PDF documents for the validator batch. Optional; PDFs
	// are only counted when it is nil.
	Stager *pdf.Stager
	// Robots overrides the robots.txt checker built from Config.
	Robots *RobotsChecker
	// Sitemaps extracts sitemap links for the sitemap-driven scan types.
	Sitemaps *sitemap.Extractor
	// Events receives one CrawlEvent per target. Optional.
	Events chan<- CrawlEvent
}

// Crawler runs crawl phases over one shared State. The intelligent scan
// runs a sitemap phase and a website phase on the same Crawler, so a page
// scanned in the first is never scanned again in the second.
type Crawler struct {
	cfg     Config
	deps    Deps
	logger  *zap.Logger
	state   *State
	visited *VisitedTracker
	limiter *AdaptiveLimiter
	robots  *RobotsChecker
	memory  *MemoryWatcher

	authMu     sync.RWMutex
	authByHost map[string]string // hostname -> Authorization header

	// coordinator-only counters, accumulated across phases
	checked   int
	abandoned int
	started   time.Time
}

// New creates a Crawler with the given configuration and collaborators.
func New(cfg Config, deps Deps) (*Crawler, error) {
	if deps.Navigator == nil {
		return nil, errors.New("crawler: navigator is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 25
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.TargetRTT <= 0 {
		cfg.TargetRTT = 3 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "a11ycrawl/1.0 (+https://github.com/lukemcguire/a11ycrawl)"
	}
	if cfg.RetryPolicy.MaxRetries == 0 && cfg.RetryPolicy.BaseDelay == 0 {
		cfg.RetryPolicy = DefaultRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	visited, err := NewVisitedTracker(cfg.WorkDir, uint(cfg.MaxPages*50))
	if err != nil {
		return nil, fmt.Errorf("create visited set: %w", err)
	}

	robots := deps.Robots
	if robots == nil && cfg.FollowRobots {
		robots = NewRobotsChecker(&http.Client{Timeout: 5 * time.Second})
	}

	c := &Crawler{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		state:      NewState(),
		visited:    visited,
		limiter:    NewAdaptiveLimiter(cfg.RateLimit, cfg.TargetRTT),
		robots:     robots,
		memory:     NewMemoryWatcher(cfg.MemoryLimitMB),
		authByHost: make(map[string]string),
	}
	if cfg.FixedRate {
		c.limiter.SetRate(cfg.RateLimit)
	}
	if n := cfg.Exclusions.Len(); n > 0 {
		logger.Debug("exclusion patterns loaded", zap.Int("patterns", n))
	}
	c.memory.SetThrottleCallback(func(level ThrottleLevel) {
		logger.Warn("memory pressure", zap.Stringer("level", level), zap.Int("rate", c.limiter.CurrentRate()))
		if level == ThrottleCritical {
			c.limiter.Scale(0.5)
		}
	})
	return c, nil
}

// Close releases the visited set.
func (c *Crawler) Close() error {
	return c.visited.Close()
}

// State returns the crawl state shared by every phase of this Crawler.
func (c *Crawler) State() *State { return c.state }

func (c *Crawler) scanHTML() bool { return c.cfg.FileTypes != FileTypesPDFOnly }
func (c *Crawler) scanPDFs() bool { return c.cfg.FileTypes != FileTypesHTMLOnly }

// budgetLeft reports whether more pages may be scanned.
func (c *Crawler) budgetLeft() bool {
	return c.state.ScannedCount() < c.cfg.MaxPages
}

// authorize sends auth with every later navigation to its host.
func (c *Crawler) authorize(auth *urlutil.BasicAuth) {
	if auth == nil {
		return
	}
	c.authMu.Lock()
	defer c.authMu.Unlock()
	c.authByHost[strings.ToLower(auth.Host)] = auth.Header()
}

// headersFor returns the configured headers plus the Authorization header
// of rawURL's host, if one was registered.
func (c *Crawler) headersFor(rawURL string) map[string]string {
	headers := maps.Clone(c.cfg.Headers)
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return headers
	}
	c.authMu.RLock()
	value, ok := c.authByHost[strings.ToLower(parsed.Hostname())]
	c.authMu.RUnlock()
	if ok {
		if headers == nil {
			headers = make(map[string]string, 1)
		}
		headers["Authorization"] = value
	}
	return headers
}

// RunOptions describes one crawl phase.
type RunOptions struct {
	Seeds []Target
	// Origin is the URL scope is measured against.
	Origin string
	// FollowLinks queues in-scope links discovered on scanned pages.
	FollowLinks bool
}

// Run crawls opts.Seeds, and what they link to when opts.FollowLinks is
// set, until the frontier drains, the page budget is reached or ctx is
// cancelled. It returns the statistics of this phase. Per-target failures
// are recorded in the State; only ErrAuthRequired and cancellation end the
// phase with an error.
func (c *Crawler) Run(ctx context.Context, opts RunOptions) (result.CrawlStats, error) {
	start := time.Now()
	if c.started.IsZero() {
		c.started = start
	}
	checkedBefore, abandonedBefore := c.checked, c.abandoned

	poolCtx, cancelPool := context.WithCancel(ctx)
	defer cancelPool()

	go c.memory.Watch(poolCtx, 2*time.Second)

	jobs := make(chan Target, c.cfg.Concurrency)
	results := make(chan outcome, c.cfg.Concurrency)

	errGroup, groupCtx := errgroup.WithContext(poolCtx)
	for range c.cfg.Concurrency {
		errGroup.Go(func() error {
			for t := range jobs {
				// Always send a result: the coordinator counts on one per job.
				results <- c.process(groupCtx, t)
			}
			return nil
		})
	}

	// Seeds are queued even when an earlier phase saw them, so a website
	// phase still expands a seed the sitemap phase already scanned.
	frontier := make([]Target, 0, len(opts.Seeds))
	for _, seed := range opts.Seeds {
		if !seed.AuthPrime {
			c.visited.VisitIfNew(seed.Key)
		}
		if seed.Headers == nil {
			seed = seed.withHeaders(c.headersFor(seed.URL))
		}
		frontier = append(frontier, seed)
	}

	var fatal error
	pending := 0
	for len(frontier) > 0 || pending > 0 {
		if len(frontier) > 0 && (fatal != nil || ctx.Err() != nil || !c.budgetLeft()) {
			c.abandoned += len(frontier)
			c.logger.Info("frontier abandoned", zap.Int("targets", len(frontier)), zap.Int("scanned", c.state.ScannedCount()))
			frontier = nil
			cancelPool()
			continue
		}

		var send chan<- Target
		var next Target
		if len(frontier) > 0 {
			send, next = jobs, frontier[0]
		}

		select {
		case send <- next:
			frontier = frontier[1:]
			pending++
		case out := <-results:
			pending--
			if out.fatal != nil && fatal == nil {
				fatal = out.fatal
			}
			c.report(out)
			if opts.FollowLinks && fatal == nil {
				frontier = c.admit(frontier, out.links, opts.Origin)
			}
		}
	}

	close(jobs)
	if err := errGroup.Wait(); err != nil {
		return c.stats(start, checkedBefore, abandonedBefore), fmt.Errorf("wait for workers: %w", err)
	}

	stats := c.stats(start, checkedBefore, abandonedBefore)
	if fatal != nil {
		return stats, fatal
	}
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("crawl interrupted: %w", err)
	}
	return stats, nil
}

func (c *Crawler) stats(start time.Time, checkedBefore, abandonedBefore int) result.CrawlStats {
	return result.CrawlStats{
		TotalChecked: c.checked - checkedBefore,
		Scanned:      c.state.ScannedCount(),
		Abandoned:    c.abandoned - abandonedBefore,
		Duration:     time.Since(start),
	}
}

// report counts one outcome and forwards it as a progress event.
func (c *Crawler) report(out outcome) {
	switch out.label {
	case OutcomeAbandoned:
		c.abandoned++
	case OutcomeSessionEstablish:
	default:
		c.checked++
	}

	if c.deps.Events == nil {
		return
	}
	evt := CrawlEvent{
		URL:           out.target.URL,
		Outcome:       out.label,
		Title:         out.title,
		Error:         out.detail,
		ErrorCategory: out.category,
		Checked:       c.checked,
		Scanned:       c.state.ScannedCount(),
	}
	c.deps.Events <- evt
}

// admit dedups links through the visited set, classifies out-of-scope ones
// and appends the rest to the frontier.
func (c *Crawler) admit(frontier []Target, links []string, origin string) []Target {
	for _, link := range links {
		key, err := urlutil.DedupKey(link)
		if err != nil {
			c.logger.Debug("link dropped", zap.String("url", link), zap.Error(err))
			continue
		}
		if !c.visited.VisitIfNew(key) {
			continue
		}
		if !urlutil.IsInScope(link, origin, c.cfg.Strategy) {
			c.state.Classify(key, BucketOutOfDomain, result.Entry{
				URL:           link,
				ErrorCategory: result.CategoryScopeRejection,
			})
			continue
		}
		frontier = append(frontier, Target{
			URL:            link,
			Key:            key,
			SkipNavigation: urlutil.IsPDF(link),
		}.withHeaders(c.headersFor(link)))
	}
	return frontier
}

// Result snapshots the crawl state as the outcome of a scan.
func (c *Crawler) Result(scanType ScanType, seed string) *result.Result {
	var elapsed time.Duration
	if !c.started.IsZero() {
		elapsed = time.Since(c.started)
	}
	return &result.Result{
		ScanType: scanType.String(),
		Seed:     seed,
		URLs:     c.state.Snapshot(),
		Stats: result.CrawlStats{
			TotalChecked: c.checked,
			Scanned:      c.state.ScannedCount(),
			Abandoned:    c.abandoned,
			Duration:     elapsed,
		},
	}
}
