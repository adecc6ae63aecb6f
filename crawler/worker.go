package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/lukemcguire/a11ycrawl/finding"
	"github.com/lukemcguire/a11ycrawl/pdf"
	"github.com/lukemcguire/a11ycrawl/result"
	"github.com/lukemcguire/a11ycrawl/urlutil"
)

// outcome is what a worker hands back to the coordinator for one target.
type outcome struct {
	target   Target
	label    string
	title    string
	detail   string
	category result.ErrorCategory
	links    []string
	fatal    error
}

func (o outcome) with(label string) outcome {
	o.label = label
	return o
}

// process takes one target through its whole lifecycle. It never returns
// without a label, and mutates crawl state only through State methods.
func (c *Crawler) process(ctx context.Context, t Target) outcome {
	out := outcome{target: t}
	if ctx.Err() != nil {
		return out.with(OutcomeAbandoned)
	}
	if t.AuthPrime {
		return c.primeSession(ctx, t)
	}
	if rejected, ok := c.preflight(ctx, t); ok {
		return rejected
	}
	if !c.budgetLeft() {
		return out.with(OutcomeAbandoned)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return out.with(OutcomeAbandoned)
	}

	if t.SkipNavigation && urlutil.IsPDF(t.URL) {
		return c.stagePDF(ctx, t, nil)
	}

	began := time.Now()
	page, err := NavigateWithRetry(ctx, c.deps.Navigator, t, c.cfg.RetryPolicy)
	if err != nil {
		if ctx.Err() != nil {
			return out.with(OutcomeAbandoned)
		}
		c.logger.Debug("navigation failed", zap.String("url", t.URL), zap.Error(err))
		return c.classify(out, BucketError, result.Entry{
			URL:           t.URL,
			Error:         err.Error(),
			ErrorCategory: result.ClassifyError(err, 0),
		})
	}
	defer page.Close()
	c.limiter.ObserveRTT(time.Since(began))

	return c.handlePage(ctx, t, page)
}

// preflight applies the checks that need no navigation. It reports true
// when t was classified.
func (c *Crawler) preflight(ctx context.Context, t Target) (outcome, bool) {
	out := outcome{target: t}
	if !t.LocalFile {
		if urlutil.HasBlacklistedExtension(t.URL) || (urlutil.IsPDF(t.URL) && !c.scanPDFs()) {
			return c.classify(out, BucketBlacklisted, result.Entry{
				URL:           t.URL,
				ErrorCategory: result.CategoryContentRejection,
			}), true
		}
		if c.robots != nil && urlutil.IsHTTPScheme(t.URL) {
			allowed, err := c.robots.Allowed(ctx, t.URL, c.cfg.UserAgent)
			if err != nil {
				c.logger.Debug("robots.txt unavailable, allowing", zap.String("url", t.URL), zap.Error(err))
			}
			if !allowed {
				return c.classify(out, BucketBlacklisted, result.Entry{
					URL:           t.URL,
					Error:         "disallowed by robots.txt",
					ErrorCategory: result.CategoryScopeRejection,
				}), true
			}
		}
	}
	if c.cfg.Exclusions.Match(t.URL) {
		return c.classify(out, BucketUserExcluded, result.Entry{
			URL:           t.URL,
			ErrorCategory: result.CategoryScopeRejection,
		}), true
	}
	return out, false
}

// primeSession opens the credential-bearing URL once so the navigator
// holds an authenticated session. Its outcome is never classified.
func (c *Crawler) primeSession(ctx context.Context, t Target) outcome {
	page, err := c.deps.Navigator.Navigate(ctx, t)
	if err != nil {
		c.logger.Warn("authentication navigation failed", zap.String("host", hostOf(t.URL)), zap.Error(err))
	}
	page.Close()
	return outcome{target: t, label: OutcomeSessionEstablish}
}

// handlePage classifies a settled navigation and scans it when it is an
// in-scope HTML page not scanned before.
func (c *Crawler) handlePage(ctx context.Context, t Target, page *Page) outcome {
	out := outcome{target: t, title: page.Title}

	switch status := page.Status; {
	case status == http.StatusForbidden:
		return c.classify(out, BucketForbidden, result.Entry{
			URL:           t.URL,
			StatusCode:    status,
			ErrorCategory: result.CategoryForbidden,
		})
	case status == http.StatusUnauthorized:
		out = c.classify(out, BucketInvalid, result.Entry{
			URL:           t.URL,
			StatusCode:    status,
			ErrorCategory: result.CategoryAuthRequired,
		})
		if t.Seed {
			out.fatal = fmt.Errorf("%w: %s", ErrAuthRequired, t.URL)
		}
		return out
	case status != 0 && (status < 200 || status >= 400):
		return c.classify(out, BucketInvalid, result.Entry{
			URL:           t.URL,
			StatusCode:    status,
			ErrorCategory: result.CategoryHTTPStatus,
		})
	}

	if page.IsPDF() {
		if !c.scanPDFs() {
			return c.classify(out, BucketBlacklisted, result.Entry{
				URL:           t.URL,
				Error:         "pdf scanning disabled",
				ErrorCategory: result.CategoryContentRejection,
			})
		}
		if page.Truncated {
			// The stager fetches the whole document itself.
			return c.stagePDF(ctx, t, nil)
		}
		return c.stagePDF(ctx, t, page.Body)
	}
	if !page.IsHTML() {
		return c.classify(out, BucketBlacklisted, result.Entry{
			URL:           t.URL,
			Error:         "unsupported content type " + page.ContentType,
			ErrorCategory: result.CategoryContentRejection,
		})
	}
	if !c.scanHTML() {
		// PDF-only runs still walk HTML pages to reach the documents.
		out = c.classify(out, BucketBlacklisted, result.Entry{
			URL:           t.URL,
			Error:         "html scanning disabled",
			ErrorCategory: result.CategoryContentRejection,
		})
		out.links = page.Links
		return out
	}

	final := page.FinalURL
	if final == "" {
		final = t.URL
	}
	res := c.resolveRedirect(t, final)
	switch {
	case res.skip:
		c.state.SkipRedirect(t.Key, result.Redirect{FromURL: t.URL, ToURL: final})
		return out.with(OutcomeSkippedRedirect)
	case res.duplicate:
		// Another target's redirect already scanned this page.
		c.state.SkipRedirect(t.Key, result.Redirect{FromURL: t.URL, ToURL: final})
		out.links = page.Links
		return out.with(OutcomeAlreadyScanned)
	}

	axe, err := c.analyze(ctx, page)
	if err != nil {
		c.release(res)
		if ctx.Err() != nil {
			return out.with(OutcomeAbandoned)
		}
		return c.classify(out, BucketError, result.Entry{
			URL:           t.URL,
			Error:         err.Error(),
			ErrorCategory: result.ClassifyError(err, 0),
		})
	}

	title := page.Title
	if t.Title != "" {
		title = t.Title
	}
	rec := finding.FromAxe(axe, finding.PageInfo{URL: t.URL, PageTitle: title, PageIndex: t.PageIndex})
	scanned := result.ScannedPage{URL: t.URL, ActualURL: final, PageTitle: rec.PageTitle, PageIndex: t.PageIndex}
	if !c.commit(t, scanned, res.redirect) {
		c.release(res)
		return out.with(OutcomeAbandoned)
	}
	c.store(ctx, rec)

	out.title = rec.PageTitle
	out.links = page.Links
	return out.with(OutcomeScanned)
}

// redirectResolution is the verdict on where a navigation settled.
type redirectResolution struct {
	settledKey string
	reserved   bool
	redirect   *result.Redirect
	skip       bool // record under notScannedRedirects
	duplicate  bool // settled on a page that is already scanned
}

// resolveRedirect compares the requested and settled URLs. A redirect that
// leaves scope, or settles on a page already scanned or claimed, is not
// scanned. Otherwise the settled URL is reserved so no other worker scans
// it. Ordered flow steps revisit pages on purpose and reserve nothing.
func (c *Crawler) resolveRedirect(t Target, final string) redirectResolution {
	redirected := !urlutil.LinksEqual(t.URL, final)
	if redirected && !urlutil.IsInScope(final, t.URL, c.cfg.Strategy) {
		return redirectResolution{skip: true}
	}

	res := redirectResolution{settledKey: t.Key}
	if redirected {
		res.redirect = &result.Redirect{FromURL: t.URL, ToURL: final}
		if key, err := urlutil.DedupKey(final); err == nil {
			res.settledKey = key
		} else {
			res.settledKey = final
		}
	}
	if t.PageIndex > 0 {
		return res
	}
	if !c.state.Reserve(res.settledKey) {
		if redirected {
			return redirectResolution{skip: true}
		}
		return redirectResolution{duplicate: true}
	}
	res.reserved = true
	return res
}

func (c *Crawler) release(res redirectResolution) {
	if res.reserved {
		c.state.Release(res.settledKey)
	}
}

func (c *Crawler) analyze(ctx context.Context, page *Page) (*finding.AxeResults, error) {
	if c.deps.Analyzer == nil {
		return &finding.AxeResults{}, nil
	}
	res, err := c.deps.Analyzer.Analyze(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("analyze page: %w", err)
	}
	if res == nil {
		res = &finding.AxeResults{}
	}
	return res, nil
}

// commit records a scanned page unless the budget filled up meanwhile.
func (c *Crawler) commit(t Target, page result.ScannedPage, redirect *result.Redirect) bool {
	ok := c.state.CommitScanned(t.Key, page, redirect, c.cfg.MaxPages)
	if !ok {
		c.logger.Debug("scan not committed", zap.String("url", t.URL), zap.Int("scanned", c.state.ScannedCount()))
	}
	return ok
}

func (c *Crawler) store(ctx context.Context, rec finding.Record) {
	if c.deps.Store == nil {
		return
	}
	// The page is committed; a budget trip must not lose its record.
	if err := c.deps.Store.Append(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Error("store finding record", zap.String("url", rec.URL), zap.Error(err))
	}
}

// stagePDF hands a document to the PDF batch and records it scanned. data
// is the body a navigation already fetched, or nil to download it.
func (c *Crawler) stagePDF(ctx context.Context, t Target, data []byte) outcome {
	out := outcome{target: t, title: documentTitle(t.URL)}

	res := redirectResolution{settledKey: t.Key}
	if t.PageIndex == 0 {
		if !c.state.Reserve(t.Key) {
			c.state.SkipRedirect(t.Key, result.Redirect{FromURL: t.URL, ToURL: t.URL})
			return out.with(OutcomeAlreadyScanned)
		}
		res.reserved = true
	}

	if c.deps.Stager != nil {
		var err error
		if data != nil {
			_, err = c.deps.Stager.StageBytes(t.URL, data)
		} else {
			_, err = c.deps.Stager.Stage(ctx, t.URL, t.Headers)
		}
		if err != nil {
			c.release(res)
			switch {
			case ctx.Err() != nil:
				return out.with(OutcomeAbandoned)
			case errors.Is(err, pdf.ErrNotPDF):
				return c.classify(out, BucketBlacklisted, result.Entry{
					URL:           t.URL,
					Error:         err.Error(),
					ErrorCategory: result.CategoryContentRejection,
				})
			default:
				return c.classify(out, BucketError, result.Entry{
					URL:           t.URL,
					Error:         err.Error(),
					ErrorCategory: result.ClassifyError(err, 0),
				})
			}
		}
	}

	scanned := result.ScannedPage{URL: t.URL, ActualURL: t.URL, PageTitle: out.title, PageIndex: t.PageIndex}
	if !c.commit(t, scanned, nil) {
		c.release(res)
		return out.with(OutcomeAbandoned)
	}
	return out.with(OutcomeScanned)
}

// classify records t in bucket b and labels the outcome with it.
func (c *Crawler) classify(out outcome, b Bucket, e result.Entry) outcome {
	if !c.state.Classify(out.target.Key, b, e) {
		c.logger.Debug("already classified", zap.String("url", out.target.URL), zap.Stringer("bucket", b))
	}
	out.label = b.String()
	out.detail = e.Error
	if out.detail == "" && e.StatusCode != 0 {
		out.detail = fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	out.category = e.ErrorCategory
	return out
}

// documentTitle is the last path segment of rawURL, unescaped.
func documentTitle(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return rawURL
	}
	return path.Base(parsed.Path)
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
