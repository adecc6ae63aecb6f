package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/lukemcguire/a11ycrawl/crawler"
)

// Navigator opens targets in browser tabs. It satisfies crawler.Navigator.
type Navigator struct {
	b *Browser
}

// Navigator returns the crawler binding of b.
func (b *Browser) Navigator() *Navigator {
	return &Navigator{b: b}
}

// Navigate opens t in a new tab and waits for it to load. The status and
// content type come from the main document's response event. The tab stays
// open on the returned Page until the crawler closes it.
func (n *Navigator) Navigate(ctx context.Context, t crawler.Target) (*crawler.Page, error) {
	tab, err := n.b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	closeTab := n.closer(tab, t.URL)

	page, err := n.load(ctx, tab, t, closeTab)
	if err != nil {
		closeTab()
		return nil, err
	}
	page.Handle = tab
	return page, nil
}

// closer returns the release func of tab. It closes through a handle with
// no deadline, so a tab still closes after the crawl context is done.
func (n *Navigator) closer(tab *rod.Page, rawURL string) func() {
	detached := tab.Context(context.Background())
	return func() {
		if err := detached.Close(); err != nil {
			n.b.logger.Debug("close tab", zap.String("url", rawURL), zap.Error(err))
		}
	}
}

func (n *Navigator) load(ctx context.Context, tab *rod.Page, t crawler.Target, release func()) (*crawler.Page, error) {
	opts := n.b.opts
	tab = tab.Context(ctx).Timeout(opts.Timeout)
	defer tab.CancelTimeout()

	if err := tab.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	if opts.UserAgent != "" {
		if err := tab.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}
	if len(t.Headers) > 0 {
		if _, err := tab.SetExtraHeaders(headerDict(t.Headers)); err != nil {
			return nil, fmt.Errorf("set headers: %w", err)
		}
	}

	// Local files have no HTTP response to wait for.
	var status int
	var contentType string
	waitResponse := func() {}
	if !t.LocalFile {
		waitResponse = tab.EachEvent(func(e *proto.NetworkResponseReceived) bool {
			if e.Type != proto.NetworkResourceTypeDocument || e.FrameID != tab.FrameID {
				return false
			}
			status, contentType = e.Response.Status, e.Response.MIMEType
			return true
		})
	}

	if err := tab.Navigate(t.URL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", t.URL, err)
	}
	waitResponse()
	if err := tab.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait for load of %s: %w", t.URL, err)
	}

	info, err := tab.Info()
	if err != nil {
		return nil, fmt.Errorf("page info of %s: %w", t.URL, err)
	}

	page := crawler.NewPage(release)
	page.Status = status
	page.FinalURL = info.URL
	page.ContentType = contentType
	page.Title = info.Title
	if !page.IsHTML() {
		return page, nil
	}

	markup, err := tab.HTML()
	if err != nil {
		return nil, fmt.Errorf("read markup of %s: %w", t.URL, err)
	}
	base, err := url.Parse(info.URL)
	if err != nil {
		return nil, fmt.Errorf("parse final URL %q: %w", info.URL, err)
	}
	if _, page.Links, err = crawler.ParseHTML(strings.NewReader(markup), base); err != nil {
		n.b.logger.Debug("markup parsed with errors", zap.String("url", info.URL), zap.Error(err))
	}
	return page, nil
}

// headerDict flattens headers into rod's alternating name/value list.
func headerDict(headers map[string]string) []string {
	dict := make([]string, 0, 2*len(headers))
	for k, v := range headers {
		dict = append(dict, k, v)
	}
	return dict
}
