package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/net/html/charset"
)

// maxBodySize is the default cap on how much of a response is kept.
const maxBodySize = 20 << 20

// HTTPNavigator fetches pages with net/http and parses them without a
// browser. It serves file:// targets from disk. It has no live page, so
// it pairs with analyzers that only need the markup.
type HTTPNavigator struct {
	Client    *http.Client
	Timeout   time.Duration
	UserAgent string
	// MaxBodySize caps the bytes kept per response; 20 MiB when zero.
	MaxBodySize int64
}

// NewHTTPNavigator returns an HTTPNavigator with the given per-request
// timeout.
func NewHTTPNavigator(timeout time.Duration, userAgent string) *HTTPNavigator {
	return &HTTPNavigator{
		Client:    &http.Client{},
		Timeout:   timeout,
		UserAgent: userAgent,
	}
}

// Navigate fetches t and returns the settled page.
func (n *HTTPNavigator) Navigate(ctx context.Context, t Target) (*Page, error) {
	parsed, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("parse target %q: %w", t.URL, err)
	}
	if parsed.Scheme == "file" {
		return n.readFile(parsed)
	}

	if n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", t.URL, err)
	}
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	if n.UserAgent != "" {
		req.Header.Set("User-Agent", n.UserAgent)
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", t.URL, err)
	}
	defer resp.Body.Close()

	limit := n.MaxBodySize
	if limit <= 0 {
		limit = maxBodySize
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", t.URL, err)
	}
	truncated := int64(len(body)) > limit
	if truncated {
		body = body[:limit]
	}

	page := &Page{
		Status:      resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Truncated:   truncated,
	}
	if page.ContentType == "" {
		page.ContentType = http.DetectContentType(body)
	}
	if page.IsHTML() {
		// Parse errors leave whatever was extracted before them.
		page.Title, page.Links, _ = ParseHTML(utf8Reader(body, page.ContentType), resp.Request.URL)
	}
	return page, nil
}

func (n *HTTPNavigator) readFile(u *url.URL) (*Page, error) {
	body, err := os.ReadFile(u.Path)
	if err != nil {
		return nil, fmt.Errorf("read local file %s: %w", u.Path, err)
	}
	ct := mime.TypeByExtension(filepath.Ext(u.Path))
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	page := &Page{
		Status:      http.StatusOK,
		FinalURL:    u.String(),
		ContentType: ct,
		Body:        body,
	}
	if page.IsHTML() {
		page.Title, _, _ = ParseHTML(utf8Reader(body, ct), u)
	}
	return page, nil
}

// utf8Reader decodes body to UTF-8 using the charset named by contentType
// or declared in the document.
func utf8Reader(body []byte, contentType string) io.Reader {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return bytes.NewReader(body)
	}
	return r
}
