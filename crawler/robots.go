package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// maxRobotsSize bounds how much of a robots.txt is read.
const maxRobotsSize = 512 << 10

type robotsEntry struct {
	data    *robotstxt.RobotsData // nil: no usable file, allow all
	expires time.Time
}

// RobotsChecker answers robots.txt questions per origin (scheme and host).
// Concurrent callers share one fetch per origin and rules are kept for an
// hour. An origin whose robots.txt is missing, unreachable or unparseable
// allows everything.
type RobotsChecker struct {
	client *http.Client
	ttl    time.Duration
	group  singleflight.Group

	mu      sync.RWMutex
	origins map[string]robotsEntry
}

// NewRobotsChecker creates a RobotsChecker with the given HTTP client.
func NewRobotsChecker(client *http.Client) *RobotsChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &RobotsChecker{
		client:  client,
		ttl:     time.Hour,
		origins: make(map[string]robotsEntry),
	}
}

// Allowed reports whether userAgent may fetch rawURL. The error, if any,
// explains why the rules could not be read; the answer is then true.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL, userAgent string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true, fmt.Errorf("parse URL: %w", err)
	}
	data, err := r.rules(ctx, u)
	if data == nil {
		return true, err
	}
	return data.TestAgent(u.EscapedPath(), userAgent), nil
}

// Sitemaps returns the Sitemap directives of the robots.txt serving rawURL.
func (r *RobotsChecker) Sitemaps(ctx context.Context, rawURL string) ([]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	data, err := r.rules(ctx, u)
	if data == nil {
		return nil, err
	}
	return slices.Clone(data.Sitemaps), nil
}

func (r *RobotsChecker) rules(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	if u.Host == "" {
		return nil, nil
	}
	origin := u.Scheme + "://" + u.Host

	if data, ok := r.cached(origin); ok {
		return data, nil
	}

	v, err, _ := r.group.Do(origin, func() (any, error) {
		// A flight that ended since our lookup may have filled the cache.
		if data, ok := r.cached(origin); ok {
			return data, nil
		}
		data, err := r.fetch(ctx, origin)
		// A cancelled caller says nothing about the origin.
		if ctx.Err() == nil {
			r.mu.Lock()
			r.origins[origin] = robotsEntry{data: data, expires: time.Now().Add(r.ttl)}
			r.mu.Unlock()
		}
		return data, err
	})
	data, _ := v.(*robotstxt.RobotsData)
	return data, err
}

func (r *RobotsChecker) cached(origin string) (*robotstxt.RobotsData, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.origins[origin]
	if !ok || !time.Now().Before(entry.expires) {
		return nil, false
	}
	return entry.data, true
}

func (r *RobotsChecker) fetch(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("create robots.txt request for %s: %w", origin, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt for %s: %w", origin, err)
	}
	defer resp.Body.Close()

	// 404: no robots.txt. 5xx: fail open.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500 {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt for %s: %w", origin, err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt for %s: %w", origin, err)
	}
	return data, nil
}

// Forget drops every cached origin.
func (r *RobotsChecker) Forget() {
	r.mu.Lock()
	clear(r.origins)
	r.mu.Unlock()
}
