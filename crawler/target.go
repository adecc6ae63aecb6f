package crawler

import (
	"fmt"
	"maps"

	"github.com/lukemcguire/a11ycrawl/urlutil"
)

// Target is one unit of crawl work. It is immutable once queued.
type Target struct {
	URL string
	// Key deduplicates targets: the URL without utm_* parameters, fragment
	// and credentials.
	Key     string
	Headers map[string]string
	// LocalFile marks a file:// target that is read from disk.
	LocalFile bool
	// SkipNavigation marks a document (PDF) that is downloaded instead of
	// opened as a page.
	SkipNavigation bool
	// PageIndex is the 1-based step of an ordered flow, 0 otherwise.
	PageIndex int
	// Title overrides the page title (flow steps name their pages).
	Title string
	// AuthPrime marks the credential-bearing URL queued once so the
	// navigator can establish an authenticated session. It is never
	// classified or counted.
	AuthPrime bool
	// Seed marks the URL the user asked for; a 401 on it ends the crawl.
	Seed bool
}

// NewTarget builds a Target for rawURL with its dedup key.
func NewTarget(rawURL string) (Target, error) {
	key, err := urlutil.DedupKey(rawURL)
	if err != nil {
		return Target{}, fmt.Errorf("build target: %w", err)
	}
	return Target{
		URL:            rawURL,
		Key:            key,
		SkipNavigation: urlutil.IsPDF(rawURL),
	}, nil
}

// withHeaders returns a copy of t carrying headers.
func (t Target) withHeaders(headers map[string]string) Target {
	if len(headers) > 0 {
		t.Headers = maps.Clone(headers)
	}
	return t
}
