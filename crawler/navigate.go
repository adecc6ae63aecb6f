package crawler

import (
	"context"
	"strings"

	"github.com/lukemcguire/a11ycrawl/finding"
)

// Page is what a navigation settled on.
type Page struct {
	Status      int
	FinalURL    string
	ContentType string
	Title       string
	Links       []string
	Body        []byte
	// Truncated is set when Body stops short of the full response.
	Truncated bool
	// Handle is the binding's live page, if any. Analyzers of the same
	// binding use it; Close releases it.
	Handle any
	closer func()
}

// NewPage returns a Page whose Close calls release.
func NewPage(release func()) *Page {
	return &Page{closer: release}
}

// Close releases the binding's resources for the page. It is safe to call
// on a nil Page and more than once.
func (p *Page) Close() {
	if p == nil || p.closer == nil {
		return
	}
	p.closer()
	p.closer = nil
}

// IsHTML reports whether the page was served as an HTML document.
func (p *Page) IsHTML() bool {
	ct := strings.ToLower(p.ContentType)
	return ct == "" || strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// IsPDF reports whether the page was served as a PDF document.
func (p *Page) IsPDF() bool {
	return strings.Contains(strings.ToLower(p.ContentType), "application/pdf")
}

// Navigator opens targets. Implementations must return the result as a
// value and never mutate crawl state.
type Navigator interface {
	Navigate(ctx context.Context, t Target) (*Page, error)
}

// Analyzer runs the accessibility engine on a page a Navigator returned.
type Analyzer interface {
	Analyze(ctx context.Context, p *Page) (*finding.AxeResults, error)
}
