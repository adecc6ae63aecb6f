package crawler

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/lukemcguire/a11ycrawl/urlutil"
)

// ParseHTML reads an HTML document and returns its title and the
// normalized, deduplicated absolute http(s) targets of its anchors,
// resolved against baseURL.
func ParseHTML(body io.Reader, baseURL *url.URL) (title string, links []string, err error) {
	tokenizer := html.NewTokenizer(body)
	seen := make(map[string]bool)
	var errs []error
	inTitle := false

	for {
		tokenType := tokenizer.Next()
		switch tokenType {
		case html.ErrorToken:
			if len(errs) > 0 {
				return title, links, fmt.Errorf("encountered %d parse errors (first: %w)", len(errs), errs[0])
			}
			return title, links, nil
		case html.TextToken:
			if inTitle && title == "" {
				title = strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			if name, _ := tokenizer.TagName(); string(name) == "title" {
				inTitle = false
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			switch token.Data {
			case "title":
				inTitle = tokenType == html.StartTagToken
			case "a":
				for _, attr := range token.Attr {
					if attr.Key != "href" {
						continue
					}
					href := attr.Val
					if href == "" {
						href = baseURL.String()
					}

					hrefURL, err := url.Parse(strings.TrimSpace(href))
					if err != nil {
						errs = append(errs, fmt.Errorf("parse href %q: %w", href, err))
						continue
					}
					resolvedStr := baseURL.ResolveReference(hrefURL).String()

					if !urlutil.IsHTTPScheme(resolvedStr) {
						continue
					}

					normalized, err := urlutil.Normalize(resolvedStr)
					if err != nil {
						errs = append(errs, fmt.Errorf("normalize URL %q: %w", resolvedStr, err))
						continue
					}

					if !seen[normalized] {
						seen[normalized] = true
						links = append(links, normalized)
					}
				}
			}
		}
	}
}
