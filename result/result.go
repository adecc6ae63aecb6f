// Package result holds the outcome of a crawl: which URLs were scanned,
// which were redirected and which were rejected and why.
package result

import "time"

// Entry is a URL that ended in a non-scanned terminal bucket.
type Entry struct {
	URL           string        `json:"url"`
	StatusCode    int           `json:"statusCode,omitempty"`
	Error         string        `json:"error,omitempty"`
	ErrorCategory ErrorCategory `json:"errorCategory"`
}

// ScannedPage is a page that was analyzed. ActualURL differs from URL when
// the request was redirected inside scope.
type ScannedPage struct {
	URL       string `json:"url"`
	ActualURL string `json:"actualUrl"`
	PageTitle string `json:"pageTitle"`
	PageIndex int    `json:"pageIndex,omitempty"`
}

// Redirect links a requested URL to where it settled.
type Redirect struct {
	FromURL string `json:"fromUrl"`
	ToURL   string `json:"toUrl"`
}

// URLsCrawled is a snapshot of the crawl state buckets.
type URLsCrawled struct {
	Scanned             []ScannedPage `json:"scanned"`
	ScannedRedirects    []Redirect    `json:"scannedRedirects"`
	NotScannedRedirects []Redirect    `json:"notScannedRedirects"`
	Invalid             []Entry       `json:"invalid"`
	Forbidden           []Entry       `json:"forbidden"`
	Blacklisted         []Entry       `json:"blacklisted"`
	OutOfDomain         []Entry       `json:"outOfDomain"`
	UserExcluded        []Entry       `json:"userExcluded"`
	Error               []Entry       `json:"error"`
}

// BucketCount is the size of one named bucket.
type BucketCount struct {
	Name  string
	Count int
}

// Counts returns the bucket sizes in display order.
func (u URLsCrawled) Counts() []BucketCount {
	return []BucketCount{
		{"Scanned", len(u.Scanned)},
		{"Scanned redirects", len(u.ScannedRedirects)},
		{"Not scanned redirects", len(u.NotScannedRedirects)},
		{"Invalid", len(u.Invalid)},
		{"Forbidden", len(u.Forbidden)},
		{"Blacklisted", len(u.Blacklisted)},
		{"Out of domain", len(u.OutOfDomain)},
		{"User excluded", len(u.UserExcluded)},
		{"Error", len(u.Error)},
	}
}

// Failures returns the entries worth showing to a user: invalid, forbidden
// and errored URLs.
func (u URLsCrawled) Failures() []Entry {
	out := make([]Entry, 0, len(u.Invalid)+len(u.Forbidden)+len(u.Error))
	out = append(out, u.Invalid...)
	out = append(out, u.Forbidden...)
	return append(out, u.Error...)
}

// CrawlStats contains aggregate statistics for a crawl operation.
type CrawlStats struct {
	TotalChecked int           `json:"totalChecked"` // targets taken off the frontier
	Scanned      int           `json:"scanned"`
	Abandoned    int           `json:"abandoned"` // queued targets dropped once the page budget was reached
	Duration     time.Duration `json:"duration"`
}

// Result is the complete output of one scan.
type Result struct {
	ScanType string      `json:"scanType"`
	Seed     string      `json:"seed"`
	URLs     URLsCrawled `json:"urlsCrawled"`
	Stats    CrawlStats  `json:"stats"`
}
