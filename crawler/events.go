package crawler

import "github.com/lukemcguire/a11ycrawl/result"

// Outcome labels carried by CrawlEvent.Outcome besides the Bucket names.
const (
	OutcomeScanned          = "scanned"
	OutcomeSkippedRedirect  = "notScannedRedirect"
	OutcomeAlreadyScanned   = "duplicate"
	OutcomeAbandoned        = "abandoned"
	OutcomeSessionEstablish = "authenticated"
)

// CrawlEvent reports progress for a single target taken off the frontier.
type CrawlEvent struct {
	URL string
	// Outcome is OutcomeScanned, one of the Outcome* labels or a Bucket name.
	Outcome       string
	Title         string
	Error         string
	ErrorCategory result.ErrorCategory
	Checked       int
	Scanned       int
}
