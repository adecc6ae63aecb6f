package crawler

import (
	"slices"
	"sync"

	"github.com/lukemcguire/a11ycrawl/result"
)

// Bucket names a terminal classification other than scanned.
type Bucket int

const (
	BucketInvalid Bucket = iota
	BucketForbidden
	BucketBlacklisted
	BucketOutOfDomain
	BucketUserExcluded
	BucketError
)

func (b Bucket) String() string {
	switch b {
	case BucketInvalid:
		return "invalid"
	case BucketForbidden:
		return "forbidden"
	case BucketBlacklisted:
		return "blacklisted"
	case BucketOutOfDomain:
		return "outOfDomain"
	case BucketUserExcluded:
		return "userExcluded"
	case BucketError:
		return "error"
	default:
		return "unknown"
	}
}

// State is the crawl state machine shared by all workers of a run. Every
// URL lands in at most one terminal bucket: the first classification wins
// and later attempts report false. The number of scanned pages is the page
// budget counter.
type State struct {
	mu sync.Mutex

	classified map[string]bool // target key -> terminal
	reserved   map[string]bool // settled URL key -> claimed for scanning

	scanned             []result.ScannedPage
	scannedRedirects    []result.Redirect
	notScannedRedirects []result.Redirect
	entries             map[Bucket][]result.Entry
}

// NewState returns an empty crawl state.
func NewState() *State {
	return &State{
		classified: make(map[string]bool),
		reserved:   make(map[string]bool),
		entries:    make(map[Bucket][]result.Entry),
	}
}

// Classify records key in bucket. It returns false when key already has a
// terminal classification.
func (s *State) Classify(key string, b Bucket, e result.Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.classified[key] {
		return false
	}
	s.classified[key] = true
	s.entries[b] = append(s.entries[b], e)
	return true
}

// SkipRedirect records a redirect that was not scanned, because it left
// scope or settled on a page that is already scanned.
func (s *State) SkipRedirect(key string, r result.Redirect) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.classified[key] {
		return false
	}
	s.classified[key] = true
	s.notScannedRedirects = append(s.notScannedRedirects, r)
	return true
}

// Reserve claims the settled URL key for scanning. It fails when that URL
// is already scanned or claimed by another worker, which makes the
// duplicate check and the claim a single step.
func (s *State) Reserve(settledKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved[settledKey] {
		return false
	}
	s.reserved[settledKey] = true
	return true
}

// Release gives up a reservation whose page could not be scanned.
func (s *State) Release(settledKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, settledKey)
}

// CommitScanned records key as scanned, with its redirect when the request
// settled elsewhere. It refuses when key is already classified or when
// maxPages (if positive) pages are already scanned, so concurrent workers
// never push the count past the budget.
func (s *State) CommitScanned(key string, page result.ScannedPage, redirect *result.Redirect, maxPages int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.classified[key] {
		return false
	}
	if maxPages > 0 && len(s.scanned) >= maxPages {
		return false
	}
	s.classified[key] = true
	s.scanned = append(s.scanned, page)
	if redirect != nil {
		s.scannedRedirects = append(s.scannedRedirects, *redirect)
	}
	return true
}

// IsClassified reports whether key already has a terminal bucket.
func (s *State) IsClassified(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classified[key]
}

// ScannedCount returns the number of scanned pages.
func (s *State) ScannedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scanned)
}

// Snapshot copies the buckets out of the state.
func (s *State) Snapshot() result.URLsCrawled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return result.URLsCrawled{
		Scanned:             slices.Clone(s.scanned),
		ScannedRedirects:    slices.Clone(s.scannedRedirects),
		NotScannedRedirects: slices.Clone(s.notScannedRedirects),
		Invalid:             slices.Clone(s.entries[BucketInvalid]),
		Forbidden:           slices.Clone(s.entries[BucketForbidden]),
		Blacklisted:         slices.Clone(s.entries[BucketBlacklisted]),
		OutOfDomain:         slices.Clone(s.entries[BucketOutOfDomain]),
		UserExcluded:        slices.Clone(s.entries[BucketUserExcluded]),
		Error:               slices.Clone(s.entries[BucketError]),
	}
}
