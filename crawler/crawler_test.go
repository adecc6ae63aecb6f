package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lukemcguire/a11ycrawl/crawler"
	"github.com/lukemcguire/a11ycrawl/finding"
	"github.com/lukemcguire/a11ycrawl/pdf"
	"github.com/lukemcguire/a11ycrawl/result"
	"github.com/lukemcguire/a11ycrawl/urlutil"
)

const minimalPDF = "%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF\n"

// newTestSite serves a small site:
//
//	/           -> /old, /b, /forbidden, /missing, /doc.pdf, /style.css,
//	               /private/x, https://other.example.org/x
//	/old        -> 301 /b
//	/b          -> /c
//	/c          -> no links
//	/forbidden  -> 403
//	/missing    -> 404
//	/doc.pdf    -> a pdf
//	/private/x  -> no links
func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	page := func(title string, links ...string) string {
		var b strings.Builder
		fmt.Fprintf(&b, "<html><head><title>%s</title></head><body>", title)
		for _, l := range links {
			fmt.Fprintf(&b, `<a href="%s">x</a>`, l)
		}
		b.WriteString("</body></html>")
		return b.String()
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, page("Home", "/old", "/b", "/forbidden", "/missing", "/doc.pdf",
			"/style.css", "/private/x", "https://other.example.org/x"))
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, page("B", "/c"))
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, page("C"))
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/doc.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, minimalPDF)
	})
	mux.HandleFunc("/private/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, page("Private"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// fakeAnalyzer reports one serious violation per page.
type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(_ context.Context, p *crawler.Page) (*finding.AxeResults, error) {
	return &finding.AxeResults{
		URL: p.FinalURL,
		Violations: []finding.AxeRule{{
			ID:     "image-alt",
			Impact: "serious",
			Tags:   []string{"wcag2a", "wcag111"},
			Nodes:  []finding.AxeNode{{HTML: "<img>", Target: []any{"img"}}},
		}},
	}, nil
}

type memStore struct {
	mu      sync.Mutex
	records []finding.Record
}

func (m *memStore) Append(_ context.Context, rec finding.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) Records(_ context.Context, _ func(int64, error)) ([]finding.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records), nil
}

func (m *memStore) Close() error { return nil }

type testRig struct {
	crawler *crawler.Crawler
	store   *memStore
	stager  *pdf.Stager
}

func newRig(t *testing.T, cfg crawler.Config, deps crawler.Deps) *testRig {
	t.Helper()
	rig := &testRig{store: &memStore{}, stager: pdf.NewStager(t.TempDir(), nil)}
	if deps.Navigator == nil {
		deps.Navigator = crawler.NewHTTPNavigator(5*time.Second, "a11ycrawl-test")
	}
	if deps.Analyzer == nil {
		deps.Analyzer = fakeAnalyzer{}
	}
	deps.Store = rig.store
	deps.Stager = rig.stager
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	if cfg.RetryPolicy.MaxRetries == 0 {
		cfg.RetryPolicy = crawler.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 50
	}

	c, err := crawler.New(cfg, deps)
	if err != nil {
		t.Fatalf("crawler.New() error: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	rig.crawler = c
	return rig
}

func scanWebsite(t *testing.T, rig *testRig, seedURL string) (*result.Result, error) {
	t.Helper()
	seed, err := crawler.SeedTarget(crawler.ScanWebsite, seedURL)
	if err != nil {
		t.Fatalf("SeedTarget() error: %v", err)
	}
	scanner, err := crawler.NewScanner(crawler.ScanWebsite, rig.crawler)
	if err != nil {
		t.Fatalf("NewScanner() error: %v", err)
	}
	return scanner.Run(context.Background(), seed)
}

func entryURLs(entries []result.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.URL
	}
	return out
}

// TestWebsiteScan_Buckets drives a full crawl one worker at a time and
// checks where every URL landed.
func TestWebsiteScan_Buckets(t *testing.T) {
	srv := newTestSite(t)
	exclusions, err := urlutil.NewExclusions([]string{"/private/"})
	if err != nil {
		t.Fatal(err)
	}
	rig := newRig(t, crawler.Config{Concurrency: 1, Exclusions: exclusions}, crawler.Deps{})

	res, err := scanWebsite(t, rig, srv.URL)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	u := res.URLs

	var scanned []string
	for _, p := range u.Scanned {
		scanned = append(scanned, strings.TrimPrefix(p.URL, srv.URL))
	}
	// /old settles on /b: scanned under /old, so the direct /b visit is a
	// duplicate and not scanned twice.
	want := []string{"/", "/old", "/doc.pdf", "/c"}
	if !slices.Equal(scanned, want) {
		t.Errorf("scanned = %v, want %v", scanned, want)
	}
	if len(u.ScannedRedirects) != 1 || !strings.HasSuffix(u.ScannedRedirects[0].ToURL, "/b") {
		t.Errorf("scannedRedirects = %+v", u.ScannedRedirects)
	}
	if len(u.NotScannedRedirects) != 1 || u.NotScannedRedirects[0].FromURL != srv.URL+"/b" {
		t.Errorf("notScannedRedirects = %+v, want the direct /b visit", u.NotScannedRedirects)
	}
	if len(u.Forbidden) != 1 || u.Forbidden[0].ErrorCategory != result.CategoryForbidden {
		t.Errorf("forbidden = %+v", u.Forbidden)
	}
	if len(u.Invalid) != 1 || u.Invalid[0].StatusCode != http.StatusNotFound {
		t.Errorf("invalid = %+v", u.Invalid)
	}
	if got := entryURLs(u.Blacklisted); len(got) != 1 || !strings.HasSuffix(got[0], "/style.css") {
		t.Errorf("blacklisted = %v", got)
	}
	if got := entryURLs(u.OutOfDomain); len(got) != 1 || got[0] != "https://other.example.org/x" {
		t.Errorf("outOfDomain = %v", got)
	}
	if got := entryURLs(u.UserExcluded); len(got) != 1 || !strings.HasSuffix(got[0], "/private/x") {
		t.Errorf("userExcluded = %v", got)
	}

	if rig.stager.Len() != 1 {
		t.Errorf("staged %d pdfs, want 1", rig.stager.Len())
	}
	// PDFs are analyzed later in the validator batch.
	records, _ := rig.store.Records(context.Background(), nil)
	if len(records) != 3 {
		t.Errorf("stored %d records, want 3 html pages", len(records))
	}
	if res.Stats.Scanned != 4 || res.Stats.Abandoned != 0 {
		t.Errorf("stats = %+v", res.Stats)
	}
}

// TestWebsiteScan_SingleClassification checks under full concurrency that
// every reached URL lands in exactly one bucket.
func TestWebsiteScan_SingleClassification(t *testing.T) {
	srv := newTestSite(t)
	rig := newRig(t, crawler.Config{Concurrency: 8}, crawler.Deps{})

	res, err := scanWebsite(t, rig, srv.URL)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	seen := make(map[string]string)
	note := func(bucket, u string) {
		if prev, ok := seen[u]; ok {
			t.Errorf("%s in both %s and %s", u, prev, bucket)
		}
		seen[u] = bucket
	}
	for _, p := range res.URLs.Scanned {
		note("scanned", p.URL)
	}
	for _, r := range res.URLs.NotScannedRedirects {
		note("notScannedRedirects", r.FromURL)
	}
	for _, bc := range []struct {
		name    string
		entries []result.Entry
	}{
		{"invalid", res.URLs.Invalid},
		{"forbidden", res.URLs.Forbidden},
		{"blacklisted", res.URLs.Blacklisted},
		{"outOfDomain", res.URLs.OutOfDomain},
		{"userExcluded", res.URLs.UserExcluded},
		{"error", res.URLs.Error},
	} {
		for _, e := range bc.entries {
			note(bc.name, e.URL)
		}
	}

	// Every URL the crawl reached sits in exactly one bucket.
	reached := []string{"/", "/old", "/b", "/c", "/forbidden", "/missing", "/doc.pdf", "/style.css", "/private/x"}
	for _, p := range reached {
		if _, ok := seen[srv.URL+p]; !ok {
			t.Errorf("%s is in no bucket", p)
		}
	}
	if _, ok := seen["https://other.example.org/x"]; !ok {
		t.Error("out-of-domain link is in no bucket")
	}
	if len(seen) != len(reached)+1 {
		t.Errorf("classified %d URLs, want %d", len(seen), len(reached)+1)
	}

	// /b is scanned exactly once, directly or as the target of /old.
	bScans := 0
	for _, p := range res.URLs.Scanned {
		if strings.HasSuffix(p.ActualURL, "/b") {
			bScans++
		}
	}
	if bScans != 1 {
		t.Errorf("/b scanned %d times, want 1", bScans)
	}
}

// TestWebsiteScan_BudgetIsExact verifies the page budget is never exceeded
// and the rest of the frontier is abandoned.
func TestWebsiteScan_BudgetIsExact(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString("<html><body>")
		for i := range 10 {
			fmt.Fprintf(&b, `<a href="%s/%d">p</a>`, strings.TrimSuffix(r.URL.Path, "/"), i)
		}
		b.WriteString("</body></html>")
		fmt.Fprint(w, b.String())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rig := newRig(t, crawler.Config{Concurrency: 6, MaxPages: 7}, crawler.Deps{})
	res, err := scanWebsite(t, rig, srv.URL)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := len(res.URLs.Scanned); got != 7 {
		t.Errorf("scanned %d pages, want exactly 7", got)
	}
	if res.Stats.Abandoned == 0 {
		t.Error("expected abandoned targets once the budget was reached")
	}
	if len(res.URLs.Error) != 0 {
		t.Errorf("budget trip recorded errors: %+v", res.URLs.Error)
	}
	records, _ := rig.store.Records(context.Background(), nil)
	if len(records) != 7 {
		t.Errorf("stored %d records, want 7", len(records))
	}
}

func TestWebsiteScan_SeedAuthRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	rig := newRig(t, crawler.Config{}, crawler.Deps{})
	res, err := scanWebsite(t, rig, srv.URL)
	if !errors.Is(err, crawler.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if len(res.URLs.Invalid) != 1 || res.URLs.Invalid[0].ErrorCategory != result.CategoryAuthRequired {
		t.Errorf("invalid = %+v", res.URLs.Invalid)
	}
}

func TestWebsiteScan_BasicAuthFromSeed(t *testing.T) {
	var unauthorized sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "u" || pass != "p" {
			unauthorized.Store(r.URL.Path, true)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `<html><body><a href="/next">n</a></body></html>`)
	}))
	defer srv.Close()

	rig := newRig(t, crawler.Config{Concurrency: 2}, crawler.Deps{})
	seed := strings.Replace(srv.URL, "http://", "http://u:p@", 1)
	res, err := scanWebsite(t, rig, seed)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.URLs.Scanned) != 2 {
		t.Errorf("scanned = %+v, want seed and /next", res.URLs.Scanned)
	}
	for _, p := range res.URLs.Scanned {
		if strings.Contains(p.URL, "u:p@") {
			t.Errorf("credentials leaked into scanned URL %s", p.URL)
		}
	}
	unauthorized.Range(func(k, _ any) bool {
		t.Errorf("request to %v sent without credentials", k)
		return true
	})
}

func TestWebsiteScan_PDFOnly(t *testing.T) {
	srv := newTestSite(t)
	rig := newRig(t, crawler.Config{Concurrency: 1, FileTypes: crawler.FileTypesPDFOnly}, crawler.Deps{})

	res, err := scanWebsite(t, rig, srv.URL)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.URLs.Scanned) != 1 || !strings.HasSuffix(res.URLs.Scanned[0].URL, "/doc.pdf") {
		t.Errorf("scanned = %+v, want only the pdf", res.URLs.Scanned)
	}
	if res.URLs.Scanned[0].PageTitle != "doc.pdf" {
		t.Errorf("pdf title = %q", res.URLs.Scanned[0].PageTitle)
	}
}

func TestWebsiteScan_Events(t *testing.T) {
	srv := newTestSite(t)
	events := make(chan crawler.CrawlEvent, 100)
	rig := newRig(t, crawler.Config{Concurrency: 2}, crawler.Deps{Events: events})

	res, err := scanWebsite(t, rig, srv.URL)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	close(events)

	var last crawler.CrawlEvent
	outcomes := make(map[string]int)
	for evt := range events {
		outcomes[evt.Outcome]++
		last = evt
	}
	if last.Checked != res.Stats.TotalChecked {
		t.Errorf("last event Checked = %d, want %d", last.Checked, res.Stats.TotalChecked)
	}
	if outcomes[crawler.OutcomeScanned] != len(res.URLs.Scanned) {
		t.Errorf("scanned events = %d, want %d", outcomes[crawler.OutcomeScanned], len(res.URLs.Scanned))
	}
	if outcomes[crawler.BucketForbidden.String()] != 1 {
		t.Errorf("forbidden events = %d, want 1", outcomes[crawler.BucketForbidden.String()])
	}
}

func TestRun_Cancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		fmt.Fprintf(w, `<html><body><a href="%s/x">x</a></body></html>`, strings.TrimSuffix(r.URL.Path, "/"))
	}))
	defer srv.Close()

	rig := newRig(t, crawler.Config{Concurrency: 2, MaxPages: 1000}, crawler.Deps{})
	seed, _ := crawler.SeedTarget(crawler.ScanWebsite, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := rig.crawler.Run(ctx, crawler.RunOptions{Seeds: []crawler.Target{seed}, Origin: srv.URL, FollowLinks: true})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestNew_RequiresNavigator(t *testing.T) {
	if _, err := crawler.New(crawler.Config{}, crawler.Deps{}); err == nil {
		t.Error("expected an error without a navigator")
	}
}

func TestParseFileTypes(t *testing.T) {
	tests := []struct {
		in      string
		want    crawler.FileTypes
		wantErr bool
	}{
		{"", crawler.FileTypesAll, false},
		{"all", crawler.FileTypesAll, false},
		{"html-only", crawler.FileTypesHTMLOnly, false},
		{"PDF-ONLY", crawler.FileTypesPDFOnly, false},
		{"images", 0, true},
	}
	for _, tt := range tests {
		got, err := crawler.ParseFileTypes(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFileTypes(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFileTypes(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWebsiteScan_OversizedPDFIsFetchedWhole(t *testing.T) {
	doc := "%PDF-1.4\n" + strings.Repeat("% filler line\n", 64) + "%%EOF\n"
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><body><a href="/download?id=7">annual report</a></body></html>`)
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, doc)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	nav := crawler.NewHTTPNavigator(5*time.Second, "a11ycrawl-test")
	nav.MaxBodySize = 128
	rig := newRig(t, crawler.Config{Concurrency: 1}, crawler.Deps{Navigator: nav})

	res, err := scanWebsite(t, rig, srv.URL)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.URLs.Blacklisted) != 0 {
		t.Errorf("blacklisted = %+v", res.URLs.Blacklisted)
	}
	if rig.stager.Len() != 1 {
		t.Errorf("staged %d pdfs, want 1", rig.stager.Len())
	}
	found := false
	for _, p := range res.URLs.Scanned {
		found = found || p.URL == srv.URL+"/download?id=7"
	}
	if !found {
		t.Errorf("scanned = %+v, want the download", res.URLs.Scanned)
	}
}
