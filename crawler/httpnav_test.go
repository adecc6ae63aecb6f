package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHTTPNavigator_Navigate(t *testing.T) {
	var gotUA, gotHeader string
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		gotUA, gotHeader = r.UserAgent(), r.Header.Get("X-Test")
		fmt.Fprint(w, `<html><head><title>End</title></head><body><a href="/next">n</a></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	nav := NewHTTPNavigator(time.Second, "a11ycrawl-test")
	page, err := nav.Navigate(context.Background(), Target{URL: srv.URL + "/start", Headers: map[string]string{"X-Test": "yes"}})
	if err != nil {
		t.Fatalf("Navigate() error: %v", err)
	}
	defer page.Close()

	if page.Status != http.StatusOK || page.FinalURL != srv.URL+"/end" {
		t.Errorf("page = status %d, final %q", page.Status, page.FinalURL)
	}
	if page.Title != "End" || len(page.Links) != 1 || page.Links[0] != srv.URL+"/next" {
		t.Errorf("title %q, links %v", page.Title, page.Links)
	}
	if !page.IsHTML() || page.IsPDF() {
		t.Errorf("content type %q misdetected", page.ContentType)
	}
	if gotUA != "a11ycrawl-test" || gotHeader != "yes" {
		t.Errorf("request carried UA %q and X-Test %q", gotUA, gotHeader)
	}
}

func TestHTTPNavigator_StatusIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	page, err := NewHTTPNavigator(time.Second, "").Navigate(context.Background(), Target{URL: srv.URL})
	if err != nil {
		t.Fatalf("Navigate() error: %v", err)
	}
	if page.Status != http.StatusForbidden {
		t.Errorf("Status = %d, want 403", page.Status)
	}
}

func TestHTTPNavigator_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	if _, err := NewHTTPNavigator(50*time.Millisecond, "").Navigate(context.Background(), Target{URL: srv.URL}); err == nil {
		t.Error("Navigate() of a stalled server returned no error")
	}
}

func TestHTTPNavigator_LocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	if err := os.WriteFile(path, []byte("<title>On disk</title>"), 0o644); err != nil {
		t.Fatal(err)
	}
	u := (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()

	page, err := NewHTTPNavigator(0, "").Navigate(context.Background(), Target{URL: u, LocalFile: true})
	if err != nil {
		t.Fatalf("Navigate() error: %v", err)
	}
	if page.Status != http.StatusOK || page.Title != "On disk" || !page.IsHTML() {
		t.Errorf("page = %+v", page)
	}

	if _, err := NewHTTPNavigator(0, "").Navigate(context.Background(), Target{URL: u + ".missing"}); err == nil {
		t.Error("Navigate() of a missing file returned no error")
	}
}

func TestHTTPNavigator_DecodesCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1252")
		fmt.Fprint(w, "<html><head><title>Caf\xe9 menu</title></head><body></body></html>")
	}))
	defer srv.Close()

	nav := NewHTTPNavigator(5*time.Second, "a11ycrawl-test")
	page, err := nav.Navigate(context.Background(), Target{URL: srv.URL})
	if err != nil {
		t.Fatalf("Navigate() error: %v", err)
	}
	if page.Title != "Café menu" {
		t.Errorf("Title = %q, want %q", page.Title, "Café menu")
	}
}

func TestHTTPNavigator_MaxBodySize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer srv.Close()

	tests := []struct {
		name      string
		limit     int64
		wantLen   int
		truncated bool
	}{
		{name: "under the cap", limit: 100, wantLen: 100, truncated: false},
		{name: "over the cap", limit: 40, wantLen: 40, truncated: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nav := NewHTTPNavigator(5*time.Second, "a11ycrawl-test")
			nav.MaxBodySize = tt.limit
			page, err := nav.Navigate(context.Background(), Target{URL: srv.URL})
			if err != nil {
				t.Fatalf("Navigate() error: %v", err)
			}
			if len(page.Body) != tt.wantLen || page.Truncated != tt.truncated {
				t.Errorf("body %d bytes, truncated %v; want %d, %v", len(page.Body), page.Truncated, tt.wantLen, tt.truncated)
			}
		})
	}
}
