package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrNotPDF is returned when a download does not look like a PDF document.
var ErrNotPDF = errors.New("content is not a pdf document")

// maxPDFSize bounds one download.
const maxPDFSize = 200 << 20

// IsPDFContent reports whether buf starts with the PDF header and carries an
// end-of-file marker.
func IsPDFContent(buf []byte) bool {
	return bytes.HasPrefix(buf, []byte("%PDF-")) && bytes.Contains(buf, []byte("%%EOF"))
}

// Stager downloads PDFs into the run's staging directory under random names
// and remembers which URL each file came from.
type Stager struct {
	dir    string
	client *http.Client

	mu      sync.Mutex
	mapping map[string]string // file id -> source URL
}

// NewStager stages files into dir using client for downloads.
func NewStager(dir string, client *http.Client) *Stager {
	if client == nil {
		client = http.DefaultClient
	}
	return &Stager{dir: dir, client: client, mapping: make(map[string]string)}
}

// Dir returns the staging directory.
func (s *Stager) Dir() string { return s.dir }

// Stage fetches rawURL (http(s) or file) with the given headers and writes it
// to the staging directory. It returns the staged path.
func (s *Stager) Stage(ctx context.Context, rawURL string, headers map[string]string) (string, error) {
	data, err := s.fetch(ctx, rawURL, headers)
	if err != nil {
		return "", err
	}
	return s.StageBytes(rawURL, data)
}

// StageBytes stages a document that was already downloaded from rawURL.
func (s *Stager) StageBytes(rawURL string, data []byte) (string, error) {
	if !IsPDFContent(data) {
		return "", fmt.Errorf("stage %s: %w", rawURL, ErrNotPDF)
	}

	id := uuid.NewString()
	dest := filepath.Join(s.dir, id+".pdf")
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write staged pdf %s: %w", dest, err)
	}

	s.mu.Lock()
	s.mapping[id] = rawURL
	s.mu.Unlock()
	return dest, nil
}

func (s *Stager) fetch(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse pdf URL %q: %w", rawURL, err)
	}
	if parsed.Scheme == "file" || parsed.Scheme == "" {
		data, err := os.ReadFile(parsed.Path)
		if err != nil {
			return nil, fmt.Errorf("read local pdf %s: %w", parsed.Path, err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create pdf request for %s: %w", rawURL, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download pdf %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("download pdf %s: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFSize))
	if err != nil {
		return nil, fmt.Errorf("read pdf body %s: %w", rawURL, err)
	}
	return data, nil
}

// Mapping returns a copy of the file id to URL table.
func (s *Stager) Mapping() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.mapping)
}

// Len returns the number of staged documents.
func (s *Stager) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mapping)
}
