// Package storage lays out the per-run directory and defines the append-only
// finding dataset every scan writes to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lukemcguire/a11ycrawl/finding"
)

// ErrCorruptRecord marks a stored record that could not be decoded.
var ErrCorruptRecord = errors.New("corrupt finding record")

// RecordStore is the append-only finding dataset of one run.
type RecordStore interface {
	// Append writes one record. Records are never updated.
	Append(ctx context.Context, rec finding.Record) error
	// Records returns every readable record in write order. Records that fail
	// to decode are passed to skip (when non-nil) and left out.
	Records(ctx context.Context, skip func(id int64, err error)) ([]finding.Record, error)
	Close() error
}

// Workspace is the directory owned by one run token.
type Workspace struct {
	Root  string
	Token string
}

// NewRunToken builds a token from the scan time, the target host and a
// random suffix, e.g. 20261016_153000_example.com_1a2b3c4d.
func NewRunToken(now time.Time, target string) string {
	host := "local"
	if parsed, err := url.Parse(target); err == nil && parsed.Hostname() != "" {
		host = parsed.Hostname()
	}
	host = strings.NewReplacer(":", "_", "/", "_").Replace(host)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", now.Format("20060102_150405"), host, suffix)
}

// Open returns the workspace for token under root, creating its
// directories. Failure to create them is fatal for a run.
func Open(root, token string) (Workspace, error) {
	ws := Workspace{Root: root, Token: token}
	for _, dir := range []string{ws.Dir(), ws.PDFDir(), ws.ReportDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Workspace{}, fmt.Errorf("create run directory %s: %w", dir, err)
		}
	}
	return ws, nil
}

// Dir is the run directory.
func (w Workspace) Dir() string { return filepath.Join(w.Root, w.Token) }

// DatasetPath is the SQLite file holding the finding records.
func (w Workspace) DatasetPath() string { return filepath.Join(w.Dir(), "findings.db") }

// PDFDir is the staging area for downloaded PDFs.
func (w Workspace) PDFDir() string { return filepath.Join(w.Dir(), "pdfs") }

// ReportDir receives report artifacts after the merge.
func (w Workspace) ReportDir() string { return filepath.Join(w.Dir(), "reports") }

// LogPath is the structured log of the run.
func (w Workspace) LogPath() string { return filepath.Join(w.Dir(), "crawl.log") }
