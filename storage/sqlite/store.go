// Package sqlite implements storage.RecordStore on a single SQLite file per run.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lukemcguire/a11ycrawl/finding"
	"github.com/lukemcguire/a11ycrawl/storage"
)

// Store implements storage.RecordStore for SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.RecordStore = (*Store)(nil)

// New opens (or creates) the dataset file and runs migrations.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite dataset: %w", err)
	}
	// Writers come from many workers; one connection serializes them.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite dataset: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite dataset: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	kind        TEXT NOT NULL,
	url         TEXT NOT NULL,
	page_index  INTEGER NOT NULL DEFAULT 0,
	payload     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_kind ON records (kind);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Append stores rec as a JSON payload.
func (s *Store) Append(ctx context.Context, rec finding.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record for %s: %w", rec.URL, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (kind, url, page_index, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(rec.Kind), rec.URL, rec.PageIndex, string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert record for %s: %w", rec.URL, err)
	}
	return nil
}

// Records reads every record in insertion order. Undecodable payloads are
// reported through skip and left out.
func (s *Store) Records(ctx context.Context, skip func(id int64, err error)) ([]finding.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []finding.Record
	for rows.Next() {
		var (
			id      int64
			payload string
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		var rec finding.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			if skip != nil {
				skip(id, fmt.Errorf("%w %d: %v", storage.ErrCorruptRecord, id, err))
			}
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// appendRaw writes a payload verbatim. Tests use it to plant corrupt rows.
func (s *Store) appendRaw(ctx context.Context, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (kind, url, page_index, payload, created_at) VALUES ('html', '', 0, ?, ?)`,
		payload, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}
