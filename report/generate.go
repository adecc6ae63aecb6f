package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lukemcguire/a11ycrawl/storage"
	"github.com/lukemcguire/a11ycrawl/storage/sqlite"
)

// Generate merges the finding dataset of ws and writes report.json and
// report.csv to its report directory. Corrupt records are logged and left
// out of the merge.
func Generate(ctx context.Context, ws storage.Workspace, opts Options) (rep *Report, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, statErr := os.Stat(ws.DatasetPath()); statErr != nil {
		return nil, fmt.Errorf("open finding dataset of run %s: %w", ws.Token, statErr)
	}

	store, err := sqlite.New(ctx, ws.DatasetPath())
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close finding dataset: %w", closeErr))
		}
	}()

	skipped := 0
	records, err := store.Records(ctx, func(id int64, err error) {
		skipped++
		logger.Warn("finding record skipped", zap.Int64("id", id), zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("read finding dataset: %w", err)
	}

	rep = Aggregate(records, opts)
	logger.Info("report aggregated",
		zap.String("run", ws.Token),
		zap.Int("records", len(records)),
		zap.Int("skipped", skipped),
		zap.Int("totalItems", rep.TotalItems))

	if err := os.MkdirAll(ws.ReportDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	if err := writeFile(filepath.Join(ws.ReportDir(), "report.json"), rep, WriteJSON); err != nil {
		return nil, err
	}
	if err := writeFile(filepath.Join(ws.ReportDir(), "report.csv"), rep, WriteCSV); err != nil {
		return nil, err
	}
	return rep, nil
}

func writeFile(path string, rep *Report, write func(w io.Writer, rep *Report) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", filepath.Base(path), closeErr)
		}
	}()
	return write(f, rep)
}
