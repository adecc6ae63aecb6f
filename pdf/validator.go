package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lukemcguire/a11ycrawl/storage"
)

// ErrValidatorMissing is fatal: PDF scanning was requested but veraPDF
// cannot be found.
var ErrValidatorMissing = errors.New("verapdf executable not found")

// ResultFileName is where the validator's JSON report is written.
const ResultFileName = "pdf-scan-results.json"

// Validator runs veraPDF over a directory of staged documents.
type Validator struct {
	executable string
	profile    string
	logger     *zap.Logger
}

// NewValidator resolves executable on PATH (or as a path) and returns a
// Validator using the given validation profile.
func NewValidator(executable, profile string, logger *zap.Logger) (*Validator, error) {
	if executable == "" {
		executable = "verapdf"
	}
	resolved, err := exec.LookPath(executable)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrValidatorMissing, executable, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{executable: resolved, profile: profile, logger: logger}, nil
}

// Validate runs veraPDF recursively over dir and writes its JSON report to
// resultPath. veraPDF exits 1 when documents are non-compliant, which is the
// normal case here and not an error.
func (v *Validator) Validate(ctx context.Context, dir, resultPath string) (*Report, error) {
	args := []string{"--format", "json", "-r", dir}
	if v.profile != "" {
		args = append([]string{"-p", v.profile}, args...)
	}

	out, err := os.Create(resultPath)
	if err != nil {
		return nil, fmt.Errorf("create pdf result file: %w", err)
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, v.executable, args...)
	cmd.Stdout = out
	v.logger.Debug("running pdf validator", zap.String("exe", v.executable), zap.Strings("args", args))

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
			return nil, fmt.Errorf("run verapdf: %w", err)
		}
	}

	if _, err := out.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("rewind pdf result file: %w", err)
	}
	return ParseReport(out)
}

// Process validates everything the stager holds and appends one record per
// document to store. It returns the number of records written. A document
// that fails validation is skipped; the batch continues.
func Process(ctx context.Context, stager *Stager, validator *Validator, ws storage.Workspace, store storage.RecordStore, meta Meta, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stager.Len() == 0 {
		return 0, nil
	}

	rep, err := validator.Validate(ctx, stager.Dir(), filepath.Join(ws.Dir(), ResultFileName))
	if err != nil {
		return 0, err
	}

	records := Transform(rep, TransformOptions{
		Mapping:  stager.Mapping(),
		Meta:     meta,
		RunToken: ws.Token,
		Logger:   logger,
	})
	written := 0
	for _, rec := range records {
		if err := store.Append(ctx, rec); err != nil {
			logger.Error("store pdf record", zap.String("url", rec.URL), zap.Error(err))
			continue
		}
		written++
	}
	logger.Info("pdf batch processed", zap.Int("documents", stager.Len()), zap.Int("records", written))
	return written, nil
}
