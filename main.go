// Package main provides the a11ycrawl CLI entrypoint.
package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "a11ycrawl",
		Short: "Crawl a site and report its accessibility issues",
		Long: `a11ycrawl crawls a website, sitemap, local file or scripted flow, runs
axe-core on every page and veraPDF on every PDF it finds, and writes an
aggregated report per run.

Example:
  a11ycrawl scan https://example.com --max-pages 50
  a11ycrawl scan ./sitemap.xml --type localfile
  a11ycrawl report 20261016_153000_example.com_1a2b3c4d`,
		SilenceUsage: true,
	}
	root.AddCommand(newScanCmd(), newReportCmd())
	return root
}

// newLogger writes JSON logs to path so the terminal stays with the TUI.
func newLogger(path, level string, verbose bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{filepath.ToSlash(path)}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
