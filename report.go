package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lukemcguire/a11ycrawl/report"
	"github.com/lukemcguire/a11ycrawl/result"
	"github.com/lukemcguire/a11ycrawl/storage"
)

func newReportCmd() *cobra.Command {
	var outputDir string
	var verbose bool
	cmd := &cobra.Command{
		Use:   "report <runToken>",
		Short: "Regenerate the reports of a finished run from its finding dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, storage.Workspace{Root: outputDir, Token: args[0]}, verbose)
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "results", "directory that holds run directories")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func runReport(cmd *cobra.Command, ws storage.Workspace, verbose bool) error {
	if _, err := os.Stat(ws.Dir()); err != nil {
		return fmt.Errorf("run %s: %w", ws.Token, err)
	}
	logger, err := newLogger(ws.LogPath(), "info", verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	opts := report.Options{Logger: logger}
	if crawled, err := readCrawlResult(ws); err == nil {
		opts.ScanType, opts.Seed = crawled.ScanType, crawled.Seed
	} else if !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("crawl.json unreadable", zap.Error(err))
	}

	rep, err := report.Generate(cmd.Context(), ws, opts)
	if err != nil {
		return err
	}
	report.PrintSummary(cmd.OutOrStdout(), rep)
	fmt.Fprintf(cmd.OutOrStdout(), "\nReports written to %s\n", ws.ReportDir())
	return nil
}

// readCrawlResult loads the crawl outcome a scan left in its report
// directory.
func readCrawlResult(ws storage.Workspace) (*result.Result, error) {
	data, err := os.ReadFile(filepath.Join(ws.ReportDir(), "crawl.json"))
	if err != nil {
		return nil, err
	}
	var res result.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode crawl.json: %w", err)
	}
	return &res, nil
}
