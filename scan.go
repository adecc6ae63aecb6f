package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/lukemcguire/a11ycrawl/browser"
	"github.com/lukemcguire/a11ycrawl/config"
	"github.com/lukemcguire/a11ycrawl/crawler"
	"github.com/lukemcguire/a11ycrawl/pdf"
	"github.com/lukemcguire/a11ycrawl/report"
	"github.com/lukemcguire/a11ycrawl/result"
	"github.com/lukemcguire/a11ycrawl/sitemap"
	"github.com/lukemcguire/a11ycrawl/storage"
	"github.com/lukemcguire/a11ycrawl/storage/sqlite"
	"github.com/lukemcguire/a11ycrawl/tui"
)

type scanFlags struct {
	configPath   string
	scanType     string
	strategy     string
	fileTypes    string
	maxPages     int
	concurrency  int
	rateLimit    int
	fixedRate    bool
	timeout      time.Duration
	userAgent    string
	retries      int
	followRobots bool
	exclusions   []string
	headers      map[string]string
	noBrowser    bool
	browserBin   string
	profileDir   string
	axeScript    string
	verapdf      string
	pdfMeta      string
	outputDir    string
	noTUI        bool
	verbose      bool
}

func newScanCmd() *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan <url|file>",
		Short: "Crawl a target and analyze every page it reaches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args[0], f)
		},
	}

	registerScanFlags(cmd.Flags(), f)
	return cmd
}

func registerScanFlags(fs *pflag.FlagSet, f *scanFlags) {
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVarP(&f.scanType, "type", "t", "website", "scan type: website, sitemap, localfile, customflow, intelligent")
	fs.StringVar(&f.strategy, "strategy", "same-domain", "link scope: same-domain or same-hostname")
	fs.StringVar(&f.fileTypes, "file-types", "all", "content to scan: all, html-only, pdf-only")
	fs.IntVarP(&f.maxPages, "max-pages", "m", 100, "page budget")
	fs.IntVar(&f.concurrency, "concurrency", 25, "number of concurrent workers")
	fs.IntVar(&f.rateLimit, "rate-limit", 10, "requests per second")
	fs.BoolVar(&f.fixedRate, "fixed-rate", false, "keep the rate limit fixed instead of adapting to response times")
	fs.DurationVar(&f.timeout, "timeout", 30*time.Second, "per-page navigation timeout")
	fs.StringVar(&f.userAgent, "user-agent", "", "user agent string")
	fs.IntVar(&f.retries, "retries", 1, "number of retries for transient errors")
	fs.BoolVar(&f.followRobots, "follow-robots", false, "honor robots.txt")
	fs.StringSliceVar(&f.exclusions, "exclude", nil, "URLs or regular expressions to skip")
	fs.StringToStringVar(&f.headers, "header", nil, "extra request header as name=value")
	fs.BoolVar(&f.noBrowser, "no-browser", false, "fetch pages over HTTP without running axe-core")
	fs.StringVar(&f.browserBin, "browser-bin", "", "Chrome/Chromium executable (default: auto-detect)")
	fs.StringVar(&f.profileDir, "profile", "", "browser profile directory for authenticated sessions")
	fs.StringVar(&f.axeScript, "axe", "", "path to axe.min.js")
	fs.StringVar(&f.verapdf, "verapdf", "verapdf", "veraPDF executable")
	fs.StringVar(&f.pdfMeta, "pdf-meta", "", "veraPDF rule severity table (JSON)")
	fs.StringVarP(&f.outputDir, "output", "o", "results", "directory that holds run directories")
	fs.BoolVar(&f.noTUI, "no-tui", false, "print plain progress instead of the terminal UI")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config, f *scanFlags) {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("type", func() { cfg.Scan.Type = f.scanType })
	set("strategy", func() { cfg.Scan.Strategy = f.strategy })
	set("file-types", func() { cfg.Scan.FileTypes = f.fileTypes })
	set("max-pages", func() { cfg.Scan.MaxPages = f.maxPages })
	set("follow-robots", func() { cfg.Scan.FollowRobots = f.followRobots })
	set("exclude", func() { cfg.Scan.Exclusions = append(cfg.Scan.Exclusions, f.exclusions...) })
	set("header", func() {
		for k, v := range f.headers {
			cfg.Scan.Headers[k] = v
		}
	})
	set("concurrency", func() { cfg.Crawl.Concurrency = f.concurrency })
	set("rate-limit", func() { cfg.Crawl.RateLimit = f.rateLimit })
	set("fixed-rate", func() { cfg.Crawl.FixedRate = f.fixedRate })
	set("timeout", func() { cfg.Crawl.RequestTimeout = config.DurationFrom(f.timeout) })
	set("user-agent", func() { cfg.Crawl.UserAgent = f.userAgent })
	set("retries", func() { cfg.Crawl.MaxRetries = f.retries })
	set("no-browser", func() { cfg.Browser.Enabled = !f.noBrowser })
	set("browser-bin", func() { cfg.Browser.Bin = f.browserBin })
	set("profile", func() { cfg.Browser.ProfileDir = f.profileDir })
	set("axe", func() { cfg.Browser.AxeScript = f.axeScript })
	set("verapdf", func() { cfg.PDF.Validator = f.verapdf })
	set("pdf-meta", func() { cfg.PDF.MetaPath = f.pdfMeta })
	set("output", func() { cfg.Output.Dir = f.outputDir })
}

func runScan(cmd *cobra.Command, target string, f *scanFlags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), cfg, f)
	if err := cfg.Validate(); err != nil {
		return err
	}
	scanType, err := crawler.ParseScanType(cfg.Scan.Type)
	if err != nil {
		return err
	}
	seed, err := crawler.SeedTarget(scanType, target)
	if err != nil {
		return err
	}

	ws, err := storage.Open(cfg.Output.Dir, storage.NewRunToken(time.Now(), target))
	if err != nil {
		return err
	}
	logger, err := newLogger(ws.LogPath(), cfg.Logging.Level, f.verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("scan starting",
		zap.String("run", ws.Token),
		zap.Stringer("type", scanType),
		zap.String("target", target),
		zap.Int("maxPages", cfg.Scan.MaxPages))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, scanErr := scanAndValidate(ctx, cfg, ws, scanType, seed, f.noTUI, logger)
	if res == nil {
		return scanErr
	}
	if errors.Is(scanErr, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Scan interrupted; reporting what was scanned.")
		scanErr = nil
	}

	// Reports are written even after an interrupt.
	rep, err := report.Generate(context.WithoutCancel(ctx), ws, report.Options{ScanType: res.ScanType, Seed: res.Seed, Logger: logger})
	if err != nil {
		return errors.Join(scanErr, err)
	}
	if err := writeCrawlResult(ws, res); err != nil {
		return errors.Join(scanErr, err)
	}

	if f.noTUI {
		result.PrintSummary(os.Stdout, res)
	}
	if len(res.URLs.Scanned) > 0 {
		fmt.Println()
		report.PrintSummary(os.Stdout, rep)
	}
	fmt.Printf("\nResults written to %s\n", ws.Dir())

	return scanErr
}

// scanAndValidate runs the crawl, then veraPDF over the documents it staged.
// Both write into the run's finding dataset, which is closed on return.
func scanAndValidate(ctx context.Context, cfg *config.Config, ws storage.Workspace, scanType crawler.ScanType, seed crawler.Target, noTUI bool, logger *zap.Logger) (res *result.Result, err error) {
	store, err := sqlite.New(ctx, ws.DatasetPath())
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, store.Close()) }()

	stager := pdf.NewStager(ws.PDFDir(), &http.Client{Timeout: cfg.Crawl.RequestTimeout.Duration})
	res, err = crawl(ctx, cfg, ws, scanType, seed, store, stager, noTUI, logger)
	if res == nil || ctx.Err() != nil {
		return res, err
	}
	if perr := processPDFs(ctx, cfg, ws, stager, store, logger); perr != nil {
		return res, errors.Join(err, perr)
	}
	return res, err
}

// crawl wires the collaborators of one scan and runs it, under the TUI
// unless noTUI is set. The result is nil only when the scan never started.
func crawl(ctx context.Context, cfg *config.Config, ws storage.Workspace, scanType crawler.ScanType, seed crawler.Target, store storage.RecordStore, stager *pdf.Stager, noTUI bool, logger *zap.Logger) (res *result.Result, err error) {
	crawlCfg, err := cfg.CrawlerConfig()
	if err != nil {
		return nil, err
	}
	crawlCfg.WorkDir = ws.Dir()
	crawlCfg.Logger = logger

	client := &http.Client{Timeout: crawlCfg.RequestTimeout}
	deps := crawler.Deps{
		Store:  store,
		Stager: stager,
		Sitemaps: &sitemap.Extractor{
			Client:    client,
			UserAgent: crawlCfg.UserAgent,
			Logger:    logger,
		},
	}
	if cfg.Scan.FollowRobots {
		robots := crawler.NewRobotsChecker(&http.Client{Timeout: 5 * time.Second})
		deps.Robots = robots
		deps.Sitemaps.Robots = robots
	}

	nav, analyzer, closeNav, err := newNavigator(ctx, cfg, crawlCfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, closeNav()) }()
	deps.Navigator = nav
	deps.Analyzer = analyzer

	var events chan crawler.CrawlEvent
	if !noTUI {
		events = make(chan crawler.CrawlEvent, 100)
		deps.Events = events
	}

	cr, err := crawler.New(crawlCfg, deps)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, cr.Close()) }()

	scanner, err := crawler.NewScanner(scanType, cr)
	if err != nil {
		return nil, err
	}
	scan := func(ctx context.Context) (*result.Result, error) {
		return scanner.Run(ctx, seed)
	}

	if noTUI {
		return scan(ctx)
	}
	return runTUI(ctx, scan, cfg.Scan.MaxPages, events)
}

// newNavigator returns the browser navigator and axe-core analyzer, or the
// plain HTTP navigator and no analyzer when the browser is disabled.
func newNavigator(ctx context.Context, cfg *config.Config, crawlCfg crawler.Config, logger *zap.Logger) (crawler.Navigator, crawler.Analyzer, func() error, error) {
	if !cfg.Browser.Enabled {
		logger.Warn("browser disabled, pages are fetched over HTTP and not analyzed")
		nav := crawler.NewHTTPNavigator(crawlCfg.RequestTimeout, crawlCfg.UserAgent)
		return nav, nil, func() error { return nil }, nil
	}

	analyzer, err := browser.LoadAxe(cfg.Browser.AxeScript, browser.AxeOptions{Tags: cfg.Browser.AxeTags})
	if err != nil {
		return nil, nil, nil, err
	}
	b, err := browser.Launch(ctx, browser.Options{
		Bin:         cfg.Browser.Bin,
		Headless:    cfg.Browser.Headless,
		NoSandbox:   cfg.Browser.NoSandbox,
		UserDataDir: cfg.Browser.ProfileDir,
		Width:       cfg.Browser.Width,
		Height:      cfg.Browser.Height,
		Timeout:     crawlCfg.RequestTimeout,
		UserAgent:   crawlCfg.UserAgent,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return b.Navigator(), analyzer, b.Close, nil
}

func runTUI(ctx context.Context, scan tui.ScanFunc, maxPages int, events <-chan crawler.CrawlEvent) (*result.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(tui.NewModel(ctx, cancel, scan, maxPages, events))
	finalModel, err := program.Run()
	if err != nil {
		return nil, fmt.Errorf("run tui: %w", err)
	}
	return finalModel.(tui.Model).GetResult()
}

// processPDFs validates the staged documents and stores their findings.
// A missing validator is fatal only when there is something to validate.
func processPDFs(ctx context.Context, cfg *config.Config, ws storage.Workspace, stager *pdf.Stager, store storage.RecordStore, logger *zap.Logger) error {
	if stager.Len() == 0 {
		return nil
	}
	validator, err := pdf.NewValidator(cfg.PDF.Validator, cfg.PDF.Profile, logger)
	if err != nil {
		return err
	}
	var meta pdf.Meta
	if cfg.PDF.MetaPath != "" {
		if meta, err = pdf.LoadMeta(cfg.PDF.MetaPath); err != nil {
			return err
		}
	}

	n, err := pdf.Process(ctx, stager, validator, ws, store, meta, logger)
	if err != nil {
		return err
	}
	logger.Info("pdf validation complete", zap.Int("documents", stager.Len()), zap.Int("records", n))
	return nil
}

// writeCrawlResult stores the crawl buckets next to the reports, as JSON
// and as one CSV row per URL.
func writeCrawlResult(ws storage.Workspace, res *result.Result) error {
	if err := writeFile(filepath.Join(ws.ReportDir(), "crawl.json"), func(w io.Writer) error {
		return result.WriteJSON(w, res)
	}); err != nil {
		return err
	}
	return writeFile(filepath.Join(ws.ReportDir(), "crawl.csv"), func(w io.Writer) error {
		return result.WriteCSV(w, res.URLs)
	})
}

func writeFile(path string, write func(io.Writer) error) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := write(fh); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}
