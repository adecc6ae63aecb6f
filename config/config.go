// Package config loads scan settings from an optional YAML file, a .env
// file and A11YCRAWL_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lukemcguire/a11ycrawl/crawler"
	"github.com/lukemcguire/a11ycrawl/urlutil"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "A11YCRAWL_"

// Config is everything a scan needs besides its target.
type Config struct {
	Scan    ScanConfig    `yaml:"scan"`
	Crawl   CrawlConfig   `yaml:"crawl"`
	Browser BrowserConfig `yaml:"browser"`
	PDF     PDFConfig     `yaml:"pdf"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`
}

// ScanConfig selects what is scanned.
type ScanConfig struct {
	Type         string            `yaml:"type"`
	Strategy     string            `yaml:"strategy"`
	FileTypes    string            `yaml:"file_types"`
	MaxPages     int               `yaml:"max_pages"`
	FollowRobots bool              `yaml:"follow_robots"`
	Exclusions   []string          `yaml:"exclusions"`
	Headers      map[string]string `yaml:"headers"`
}

// CrawlConfig tunes the worker pool and its throttling.
type CrawlConfig struct {
	Concurrency    int      `yaml:"concurrency"`
	RequestTimeout Duration `yaml:"request_timeout"`
	RateLimit      int      `yaml:"rate_limit"`
	TargetRTT      Duration `yaml:"target_rtt"`
	FixedRate      bool     `yaml:"fixed_rate"`
	UserAgent      string   `yaml:"user_agent"`
	MaxRetries     int      `yaml:"max_retries"`
	RetryDelay     Duration `yaml:"retry_delay"`
	MemoryLimitMB  int64    `yaml:"memory_limit_mb"`
}

// BrowserConfig controls the headless browser. When disabled, pages are
// fetched over plain HTTP and no axe-core analysis runs.
type BrowserConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Bin        string   `yaml:"bin"`
	Headless   bool     `yaml:"headless"`
	NoSandbox  bool     `yaml:"no_sandbox"`
	ProfileDir string   `yaml:"profile_dir"`
	Width      int      `yaml:"width"`
	Height     int      `yaml:"height"`
	AxeScript  string   `yaml:"axe_script"`
	AxeTags    []string `yaml:"axe_tags"`
}

// PDFConfig locates the veraPDF validator and its severity table.
type PDFConfig struct {
	Validator string `yaml:"validator"`
	Profile   string `yaml:"profile"`
	MetaPath  string `yaml:"meta_path"`
}

// OutputConfig says where run directories go.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig selects log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config populated with the defaults of a website scan.
func Default() Config {
	return Config{
		Scan: ScanConfig{
			Type:      "website",
			Strategy:  "same-domain",
			FileTypes: "all",
			MaxPages:  100,
			Headers:   make(map[string]string),
		},
		Crawl: CrawlConfig{
			Concurrency:    25,
			RequestTimeout: DurationFrom(30 * time.Second),
			RateLimit:      10,
			TargetRTT:      DurationFrom(3 * time.Second),
			UserAgent:      "a11ycrawl/1.0 (+https://github.com/lukemcguire/a11ycrawl)",
			MaxRetries:     1,
			RetryDelay:     DurationFrom(500 * time.Millisecond),
		},
		Browser: BrowserConfig{
			Enabled:  true,
			Headless: true,
			Width:    1280,
			Height:   720,
		},
		PDF: PDFConfig{
			Validator: "verapdf",
			Profile:   "WCAG-2-1",
		},
		Output:  OutputConfig{Dir: "results"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then .env, then the environment. The result is
// validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fh, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer fh.Close()
		if err := decodeYAML(fh, &cfg); err != nil {
			return nil, err
		}
	}

	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromReader decodes a YAML configuration over the defaults without
// consulting the environment.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from A11YCRAWL_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}

	env.setString("SCAN_TYPE", &c.Scan.Type)
	env.setString("STRATEGY", &c.Scan.Strategy)
	env.setString("FILE_TYPES", &c.Scan.FileTypes)
	env.setInt("MAX_PAGES", &c.Scan.MaxPages)
	env.setBool("FOLLOW_ROBOTS", &c.Scan.FollowRobots)
	env.setList("EXCLUSIONS", &c.Scan.Exclusions)

	env.setInt("CONCURRENCY", &c.Crawl.Concurrency)
	env.setDuration("REQUEST_TIMEOUT", &c.Crawl.RequestTimeout)
	env.setInt("RATE_LIMIT", &c.Crawl.RateLimit)
	env.setBool("FIXED_RATE", &c.Crawl.FixedRate)
	env.setString("USER_AGENT", &c.Crawl.UserAgent)
	env.setInt("MAX_RETRIES", &c.Crawl.MaxRetries)
	env.setInt64("MEMORY_LIMIT_MB", &c.Crawl.MemoryLimitMB)

	env.setBool("BROWSER", &c.Browser.Enabled)
	env.setString("BROWSER_BIN", &c.Browser.Bin)
	env.setBool("HEADLESS", &c.Browser.Headless)
	env.setBool("NO_SANDBOX", &c.Browser.NoSandbox)
	env.setString("PROFILE_DIR", &c.Browser.ProfileDir)
	env.setString("AXE_SCRIPT", &c.Browser.AxeScript)

	env.setString("VERAPDF", &c.PDF.Validator)
	env.setString("VERAPDF_PROFILE", &c.PDF.Profile)
	env.setString("PDF_META", &c.PDF.MetaPath)

	env.setString("OUTPUT_DIR", &c.Output.Dir)
	env.setString("LOG_LEVEL", &c.Logging.Level)

	return errors.Join(env.errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	return strings.TrimSpace(v), ok
}

func (e *envReader) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, key, value, err))
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setInt64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *Duration) {
	if v, ok := e.get(key); ok {
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			e.fail(key, v, err)
		}
	}
}

func (e *envReader) setList(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}

func (c *Config) normalise() {
	c.Scan.Type = strings.TrimSpace(c.Scan.Type)
	c.Scan.Strategy = strings.TrimSpace(c.Scan.Strategy)
	c.Crawl.UserAgent = strings.TrimSpace(c.Crawl.UserAgent)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Scan.Headers == nil {
		c.Scan.Headers = make(map[string]string)
	}
}

// Validate rejects settings the crawler cannot run with.
func (c Config) Validate() error {
	if _, err := crawler.ParseScanType(c.Scan.Type); err != nil {
		return fmt.Errorf("scan.type: %w", err)
	}
	if _, err := urlutil.ParseStrategy(c.Scan.Strategy); err != nil {
		return fmt.Errorf("scan.strategy: %w", err)
	}
	if _, err := crawler.ParseFileTypes(c.Scan.FileTypes); err != nil {
		return fmt.Errorf("scan.file_types: %w", err)
	}
	if _, err := urlutil.NewExclusions(c.Scan.Exclusions); err != nil {
		return fmt.Errorf("scan.exclusions: %w", err)
	}
	if c.Scan.MaxPages <= 0 {
		return fmt.Errorf("scan.max_pages must be > 0 (got %d)", c.Scan.MaxPages)
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0 (got %d)", c.Crawl.Concurrency)
	}
	if c.Crawl.RateLimit <= 0 {
		return fmt.Errorf("crawl.rate_limit must be > 0 (got %d)", c.Crawl.RateLimit)
	}
	if c.Crawl.MaxRetries < 0 {
		return fmt.Errorf("crawl.max_retries must be >= 0 (got %d)", c.Crawl.MaxRetries)
	}
	if c.Crawl.RequestTimeout.Duration <= 0 {
		return errors.New("crawl.request_timeout must be positive")
	}
	if c.Crawl.UserAgent == "" {
		return errors.New("crawl.user_agent must be set")
	}
	if c.Browser.Enabled && (c.Browser.Width <= 0 || c.Browser.Height <= 0) {
		return fmt.Errorf("browser viewport must be positive (got %dx%d)", c.Browser.Width, c.Browser.Height)
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return errors.New("output.dir must be set")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// CrawlerConfig translates c into the crawler's settings. Exclusions and
// strategy were checked by Validate.
func (c Config) CrawlerConfig() (crawler.Config, error) {
	strategy, err := urlutil.ParseStrategy(c.Scan.Strategy)
	if err != nil {
		return crawler.Config{}, err
	}
	fileTypes, err := crawler.ParseFileTypes(c.Scan.FileTypes)
	if err != nil {
		return crawler.Config{}, err
	}
	exclusions, err := urlutil.NewExclusions(c.Scan.Exclusions)
	if err != nil {
		return crawler.Config{}, err
	}
	return crawler.Config{
		Concurrency:    c.Crawl.Concurrency,
		MaxPages:       c.Scan.MaxPages,
		RequestTimeout: c.Crawl.RequestTimeout.Duration,
		RateLimit:      c.Crawl.RateLimit,
		TargetRTT:      c.Crawl.TargetRTT.Duration,
		FixedRate:      c.Crawl.FixedRate,
		UserAgent:      c.Crawl.UserAgent,
		Strategy:       strategy,
		FollowRobots:   c.Scan.FollowRobots,
		FileTypes:      fileTypes,
		Exclusions:     exclusions,
		Headers:        c.Scan.Headers,
		RetryPolicy: crawler.RetryPolicy{
			MaxRetries: c.Crawl.MaxRetries,
			BaseDelay:  c.Crawl.RetryDelay.Duration,
			MaxDelay:   30 * time.Second,
		},
		MemoryLimitMB: c.Crawl.MemoryLimitMB,
	}, nil
}
