package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"

	"github.com/lukemcguire/a11ycrawl/crawler"
	"github.com/lukemcguire/a11ycrawl/finding"
)

// ErrNoLivePage is returned when a page was not opened by this package's
// Navigator, so there is no document to run axe-core in.
var ErrNoLivePage = errors.New("page has no live browser tab")

// runAxe resolves to the JSON-encoded axe-core result. Encoding in the page
// keeps the transfer to one string.
const runAxe = `(options) => axe.run(document, options).then((r) => JSON.stringify(r))`

// AxeAnalyzer runs axe-core inside pages opened by Navigator. It satisfies
// crawler.Analyzer.
type AxeAnalyzer struct {
	script  string
	options map[string]any
	timeout time.Duration
}

// AxeOptions narrows the rules axe-core runs.
type AxeOptions struct {
	// Tags limits the run to rules carrying one of these tags, e.g.
	// "wcag2a", "wcag2aa", "best-practice". Empty runs every rule.
	Tags    []string
	Timeout time.Duration
}

// axeCandidates are tried, relative to the working directory, when no
// script path is configured.
var axeCandidates = []string{
	"axe.min.js",
	filepath.Join("node_modules", "axe-core", "axe.min.js"),
}

// LoadAxe reads the axe-core bundle (axe.min.js) at path. An empty path
// looks for axe.min.js in the working directory, then in node_modules.
func LoadAxe(path string, opts AxeOptions) (*AxeAnalyzer, error) {
	if path == "" {
		for _, candidate := range axeCandidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return nil, errors.New("axe-core script not found: install axe-core or pass its path")
		}
	}
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read axe-core script: %w", err)
	}
	return NewAxeAnalyzer(string(script), opts), nil
}

// NewAxeAnalyzer returns an analyzer injecting script into each page.
func NewAxeAnalyzer(script string, opts AxeOptions) *AxeAnalyzer {
	runOptions := map[string]any{
		"resultTypes": []string{"violations", "incomplete", "passes"},
	}
	if len(opts.Tags) > 0 {
		runOptions["runOnly"] = map[string]any{"type": "tag", "values": opts.Tags}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	return &AxeAnalyzer{script: script, options: runOptions, timeout: opts.Timeout}
}

// Analyze injects axe-core into p's tab and returns its findings.
func (a *AxeAnalyzer) Analyze(ctx context.Context, p *crawler.Page) (*finding.AxeResults, error) {
	tab, ok := p.Handle.(*rod.Page)
	if !ok || tab == nil {
		return nil, ErrNoLivePage
	}
	tab = tab.Context(ctx).Timeout(a.timeout)
	defer tab.CancelTimeout()

	if err := tab.AddScriptTag("", a.script); err != nil {
		return nil, fmt.Errorf("inject axe-core: %w", err)
	}
	obj, err := tab.Eval(runAxe, a.options)
	if err != nil {
		return nil, fmt.Errorf("run axe-core: %w", err)
	}
	return decodeAxe(obj.Value.Str())
}

func decodeAxe(raw string) (*finding.AxeResults, error) {
	var res finding.AxeResults
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("decode axe-core result: %w", err)
	}
	return &res, nil
}
