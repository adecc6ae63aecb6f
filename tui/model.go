// Package tui provides the Bubble Tea terminal UI for a11ycrawl, displaying
// live crawl progress and a styled summary of the crawl buckets.
package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lukemcguire/a11ycrawl/crawler"
	"github.com/lukemcguire/a11ycrawl/result"
)

// ScanFunc runs a scan to completion. It must stop promptly once ctx is
// cancelled.
type ScanFunc func(ctx context.Context) (*result.Result, error)

// Model is the Bubble Tea model for the crawl TUI.
type Model struct {
	ctx        context.Context
	cancel     context.CancelFunc
	scan       ScanFunc
	maxPages   int
	spinner    spinner.Model
	bar        progress.Model
	progressCh <-chan crawler.CrawlEvent

	checked  int
	scanned  int
	failed   int
	current  string
	stopping bool
	done     bool
	result   *result.Result
	err      error
	width    int
}

// NewModel creates a TUI model that runs scan and follows its progress
// events. maxPages scales the progress bar.
func NewModel(ctx context.Context, cancel context.CancelFunc, scan ScanFunc, maxPages int, progressCh <-chan crawler.CrawlEvent) Model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{
		ctx:        ctx,
		cancel:     cancel,
		scan:       scan,
		maxPages:   maxPages,
		spinner:    spin,
		bar:        progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		progressCh: progressCh,
	}
}

// Init starts the spinner, scan, and progress listener concurrently.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startCrawl(), waitForProgress(m.progressCh))
}

// startCrawl returns a tea.Cmd that runs the scan and sends CrawlDoneMsg.
func (m Model) startCrawl() tea.Cmd {
	return func() tea.Msg {
		res, err := m.scan(m.ctx)
		return CrawlDoneMsg{Result: res, Err: err}
	}
}

// Update handles messages from the Bubble Tea runtime.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// Workers still report while they wind down, so keep reading
			// events until the scan returns.
			m.stopping = true
			m.cancel()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case CrawlProgressMsg:
		evt := msg.Event
		m.checked = evt.Checked
		m.scanned = evt.Scanned
		m.current = evt.URL
		if isFailure(evt.Outcome) {
			m.failed++
		}
		return m, waitForProgress(m.progressCh)

	case CrawlDoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func isFailure(outcome string) bool {
	switch outcome {
	case crawler.BucketInvalid.String(), crawler.BucketForbidden.String(), crawler.BucketError.String():
		return true
	}
	return false
}

// View renders the current TUI state.
func (m Model) View() string {
	if m.done {
		out := ""
		if m.result != nil {
			out = RenderSummary(m.result)
		}
		if m.err != nil {
			out += errorStyle.Render("Error: "+m.err.Error()) + "\n"
		}
		return out
	}

	status := "Crawling..."
	if m.stopping {
		status = "Stopping..."
	}
	view := fmt.Sprintf("%s %s checked %d, scanned %d, failed %d\n",
		m.spinner.View(), status, m.checked, m.scanned, m.failed)
	if m.maxPages > 0 {
		view += "  " + m.bar.ViewAs(min(float64(m.scanned)/float64(m.maxPages), 1)) + "\n"
	}
	return view + dimStyle.Render("  "+m.current) + "\n"
}

// Scanned reports whether the scan analyzed at least one page.
func (m Model) Scanned() bool {
	return m.result != nil && len(m.result.URLs.Scanned) > 0
}

// GetResult returns the scan result and error once the scan has returned.
func (m Model) GetResult() (*result.Result, error) {
	return m.result, m.err
}
