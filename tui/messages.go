package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lukemcguire/a11ycrawl/crawler"
	"github.com/lukemcguire/a11ycrawl/result"
)

// CrawlProgressMsg reports the outcome of one target.
type CrawlProgressMsg struct {
	Event crawler.CrawlEvent
}

// CrawlDoneMsg signals the scan has returned.
type CrawlDoneMsg struct {
	Result *result.Result
	Err    error
}

// waitForProgress returns a tea.Cmd that reads one event from the progress
// channel. A closed channel yields nil so the done message of startCrawl is
// the only one that ends the program.
func waitForProgress(ch <-chan crawler.CrawlEvent) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return nil
		}
		return CrawlProgressMsg{Event: evt}
	}
}
