package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/lukemcguire/a11ycrawl/result"
)

var (
	titleStyle       = lipgloss.NewStyle().Bold(true)
	successStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warnStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	errorStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	headerStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	categoryStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	dimStyle         = lipgloss.NewStyle().Faint(true)
	urlStyle         = lipgloss.NewStyle()
	statusErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// categoryOrder is the display order for failure categories, most to least
// actionable.
var categoryOrder = []result.ErrorCategory{
	result.CategoryAuthRequired,
	result.CategoryForbidden,
	result.CategoryHTTPStatus,
	result.CategoryTimeout,
	result.CategoryDNSFailure,
	result.CategoryConnectionRefused,
	result.CategoryTransientNetwork,
	result.CategoryUnknown,
}

// RenderSummary produces a Lip Gloss styled summary of a scan.
func RenderSummary(res *result.Result) string {
	if res == nil {
		return errorStyle.Render("No results available.")
	}

	var builder strings.Builder

	if len(res.URLs.Scanned) == 0 {
		builder.WriteString(warnStyle.Render("No pages were scanned."))
	} else {
		builder.WriteString(successStyle.Render(fmt.Sprintf("Scanned %d pages", len(res.URLs.Scanned))))
	}
	builder.WriteString("\n\n")

	counts := make([][]string, 0, 9)
	for _, c := range res.URLs.Counts() {
		if c.Count > 0 {
			counts = append(counts, []string{c.Name, fmt.Sprintf("%d", c.Count)})
		}
	}
	if len(counts) > 0 {
		builder.WriteString(table.New().
			Border(lipgloss.RoundedBorder()).
			Headers("Bucket", "URLs").
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return urlStyle
			}).
			Rows(counts...).
			Render())
		builder.WriteString("\n\n")
	}

	grouped := make(map[result.ErrorCategory][]result.Entry)
	for _, e := range res.URLs.Failures() {
		cat := e.ErrorCategory
		if !slices.Contains(categoryOrder, cat) {
			cat = result.CategoryUnknown
		}
		grouped[cat] = append(grouped[cat], e)
	}

	for _, cat := range categoryOrder {
		entries := grouped[cat]
		if len(entries) == 0 {
			continue
		}

		builder.WriteString(categoryStyle.Render(fmt.Sprintf("## %s (%d)", result.FormatCategory(cat), len(entries))))
		builder.WriteString("\n")

		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			status := fmt.Sprintf("%d", e.StatusCode)
			if e.Error != "" {
				status = e.Error
			}
			rows = append(rows, []string{e.URL, status})
		}

		catTable := table.New().
			Border(lipgloss.RoundedBorder()).
			Headers("URL", "Status").
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				if col == 1 {
					return statusErrorStyle
				}
				return urlStyle
			}).
			Rows(rows...)

		builder.WriteString(catTable.Render())
		builder.WriteString("\n\n")
	}

	builder.WriteString(titleStyle.Render(fmt.Sprintf(
		"Checked %d URLs, %d failed (%s)",
		res.Stats.TotalChecked,
		len(res.URLs.Failures()),
		res.Stats.Duration.Round(time.Millisecond),
	)))
	builder.WriteString("\n")

	return builder.String()
}
