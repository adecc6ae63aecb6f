package report

import (
	"cmp"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/lukemcguire/a11ycrawl/finding"
)

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("write report json: %w", err)
	}
	return nil
}

var issueColumns = []string{
	"severity", "issueId", "issueDescription", "wcagConformance", "url",
	"context", "howToFix", "axeImpact", "xpath", "learnMore",
}

// WriteCSV writes one row per matched item of every issue; passed checks
// are left out. Rows are ordered by severity (needsReview, mustFix,
// goodToFix), then rule id, then page URL.
func WriteCSV(w io.Writer, rep *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(issueColumns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	type categorized struct {
		severity finding.Severity
		rule     Rule
	}
	var rules []categorized
	for _, s := range []finding.Severity{finding.MustFix, finding.GoodToFix, finding.NeedsReview} {
		for _, r := range rep.Bucket(s).Rules {
			rules = append(rules, categorized{s, r})
		}
	}
	slices.SortStableFunc(rules, func(a, b categorized) int {
		if c := cmp.Compare(b.severity, a.severity); c != 0 {
			return c
		}
		return cmp.Compare(a.rule.RuleID, b.rule.RuleID)
	})

	for _, cr := range rules {
		r := cr.rule
		conformance := strings.Join(slices.DeleteFunc(slices.Clone(r.Conformance), finding.IsLevelTag), ",")
		pages := slices.Clone(r.PagesAffected)
		slices.SortStableFunc(pages, func(a, b Page) int { return cmp.Compare(a.URL, b.URL) })

		for _, p := range pages {
			for _, item := range p.Items {
				context := item.HTML
				if context == "" {
					context = formatPage(item.Page)
				}
				row := []string{
					string(cr.severity),
					r.RuleID,
					r.Description,
					conformance,
					p.URL,
					stripNewlines(context, ""),
					stripNewlines(item.Message, " "),
					r.AxeImpact,
					item.XPath,
					r.HelpURL,
				}
				if err := cw.Write(row); err != nil {
					return fmt.Errorf("write csv row for %s: %w", r.RuleID, err)
				}
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv output: %w", err)
	}
	return nil
}

// formatPage names the PDF page an item was found on. Items that could not
// be placed on a page belong to the whole document.
func formatPage(page int) string {
	if page < 1 {
		return "Document"
	}
	return fmt.Sprintf("Page %d", page)
}

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func stripNewlines(s, with string) string {
	return strings.ReplaceAll(newlines.Replace(s), "\n", with)
}

// PrintSummary writes the issue and occurrence counts of each bucket.
func PrintSummary(w io.Writer, rep *Report) {
	writef := func(format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

	writef("Scan Summary\n\n")
	for _, row := range []struct {
		name string
		b    Bucket
	}{
		{"Must Fix", rep.MustFix},
		{"Good to Fix", rep.GoodToFix},
		{"Needs Review", rep.NeedsReview},
	} {
		writef("%s: %s / %s\n", row.name,
			plural(len(row.b.Rules), "issue", "issues"),
			plural(row.b.TotalItems, "occurrence", "occurrences"))
	}
	writef("Passed: %s\n", plural(rep.Passed.TotalItems, "occurrence", "occurrences"))
	writef("WCAG pass percentage: %s%%\n", rep.WCAGPassPercentage)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
