package result

import (
	"fmt"
	"io"
	"time"
)

// PrintSummary writes bucket counts and failed URLs to w. A crawl that
// scanned nothing gets a distinct message so it is not mistaken for a clean
// site.
func PrintSummary(w io.Writer, res *Result) {
	writef := func(format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

	if len(res.URLs.Scanned) == 0 {
		writef("No pages were scanned.\n")
	}

	for _, c := range res.URLs.Counts() {
		if c.Count > 0 {
			writef("  %-22s %d\n", c.Name+":", c.Count)
		}
	}

	failures := res.URLs.Failures()
	if len(failures) > 0 {
		writef("\nFailed URLs:\n")
		for i, e := range failures {
			writef("  URL: %s\n", e.URL)
			if e.Error != "" {
				writef("  Error: %s\n", e.Error)
			} else {
				writef("  Status: %d\n", e.StatusCode)
			}
			writef("  Category: %s\n", FormatCategory(e.ErrorCategory))
			if i < len(failures)-1 {
				writef("\n")
			}
		}
	}
	writef("Checked %d URLs, scanned %d pages in %s\n", res.Stats.TotalChecked, len(res.URLs.Scanned), res.Stats.Duration.Round(time.Millisecond))
}
