package result

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// WriteJSON writes the scan result as indented JSON.
func WriteJSON(w io.Writer, res *Result) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write json output: %w", err)
	}
	return nil
}

// WriteCSV writes one row per bucketed URL. A header row is always written.
// Column order: bucket, url, actual_url, status_code, error_type, detail
func WriteCSV(w io.Writer, urls URLsCrawled) error {
	cw := csv.NewWriter(w)

	header := []string{"bucket", "url", "actual_url", "status_code", "error_type", "detail"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	var rows [][]string
	for _, p := range urls.Scanned {
		rows = append(rows, []string{"scanned", p.URL, p.ActualURL, "", "", p.PageTitle})
	}
	for _, r := range urls.ScannedRedirects {
		rows = append(rows, []string{"scannedRedirects", r.FromURL, r.ToURL, "", "", ""})
	}
	for _, r := range urls.NotScannedRedirects {
		rows = append(rows, []string{"notScannedRedirects", r.FromURL, r.ToURL, "", "", ""})
	}
	entryBuckets := []struct {
		name    string
		entries []Entry
	}{
		{"invalid", urls.Invalid},
		{"forbidden", urls.Forbidden},
		{"blacklisted", urls.Blacklisted},
		{"outOfDomain", urls.OutOfDomain},
		{"userExcluded", urls.UserExcluded},
		{"error", urls.Error},
	}
	for _, b := range entryBuckets {
		for _, e := range b.entries {
			rows = append(rows, []string{b.name, e.URL, "", statusCodeStr(e.StatusCode), string(e.ErrorCategory), e.Error})
		}
	}

	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv record for %s: %w", row[1], err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv output: %w", err)
	}
	return nil
}

// statusCodeStr converts an HTTP status code to a string.
// Returns empty string for 0 (no HTTP status).
func statusCodeStr(code int) string {
	if code == 0 {
		return ""
	}
	return strconv.Itoa(code)
}
