package pdf

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/lukemcguire/a11ycrawl/finding"
)

var clauseLevels = map[string]string{
	"2.4.9":  "wcag2aaa",
	"1.4.8":  "wcag2aaa",
	"1.3.4":  "wcag2aa",
	"1.4.3":  "wcag2aa",
	"1.4.4":  "wcag2aa",
	"1.4.10": "wcag2aa",
	"1.3.1":  "wcag2a",
	"4.1.1":  "wcag2a",
	"4.1.2":  "wcag2a",
}

// excludedTests are known false positives, keyed by clause then test number.
var excludedTests = map[string]map[int]bool{
	"1.3.4": {1: true}, // page orientation
}

// isExcluded drops AAA clauses and known false positives.
func isExcluded(rule RuleSummary) bool {
	if excludedTests[rule.Clause][rule.TestNumber] {
		return true
	}
	return clauseLevels[rule.Clause] == "wcag2aaa"
}

// Meta is the externally maintained severity table:
// specification -> clause -> test number -> {STATUS}.
type Meta map[string]map[string]map[string]MetaEntry

// MetaEntry is one row of the severity table.
type MetaEntry struct {
	Status string `json:"STATUS"`
}

// LoadMeta reads a severity table from a JSON file.
func LoadMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf error meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode pdf error meta: %w", err)
	}
	return meta, nil
}

// status returns the table status for a rule, "ignore" when unmapped.
func (m Meta) status(rule RuleSummary) string {
	entry, ok := m[rule.Specification][rule.Clause][strconv.Itoa(rule.TestNumber)]
	if !ok || entry.Status == "" {
		return "ignore"
	}
	return entry.Status
}

// Severity maps a rule onto a report bucket: critical rules must be fixed,
// everything else (error, serious, warning, ignore) is good to fix.
func (m Meta) Severity(rule RuleSummary) finding.Severity {
	if m.status(rule) == "critical" {
		return finding.MustFix
	}
	return finding.GoodToFix
}
