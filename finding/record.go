// Package finding defines the per-page accessibility Finding Record and the
// rules that turn raw analyzer output into it.
package finding

import (
	"slices"
	"strings"
)

// Kind tells where a record came from.
type Kind string

const (
	KindHTML Kind = "html"
	KindPDF  Kind = "pdf"
)

// Phase is the analyzer phase a node was reported in.
type Phase string

const (
	PhaseViolation  Phase = "violation"
	PhaseIncomplete Phase = "incomplete"
	PhasePassed     Phase = "passed"
)

// Severity is one of the four report buckets.
type Severity string

const (
	MustFix     Severity = "mustFix"
	GoodToFix   Severity = "goodToFix"
	NeedsReview Severity = "needsReview"
	Passed      Severity = "passed"
)

// Severities lists the buckets in report order.
var Severities = []Severity{MustFix, GoodToFix, NeedsReview, Passed}

// Record is one analyzed page or PDF document. Records are written once and
// never modified.
type Record struct {
	URL       string `json:"url"`
	PageTitle string `json:"pageTitle"`
	PageIndex int    `json:"pageIndex,omitempty"` // 1-based step of an ordered flow, 0 otherwise
	FilePath  string `json:"filePath,omitempty"`
	Kind      Kind   `json:"kind"`
	Nodes     []Node `json:"nodes"`
}

// Node is one matched item of one rule on the page.
type Node struct {
	RuleID             string   `json:"ruleId"`
	Phase              Phase    `json:"phase"`
	Severity           Severity `json:"severity,omitempty"`
	Impact             string   `json:"impact,omitempty"`
	Description        string   `json:"description"`
	HelpURL            string   `json:"helpUrl,omitempty"`
	Conformance        []string `json:"conformance"`
	HTML               string   `json:"html,omitempty"`
	Message            string   `json:"message,omitempty"`
	XPath              string   `json:"xpath,omitempty"`
	Page               int      `json:"page,omitempty"`
	Context            string   `json:"context,omitempty"`
	DisplayNeedsReview bool     `json:"displayNeedsReview,omitempty"`
}

// Route decides the report bucket of a node. A severity already set on the
// node wins; otherwise incomplete nodes need review, passes are passed, and
// violations split on impact.
func Route(n Node) Severity {
	if n.Severity != "" {
		return n.Severity
	}
	switch n.Phase {
	case PhaseIncomplete:
		return NeedsReview
	case PhasePassed:
		return Passed
	}
	if n.Impact == "critical" || n.Impact == "serious" {
		return MustFix
	}
	return GoodToFix
}

var levelTags = []string{"wcag2a", "wcag2aa", "wcag2aaa"}

// IsLevelTag reports whether tag is a conformance level (wcag2a, wcag2aa or
// wcag2aaa) rather than a success criterion.
func IsLevelTag(tag string) bool {
	return slices.Contains(levelTags, tag)
}

// FilterConformance keeps wcag* and best-practice tags. When the first kept
// tag is neither a level tag nor best-practice, level tags are stably moved
// to the front.
func FilterConformance(tags []string) []string {
	kept := make([]string, 0, len(tags))
	for _, tag := range tags {
		if strings.HasPrefix(tag, "wcag") || tag == "best-practice" {
			kept = append(kept, tag)
		}
	}
	if len(kept) == 0 || kept[0] == "best-practice" || IsLevelTag(kept[0]) {
		return kept
	}
	slices.SortStableFunc(kept, func(a, b string) int {
		la, lb := IsLevelTag(a), IsLevelTag(b)
		switch {
		case la && !lb:
			return -1
		case !la && lb:
			return 1
		default:
			return 0
		}
	})
	return kept
}
