package finding

import (
	"fmt"
	"strings"
)

// AxeResults is the subset of an axe-core run result the crawler consumes.
type AxeResults struct {
	URL        string    `json:"url"`
	Violations []AxeRule `json:"violations"`
	Incomplete []AxeRule `json:"incomplete"`
	Passes     []AxeRule `json:"passes"`
}

// AxeRule is one rule outcome with the nodes it matched.
type AxeRule struct {
	ID          string    `json:"id"`
	Impact      string    `json:"impact"`
	Tags        []string  `json:"tags"`
	Description string    `json:"description"`
	Help        string    `json:"help"`
	HelpURL     string    `json:"helpUrl"`
	Nodes       []AxeNode `json:"nodes"`
}

// AxeNode is one DOM node matched by a rule. Target entries are selector
// strings, or nested arrays for nodes inside shadow roots and frames.
type AxeNode struct {
	HTML           string `json:"html"`
	Impact         string `json:"impact"`
	Target         []any  `json:"target"`
	FailureSummary string `json:"failureSummary"`
}

// PageInfo identifies the page an analyzer run belongs to.
type PageInfo struct {
	URL       string
	PageTitle string
	PageIndex int
}

// skippedRules never make it into a record.
var skippedRules = map[string]bool{
	"frame-tested": true,
}

// FromAxe turns an axe-core result into a Record. Each matched node becomes
// one Node routed to its bucket.
func FromAxe(res *AxeResults, page PageInfo) Record {
	title := page.PageTitle
	if page.PageIndex > 0 {
		title = fmt.Sprintf("%d: %s", page.PageIndex, page.PageTitle)
	}
	rec := Record{
		URL:       page.URL,
		PageTitle: title,
		PageIndex: page.PageIndex,
		Kind:      KindHTML,
	}
	if res == nil {
		return rec
	}

	for _, rule := range res.Violations {
		rec.Nodes = appendRule(rec.Nodes, rule, PhaseViolation)
	}
	for _, rule := range res.Incomplete {
		rec.Nodes = appendRule(rec.Nodes, rule, PhaseIncomplete)
	}
	for _, rule := range res.Passes {
		rec.Nodes = appendRule(rec.Nodes, rule, PhasePassed)
	}
	return rec
}

func appendRule(nodes []Node, rule AxeRule, phase Phase) []Node {
	if skippedRules[rule.ID] {
		return nodes
	}
	conformance := FilterConformance(rule.Tags)
	for _, an := range rule.Nodes {
		n := Node{
			RuleID:      rule.ID,
			Phase:       phase,
			Impact:      an.Impact,
			Description: rule.Help,
			HelpURL:     rule.HelpURL,
			Conformance: conformance,
			HTML:        escapeScriptClose(an.HTML),
		}
		if phase != PhasePassed {
			n.Message = an.FailureSummary
			n.XPath = singleSelector(an.Target)
		}
		if phase == PhaseIncomplete {
			n.DisplayNeedsReview = true
			n.Message = reviewMessage(an.FailureSummary)
		}
		n.Severity = Route(n)
		nodes = append(nodes, n)
	}
	return nodes
}

// reviewMessage drops the first line of an incomplete node's summary, which
// only repeats the "fix any of the following" preamble.
func reviewMessage(summary string) string {
	if idx := strings.IndexByte(summary, '\n'); idx >= 0 {
		summary = summary[idx+1:]
	}
	return strings.TrimSpace(summary)
}

func escapeScriptClose(html string) string {
	return strings.ReplaceAll(html, "</script>", "&lt;/script>")
}

func singleSelector(target []any) string {
	if len(target) != 1 {
		return ""
	}
	s, _ := target[0].(string)
	return s
}
