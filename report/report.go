// Package report merges the finding records of a run into one report: four
// severity buckets, rules grouped within each bucket, and the pages each
// rule was found on.
package report

import (
	"cmp"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/lukemcguire/a11ycrawl/finding"
)

// Descriptions of the four buckets as shown to readers of the report.
var categoryDescriptions = map[finding.Severity]string{
	finding.MustFix:     "Issues that need to be addressed promptly, as they create significant barriers for persons with disabilities and can prevent them from accessing essential content or features.",
	finding.GoodToFix:   "Issues that could pose certain challenges for persons with disabilities (PWDs), but are unlikely to completely hinder their access to essential content or features.",
	finding.NeedsReview: "Occurrences could potentially be false positives, requiring human validation for accuracy.",
	finding.Passed:      "Occurrences that passed the automated checks.",
}

// Report is the merged result of one run.
type Report struct {
	ScanType           string        `json:"scanType,omitempty"`
	Seed               string        `json:"seed,omitempty"`
	PagesScanned       int           `json:"pagesScanned"`
	TotalItems         int           `json:"totalItems"`
	MustFix            Bucket        `json:"mustFix"`
	GoodToFix          Bucket        `json:"goodToFix"`
	NeedsReview        Bucket        `json:"needsReview"`
	Passed             Bucket        `json:"passed"`
	TopFive            []PageSummary `json:"topFiveMostIssues"`
	WCAGViolations     []string      `json:"wcagViolations"`
	WCAGPassPercentage string        `json:"wcagPassPercentage"`
	Impact             ImpactCount   `json:"axeImpactCount"`
}

// Bucket is one severity category.
type Bucket struct {
	Description string `json:"description"`
	TotalItems  int    `json:"totalItems"`
	Rules       []Rule `json:"rules"`
}

// Rule gathers every occurrence of one rule within a bucket.
type Rule struct {
	RuleID        string   `json:"rule"`
	Description   string   `json:"description"`
	AxeImpact     string   `json:"axeImpact,omitempty"`
	HelpURL       string   `json:"helpUrl,omitempty"`
	Conformance   []string `json:"conformance"`
	TotalItems    int      `json:"totalItems"`
	PagesAffected []Page   `json:"pagesAffected"`
}

// Page is one page a rule matched on, with the matched items.
type Page struct {
	URL       string         `json:"url"`
	PageTitle string         `json:"pageTitle"`
	PageIndex int            `json:"pageIndex,omitempty"`
	FilePath  string         `json:"filePath,omitempty"`
	Items     []finding.Node `json:"items"`
}

// PageSummary ranks a page by the number of distinct rules it breaks.
type PageSummary struct {
	URL         string `json:"url"`
	PageTitle   string `json:"pageTitle"`
	PageIndex   int    `json:"pageIndex,omitempty"`
	TotalIssues int    `json:"totalIssues"`
}

// ImpactCount sums rule items by axe impact across all buckets.
type ImpactCount struct {
	Critical int `json:"critical"`
	Serious  int `json:"serious"`
	Moderate int `json:"moderate"`
	Minor    int `json:"minor"`
}

// Options labels the report and receives merge diagnostics.
type Options struct {
	ScanType string
	Seed     string
	Logger   *zap.Logger
}

// Bucket returns the bucket for severity s.
func (r *Report) Bucket(s finding.Severity) *Bucket {
	switch s {
	case finding.MustFix:
		return &r.MustFix
	case finding.GoodToFix:
		return &r.GoodToFix
	case finding.NeedsReview:
		return &r.NeedsReview
	case finding.Passed:
		return &r.Passed
	}
	return nil
}

// ruleGroup builds one Rule while keeping pages in first-seen order.
type ruleGroup struct {
	rule  Rule
	pages map[string]int // page key -> index into rule.PagesAffected
}

type bucketGroup struct {
	rules map[string]*ruleGroup
	order []string
	total int
}

// Aggregate merges records into a Report. Records are read in order and
// every sort is stable, so the same input always yields the same report.
func Aggregate(records []finding.Record, opts Options) *Report {
	groups := make(map[finding.Severity]*bucketGroup, len(finding.Severities))
	for _, s := range finding.Severities {
		groups[s] = &bucketGroup{rules: make(map[string]*ruleGroup)}
	}

	rep := &Report{ScanType: opts.ScanType, Seed: opts.Seed, PagesScanned: len(records)}
	violations := make(map[string]bool)

	for _, rec := range records {
		issues := make(map[string]bool)
		for _, n := range rec.Nodes {
			sev := finding.Route(n)
			g, ok := groups[sev]
			if !ok {
				continue
			}
			if sev != finding.Passed {
				issues[n.RuleID] = true
			}
			if sev == finding.MustFix || sev == finding.GoodToFix {
				for _, c := range n.Conformance {
					if wcagCriterion.MatchString(c) {
						violations[c] = true
					}
				}
			}
			g.add(rec, n)
		}
		rep.TopFive = append(rep.TopFive, PageSummary{
			URL:         rec.URL,
			PageTitle:   rec.PageTitle,
			PageIndex:   rec.PageIndex,
			TotalIssues: len(issues),
		})
	}

	for _, s := range finding.Severities {
		b := rep.Bucket(s)
		*b = groups[s].build()
		b.Description = categoryDescriptions[s]
		rep.TotalItems += b.TotalItems
	}

	slices.SortStableFunc(rep.TopFive, func(a, b PageSummary) int {
		return cmp.Compare(b.TotalIssues, a.TotalIssues)
	})
	if len(rep.TopFive) > 5 {
		rep.TopFive = rep.TopFive[:5]
	}

	for c := range violations {
		rep.WCAGViolations = append(rep.WCAGViolations, c)
	}
	slices.Sort(rep.WCAGViolations)
	rep.WCAGPassPercentage = PassPercentage(rep.WCAGViolations)
	rep.Impact = countImpact(rep)
	return rep
}

func (g *bucketGroup) add(rec finding.Record, n finding.Node) {
	rg, ok := g.rules[n.RuleID]
	if !ok {
		rg = &ruleGroup{
			rule: Rule{
				RuleID:      n.RuleID,
				Description: n.Description,
				AxeImpact:   n.Impact,
				HelpURL:     n.HelpURL,
				Conformance: finding.FilterConformance(n.Conformance),
			},
			pages: make(map[string]int),
		}
		g.rules[n.RuleID] = rg
		g.order = append(g.order, n.RuleID)
	}

	// Flow steps may revisit a URL, so they are told apart by step.
	key := rec.URL
	if rec.PageIndex > 0 {
		key = "#" + strconv.Itoa(rec.PageIndex)
	}
	idx, ok := rg.pages[key]
	if !ok {
		idx = len(rg.rule.PagesAffected)
		rg.pages[key] = idx
		rg.rule.PagesAffected = append(rg.rule.PagesAffected, Page{
			URL:       rec.URL,
			PageTitle: rec.PageTitle,
			PageIndex: rec.PageIndex,
			FilePath:  rec.FilePath,
		})
	}
	page := &rg.rule.PagesAffected[idx]
	page.Items = append(page.Items, n)
	rg.rule.TotalItems++
	g.total++
}

func (g *bucketGroup) build() Bucket {
	b := Bucket{TotalItems: g.total, Rules: make([]Rule, 0, len(g.order))}
	for _, id := range g.order {
		rule := g.rules[id].rule
		slices.SortStableFunc(rule.PagesAffected, func(a, b Page) int {
			return cmp.Compare(len(b.Items), len(a.Items))
		})
		b.Rules = append(b.Rules, rule)
	}
	slices.SortStableFunc(b.Rules, func(a, b Rule) int {
		return cmp.Compare(b.TotalItems, a.TotalItems)
	})
	return b
}

func countImpact(rep *Report) ImpactCount {
	var c ImpactCount
	for _, s := range finding.Severities {
		for _, rule := range rep.Bucket(s).Rules {
			switch rule.AxeImpact {
			case "critical":
				c.Critical += rule.TotalItems
			case "serious":
				c.Serious += rule.TotalItems
			case "moderate":
				c.Moderate += rule.TotalItems
			case "minor":
				c.Minor += rule.TotalItems
			}
		}
	}
	return c
}
