package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/lukemcguire/a11ycrawl/finding"
)

func node(rule string, phase finding.Phase, impact string, tags ...string) finding.Node {
	n := finding.Node{
		RuleID:      rule,
		Phase:       phase,
		Impact:      impact,
		Description: rule + " description",
		HelpURL:     "https://dequeuniversity.com/rules/axe/4.9/" + rule,
		Conformance: tags,
		HTML:        "<div>" + rule + "</div>",
	}
	return n
}

func TestAggregate_SameRuleSplitsBySeverity(t *testing.T) {
	records := []finding.Record{{
		URL:       "https://example.com/",
		PageTitle: "Home",
		Nodes: []finding.Node{
			node("color-contrast", finding.PhaseViolation, "critical", "wcag2aa", "wcag143"),
			node("color-contrast", finding.PhaseViolation, "moderate", "wcag2aa", "wcag143"),
		},
	}}

	rep := Aggregate(records, Options{})

	if rep.MustFix.TotalItems != 1 || rep.GoodToFix.TotalItems != 1 {
		t.Fatalf("mustFix %d, goodToFix %d, want 1 and 1", rep.MustFix.TotalItems, rep.GoodToFix.TotalItems)
	}
	if len(rep.MustFix.Rules) != 1 || len(rep.GoodToFix.Rules) != 1 {
		t.Fatalf("rules = %d and %d, want one in each", len(rep.MustFix.Rules), len(rep.GoodToFix.Rules))
	}
	if rep.MustFix.Rules[0].AxeImpact != "critical" || rep.GoodToFix.Rules[0].AxeImpact != "moderate" {
		t.Errorf("impacts = %q, %q", rep.MustFix.Rules[0].AxeImpact, rep.GoodToFix.Rules[0].AxeImpact)
	}
}

func TestAggregate_Routing(t *testing.T) {
	records := []finding.Record{{
		URL: "https://example.com/",
		Nodes: []finding.Node{
			node("image-alt", finding.PhaseViolation, "serious", "wcag2a", "wcag111"),
			node("region", finding.PhaseViolation, "minor", "best-practice"),
			node("aria-valid-attr", finding.PhaseIncomplete, "critical", "wcag2a", "wcag412"),
			node("html-has-lang", finding.PhasePassed, "", "wcag2a", "wcag311"),
			{RuleID: "pdf-WCAG2.1-1.1.1-1", Severity: finding.MustFix, Phase: finding.PhaseViolation},
		},
	}}

	rep := Aggregate(records, Options{})

	tests := []struct {
		bucket finding.Severity
		rules  []string
	}{
		{finding.MustFix, []string{"image-alt", "pdf-WCAG2.1-1.1.1-1"}},
		{finding.GoodToFix, []string{"region"}},
		{finding.NeedsReview, []string{"aria-valid-attr"}},
		{finding.Passed, []string{"html-has-lang"}},
	}
	for _, tt := range tests {
		var got []string
		for _, r := range rep.Bucket(tt.bucket).Rules {
			got = append(got, r.RuleID)
		}
		if !slices.Equal(got, tt.rules) {
			t.Errorf("%s rules = %v, want %v", tt.bucket, got, tt.rules)
		}
	}
}

// TestAggregate_Conservation checks that every node lands in exactly one
// bucket, rule and page.
func TestAggregate_Conservation(t *testing.T) {
	var records []finding.Record
	phases := []finding.Phase{finding.PhaseViolation, finding.PhaseIncomplete, finding.PhasePassed}
	impacts := []string{"critical", "serious", "moderate", "minor", ""}
	fed := 0
	for p := range 7 {
		rec := finding.Record{URL: fmt.Sprintf("https://example.com/%d", p)}
		for i := range 3 + p {
			rec.Nodes = append(rec.Nodes, node(fmt.Sprintf("rule-%d", i%4), phases[(p+i)%3], impacts[(p*i)%5], "wcag2a"))
			fed++
		}
		records = append(records, rec)
	}

	rep := Aggregate(records, Options{})

	total := 0
	for _, s := range finding.Severities {
		b := rep.Bucket(s)
		ruleSum := 0
		for _, r := range b.Rules {
			pageSum := 0
			for _, p := range r.PagesAffected {
				pageSum += len(p.Items)
			}
			if pageSum != r.TotalItems {
				t.Errorf("%s/%s: pages hold %d items, rule says %d", s, r.RuleID, pageSum, r.TotalItems)
			}
			ruleSum += r.TotalItems
		}
		if ruleSum != b.TotalItems {
			t.Errorf("%s: rules hold %d items, bucket says %d", s, ruleSum, b.TotalItems)
		}
		total += b.TotalItems
	}
	if total != fed || rep.TotalItems != fed {
		t.Errorf("aggregated %d (report %d) of %d nodes", total, rep.TotalItems, fed)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	records := []finding.Record{
		{URL: "https://example.com/a", Nodes: []finding.Node{
			node("label", finding.PhaseViolation, "critical", "wcag2a", "wcag412"),
			node("list", finding.PhaseViolation, "serious", "wcag2a", "wcag131"),
		}},
		{URL: "https://example.com/b", Nodes: []finding.Node{
			node("list", finding.PhaseViolation, "serious", "wcag2a", "wcag131"),
			node("label", finding.PhaseViolation, "critical", "wcag2a", "wcag412"),
		}},
	}

	render := func() []byte {
		var buf bytes.Buffer
		rep := Aggregate(records, Options{ScanType: "website", Seed: "https://example.com/"})
		if err := WriteJSON(&buf, rep); err != nil {
			t.Fatal(err)
		}
		if err := WriteCSV(&buf, rep); err != nil {
			t.Fatal(err)
		}
		return buf.Bytes()
	}
	if first, second := render(), render(); !bytes.Equal(first, second) {
		t.Error("aggregating the same records twice gave different output")
	}
}

func TestAggregate_Ordering(t *testing.T) {
	records := []finding.Record{
		{URL: "https://example.com/a", Nodes: []finding.Node{
			node("few", finding.PhaseViolation, "serious"),
			node("many", finding.PhaseViolation, "serious"),
		}},
		{URL: "https://example.com/b", Nodes: []finding.Node{
			node("many", finding.PhaseViolation, "serious"),
			node("many", finding.PhaseViolation, "serious"),
		}},
	}

	rules := Aggregate(records, Options{}).MustFix.Rules
	if rules[0].RuleID != "many" || rules[0].TotalItems != 3 {
		t.Fatalf("first rule = %s (%d items), want many (3)", rules[0].RuleID, rules[0].TotalItems)
	}
	pages := rules[0].PagesAffected
	if pages[0].URL != "https://example.com/b" || len(pages[0].Items) != 2 {
		t.Errorf("first page = %s with %d items, want /b with 2", pages[0].URL, len(pages[0].Items))
	}
}

func TestAggregate_FlowPagesKeyedByStep(t *testing.T) {
	records := []finding.Record{
		{URL: "https://shop.example.com/", PageTitle: "1: Home", PageIndex: 1, Nodes: []finding.Node{node("label", finding.PhaseViolation, "critical")}},
		{URL: "https://shop.example.com/cart", PageTitle: "2: Cart", PageIndex: 2, Nodes: []finding.Node{node("label", finding.PhaseViolation, "critical")}},
		{URL: "https://shop.example.com/", PageTitle: "3: Home again", PageIndex: 3, Nodes: []finding.Node{node("label", finding.PhaseViolation, "critical")}},
	}

	rule := Aggregate(records, Options{}).MustFix.Rules[0]
	if len(rule.PagesAffected) != 3 {
		t.Fatalf("pages = %d, want one per step", len(rule.PagesAffected))
	}
	for i, p := range rule.PagesAffected {
		if p.PageIndex != i+1 {
			t.Errorf("page %d has index %d", i, p.PageIndex)
		}
	}

	// A standard crawl merges by URL.
	for i := range records {
		records[i].PageIndex = 0
	}
	if n := len(Aggregate(records, Options{}).MustFix.Rules[0].PagesAffected); n != 2 {
		t.Errorf("pages without steps = %d, want 2", n)
	}
}

func TestAggregate_TopFive(t *testing.T) {
	var records []finding.Record
	for p := range 7 {
		rec := finding.Record{URL: fmt.Sprintf("https://example.com/%d", p)}
		for r := range p {
			// Repeats of a rule and passes do not add to a page's count.
			rec.Nodes = append(rec.Nodes,
				node(fmt.Sprintf("rule-%d", r), finding.PhaseViolation, "minor"),
				node(fmt.Sprintf("rule-%d", r), finding.PhaseIncomplete, ""),
				node("passing", finding.PhasePassed, ""))
		}
		records = append(records, rec)
	}

	top := Aggregate(records, Options{}).TopFive
	if len(top) != 5 {
		t.Fatalf("top = %d pages, want 5", len(top))
	}
	for i, want := range []int{6, 5, 4, 3, 2} {
		if top[i].TotalIssues != want || top[i].URL != fmt.Sprintf("https://example.com/%d", want) {
			t.Errorf("top[%d] = %+v, want %d issues", i, top[i], want)
		}
	}
}

func TestAggregate_WCAGStats(t *testing.T) {
	records := []finding.Record{{
		URL: "https://example.com/",
		Nodes: []finding.Node{
			node("image-alt", finding.PhaseViolation, "critical", "wcag2a", "wcag111"),
			node("image-alt", finding.PhaseViolation, "critical", "wcag2a", "wcag111"),
			node("meta-viewport", finding.PhaseViolation, "moderate", "wcag2aa", "wcag144"),
			node("aria-allowed-attr", finding.PhaseIncomplete, "serious", "wcag2a", "wcag412"),
			node("html-lang", finding.PhasePassed, "", "wcag2a", "wcag311"),
		},
	}}

	rep := Aggregate(records, Options{})

	if !slices.Equal(rep.WCAGViolations, []string{"wcag111", "wcag144"}) {
		t.Errorf("violations = %v", rep.WCAGViolations)
	}
	if rep.WCAGPassPercentage != "90.00" {
		t.Errorf("pass percentage = %s, want 90.00", rep.WCAGPassPercentage)
	}
	want := ImpactCount{Critical: 2, Serious: 1, Moderate: 1}
	if rep.Impact != want {
		t.Errorf("impact = %+v, want %+v", rep.Impact, want)
	}
	if rep.MustFix.Description == "" || rep.Passed.Description == "" {
		t.Error("bucket descriptions missing")
	}
}

func TestAggregate_ConformanceLevelFirst(t *testing.T) {
	records := []finding.Record{{
		URL:   "https://example.com/",
		Nodes: []finding.Node{node("x", finding.PhaseViolation, "minor", "cat.color", "wcag143", "wcag2aa", "ACT")},
	}}
	got := Aggregate(records, Options{}).GoodToFix.Rules[0].Conformance
	if !slices.Equal(got, []string{"wcag2aa", "wcag143"}) {
		t.Errorf("conformance = %v", got)
	}
}

func TestPassPercentage(t *testing.T) {
	tests := []struct {
		violations []string
		want       string
	}{
		{nil, "100.00"},
		{[]string{"wcag111"}, "95.00"},
		{[]string{"wcag111", "wcag999"}, "95.00"},
		{[]string{"wcag111", "wcag143", "wcag412"}, "85.00"},
	}
	for _, tt := range tests {
		if got := PassPercentage(tt.violations); got != tt.want {
			t.Errorf("PassPercentage(%v) = %s, want %s", tt.violations, got, tt.want)
		}
	}
	if len(Criteria) != 20 {
		t.Errorf("criteria table has %d entries, want 20", len(Criteria))
	}
}

func TestCriterionName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"wcag111", "1.1.1"},
		{"wcag1412", "1.4.12"},
		{"best-practice", "best-practice"},
	}
	for _, tt := range tests {
		if got := CriterionName(tt.in); got != tt.want {
			t.Errorf("CriterionName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	pdfNode := finding.Node{
		RuleID: "pdf-WCAG2.1-1.1.1-1", Severity: finding.MustFix, Phase: finding.PhaseViolation,
		Description: "Figure needs alt", Conformance: []string{"wcag2a", "wcag111"}, Page: 0,
		Message: "line one\nline two",
	}
	pagedNode := pdfNode
	pagedNode.Page = 3
	records := []finding.Record{
		{URL: "https://example.com/b", Nodes: []finding.Node{
			node("region", finding.PhaseViolation, "moderate", "best-practice"),
			node("label", finding.PhaseIncomplete, "serious", "wcag2a", "wcag412"),
		}},
		{URL: "https://example.com/doc.pdf", Kind: finding.KindPDF, Nodes: []finding.Node{pdfNode, pagedNode}},
		{URL: "https://example.com/a", Nodes: []finding.Node{
			node("region", finding.PhaseViolation, "moderate", "best-practice"),
			node("html-has-lang", finding.PhasePassed, "", "wcag2a"),
		}},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, Aggregate(records, Options{})); err != nil {
		t.Fatalf("WriteCSV() error: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if !slices.Equal(rows[0], issueColumns) {
		t.Errorf("header = %v", rows[0])
	}

	var got []string
	for _, r := range rows[1:] {
		got = append(got, strings.Join([]string{r[0], r[1], r[4], r[5]}, "|"))
	}
	want := []string{
		"needsReview|label|https://example.com/b|<div>label</div>",
		"mustFix|pdf-WCAG2.1-1.1.1-1|https://example.com/doc.pdf|Document",
		"mustFix|pdf-WCAG2.1-1.1.1-1|https://example.com/doc.pdf|Page 3",
		"goodToFix|region|https://example.com/a|<div>region</div>",
		"goodToFix|region|https://example.com/b|<div>region</div>",
	}
	if !slices.Equal(got, want) {
		t.Errorf("rows =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
	if rows[2][3] != "wcag111" || rows[2][6] != "line one line two" {
		t.Errorf("pdf row = %v", rows[2])
	}
}

func TestPrintSummary(t *testing.T) {
	records := []finding.Record{{
		URL: "https://example.com/",
		Nodes: []finding.Node{
			node("image-alt", finding.PhaseViolation, "critical", "wcag2a", "wcag111"),
			node("html-lang", finding.PhasePassed, "", "wcag2a"),
		},
	}}
	var buf bytes.Buffer
	PrintSummary(&buf, Aggregate(records, Options{}))
	out := buf.String()
	for _, want := range []string{"Must Fix: 1 issue / 1 occurrence", "Good to Fix: 0 issues / 0 occurrences", "Passed: 1 occurrence", "95.00%"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
