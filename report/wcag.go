package report

import (
	"fmt"
	"regexp"
)

// wcagCriterion matches success criterion tags such as wcag111 or wcag1412.
var wcagCriterion = regexp.MustCompile(`^wcag[0-9]{3,4}$`)

// Criteria are the success criteria the automated checks can cover, keyed
// by their tag, with their reference links.
var Criteria = map[string]string{
	"wcag111":  "https://www.w3.org/TR/WCAG21/#non-text-content",
	"wcag122":  "https://www.w3.org/TR/WCAG21/#captions-prerecorded",
	"wcag131":  "https://www.w3.org/TR/WCAG21/#info-and-relationships",
	"wcag135":  "https://www.w3.org/TR/WCAG21/#identify-input-purpose",
	"wcag141":  "https://www.w3.org/TR/WCAG21/#use-of-color",
	"wcag142":  "https://www.w3.org/TR/WCAG21/#audio-control",
	"wcag143":  "https://www.w3.org/TR/WCAG21/#contrast-minimum",
	"wcag144":  "https://www.w3.org/TR/WCAG21/#resize-text",
	"wcag1412": "https://www.w3.org/TR/WCAG21/#text-spacing",
	"wcag211":  "https://www.w3.org/TR/WCAG21/#keyboard",
	"wcag221":  "https://www.w3.org/TR/WCAG21/#timing-adjustable",
	"wcag222":  "https://www.w3.org/TR/WCAG21/#pause-stop-hide",
	"wcag241":  "https://www.w3.org/TR/WCAG21/#bypass-blocks",
	"wcag242":  "https://www.w3.org/TR/WCAG21/#page-titled",
	"wcag244":  "https://www.w3.org/TR/WCAG21/#link-purpose-in-context",
	"wcag258":  "https://www.w3.org/TR/WCAG22/#target-size-minimum",
	"wcag311":  "https://www.w3.org/TR/WCAG21/#language-of-page",
	"wcag312":  "https://www.w3.org/TR/WCAG21/#language-of-parts",
	"wcag332":  "https://www.w3.org/TR/WCAG21/#labels-or-instructions",
	"wcag412":  "https://www.w3.org/TR/WCAG21/#name-role-value",
}

// PassPercentage is the share of Criteria with no violation, with two
// decimals. Violated tags outside Criteria do not count against it.
func PassPercentage(violations []string) string {
	failed := 0
	for _, v := range violations {
		if _, ok := Criteria[v]; ok {
			failed++
		}
	}
	total := len(Criteria)
	return fmt.Sprintf("%.2f", float64(total-failed)/float64(total)*100)
}

// CriterionName renders a criterion tag as its dotted number, e.g. wcag1412
// as "1.4.12".
func CriterionName(tag string) string {
	if !wcagCriterion.MatchString(tag) {
		return tag
	}
	digits := tag[len("wcag"):]
	return fmt.Sprintf("%c.%c.%s", digits[0], digits[1], digits[2:])
}
