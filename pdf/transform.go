package pdf

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/lukemcguire/a11ycrawl/finding"
)

// TransformOptions carries the collaborators of Transform.
type TransformOptions struct {
	// Mapping resolves a staged file id (its base name without extension)
	// to the URL it was downloaded from.
	Mapping map[string]string
	Meta    Meta
	// RunToken prefixes the FilePath of produced records.
	RunToken string
	Logger   *zap.Logger
}

// Transform folds a veraPDF report into one finding record per validated
// document, in job order. Jobs without a validation result are skipped.
func Transform(rep *Report, opts TransformOptions) []finding.Record {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if rep == nil {
		return nil
	}

	var records []finding.Record
	for _, job := range rep.Report.Jobs {
		id := fileID(job.ItemDetails.Name)
		sourceURL, ok := opts.Mapping[id]
		if !ok {
			sourceURL = job.ItemDetails.Name
		}
		title := pageTitle(sourceURL)

		res, err := job.Result()
		if err != nil || res == nil {
			logger.Info("pdf skipped, no validation result",
				zap.String("url", sourceURL),
				zap.String("file", job.ItemDetails.Name),
				zap.Error(err))
			continue
		}

		rec := finding.Record{
			URL:       sourceURL,
			PageTitle: title,
			FilePath:  path.Join(opts.RunToken, id+".pdf"),
			Kind:      finding.KindPDF,
		}
		for _, rule := range res.Details.RuleSummaries {
			if isExcluded(rule) {
				continue
			}
			rec.Nodes = append(rec.Nodes, ruleNodes(rule, opts.Meta.Severity(rule))...)
		}
		records = append(records, rec)
	}
	return records
}

func ruleNodes(rule RuleSummary, severity finding.Severity) []finding.Node {
	id := strings.ReplaceAll(fmt.Sprintf("pdf-%s-%s-%d", rule.Specification, rule.Clause, rule.TestNumber), " ", "_")
	conformance := ruleConformance(rule)

	nodes := make([]finding.Node, 0, len(rule.Checks))
	for _, check := range rule.Checks {
		n := finding.Node{
			RuleID:      id,
			Phase:       finding.PhaseViolation,
			Severity:    severity,
			Description: rule.Description,
			Conformance: conformance,
			Message:     check.ErrorMessage,
			Context:     check.Context,
		}
		if page, ok := ResolvePageNumber(check.Context); ok {
			n.Page = page
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func ruleConformance(rule RuleSummary) []string {
	if rule.Specification != "WCAG2.1" {
		return []string{"best-practice"}
	}
	sc := "wcag" + strings.ReplaceAll(rule.Clause, ".", "")
	if level, ok := clauseLevels[rule.Clause]; ok {
		return []string{level, sc}
	}
	return []string{sc}
}

// fileID strips directory and extension from a staged file name.
func fileID(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if idx := strings.IndexByte(base, '.'); idx >= 0 {
		base = base[:idx]
	}
	return base
}

// pageTitle is the last path segment of the document URL, decoded.
func pageTitle(rawURL string) string {
	p := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		p = parsed.Path
	}
	p = strings.TrimSuffix(p, "/")
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		p = p[idx+1:]
	}
	return p
}
