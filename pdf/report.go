// Package pdf stages downloaded PDF documents, runs the veraPDF validator
// over them and folds its report into finding records.
package pdf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Report is the JSON document veraPDF writes with --format json.
type Report struct {
	Report struct {
		Jobs []Job `json:"jobs"`
	} `json:"report"`
}

// Job is the validation of one file.
type Job struct {
	ItemDetails struct {
		Name string `json:"name"`
	} `json:"itemDetails"`
	// ValidationResult is an object in older veraPDF releases and a list in
	// newer ones; Result normalizes both.
	ValidationResult json.RawMessage `json:"validationResult"`
}

// ValidationResult holds the checks of one profile.
type ValidationResult struct {
	Details struct {
		PassedChecks  int           `json:"passedChecks"`
		FailedChecks  int           `json:"failedChecks"`
		RuleSummaries []RuleSummary `json:"ruleSummaries"`
	} `json:"details"`
}

// RuleSummary is one failed rule with its individual checks.
type RuleSummary struct {
	Specification string  `json:"specification"`
	Clause        string  `json:"clause"`
	TestNumber    int     `json:"testNumber"`
	Description   string  `json:"description"`
	Checks        []Check `json:"checks"`
}

// Check is one failed check. Context is veraPDF's location descriptor.
type Check struct {
	ErrorMessage string `json:"errorMessage"`
	Context      string `json:"context"`
}

// Result returns the job's validation result, or nil when the job failed
// before validation (encrypted or unreadable file).
func (j Job) Result() (*ValidationResult, error) {
	raw := bytes.TrimSpace(j.ValidationResult)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []ValidationResult
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode validation result list: %w", err)
		}
		if len(list) == 0 {
			return nil, nil
		}
		return &list[0], nil
	}
	var res ValidationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode validation result: %w", err)
	}
	return &res, nil
}

// ParseReport decodes a veraPDF JSON report.
func ParseReport(r io.Reader) (*Report, error) {
	var rep Report
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return nil, fmt.Errorf("decode verapdf report: %w", err)
	}
	return &rep, nil
}
