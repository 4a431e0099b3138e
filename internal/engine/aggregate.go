package engine

import (
	"errors"

	"github.com/yourorg/secuscan/internal/model"
	"github.com/yourorg/secuscan/internal/scanner"
)

// ScannerResult is what one scanner contributed to a run. A non-nil Err means
// the scanner contributed no findings.
type ScannerResult struct {
	Scanner  string
	Findings []model.Finding
	Err      error
}

// Aggregate concatenates findings in result order and turns every failed
// result into exactly one warning. Findings are neither deduplicated nor filtered.
func Aggregate(results []ScannerResult) ([]model.Finding, []model.Warning) {
	findings := []model.Finding{}
	warnings := []model.Warning{}
	for _, r := range results {
		if r.Err != nil {
			warnings = append(warnings, model.Warning{Component: r.Scanner, Message: warningMessage(r.Err)})
			continue
		}
		findings = append(findings, r.Findings...)
	}
	return findings, warnings
}

// warningMessage drops the scanner-name prefix since the warning already carries it.
func warningMessage(err error) string {
	var se *scanner.Error
	if errors.As(err, &se) && se.Err != nil {
		return se.Err.Error()
	}
	return err.Error()
}
