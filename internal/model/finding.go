package model

import (
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// ParseSeverity accepts the three levels in any case.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Rank orders severities; an invalid value ranks below LOW.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// Finding is one reported issue. Line is zero when not applicable.
type Finding struct {
	Kind        string   `json:"type"`
	File        string   `json:"file"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Line        int      `json:"line,omitempty"`
	Scanner     string   `json:"scanner,omitempty"`
}

func (f Finding) Validate() error {
	if !f.Severity.Valid() {
		return fmt.Errorf("finding %q in %s: unknown severity %q", f.Kind, f.File, f.Severity)
	}
	return nil
}
