package model

import (
	"time"

	"github.com/google/uuid"
)

// Warning records a component that ran with reduced coverage or failed.
type Warning struct {
	Component string `json:"component"`
	Message   string `json:"message"`
}

type Summary struct {
	Total  int `json:"total_findings"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Report is the result of one scan run.
type Report struct {
	ID         string         `json:"id"`
	Target     string         `json:"target"`
	Category   string         `json:"category"`
	Extensions map[string]int `json:"extensions"`
	Scanners   []string       `json:"scanners"`
	Findings   []Finding      `json:"findings"`
	Warnings   []Warning      `json:"warnings"`
	Summary    Summary        `json:"summary"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

func NewReport(target string, started time.Time) *Report {
	return &Report{
		ID:         uuid.NewString(),
		Target:     target,
		Extensions: map[string]int{},
		Findings:   []Finding{},
		Warnings:   []Warning{},
		StartedAt:  started,
	}
}

// ReducedCoverage is true when at least one component did not contribute.
func (r *Report) ReducedCoverage() bool {
	return len(r.Warnings) > 0
}

func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// MaxSeverity returns the highest severity among the findings, or "" when there are none.
func (r *Report) MaxSeverity() Severity {
	var max Severity
	for _, f := range r.Findings {
		if f.Severity.Rank() > max.Rank() {
			max = f.Severity
		}
	}
	return max
}

func Summarize(findings []Finding) Summary {
	s := Summary{Total: len(findings)}
	for _, f := range findings {
		switch f.Severity {
		case SeverityHigh:
			s.High++
		case SeverityMedium:
			s.Medium++
		case SeverityLow:
			s.Low++
		}
	}
	return s
}
