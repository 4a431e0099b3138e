package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/yourorg/secuscan/internal/model"
)

// commandFunc runs an external program and returns its stdout, stderr and exit code.
type commandFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return nil, stderr.Bytes(), -1, err
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}

// BanditScanner runs the bandit static analyser over web projects.
type BanditScanner struct {
	path string
	run  commandFunc
}

func NewBanditScanner(path string) *BanditScanner {
	if path == "" {
		path = "bandit"
	}
	return &BanditScanner{path: path, run: execCommand}
}

func (s *BanditScanner) Name() string { return "bandit" }

type banditOutput struct {
	Errors []struct {
		Filename string `json:"filename"`
		Reason   string `json:"reason"`
	} `json:"errors"`
	Results []banditResult `json:"results"`
}

type banditResult struct {
	Filename        string `json:"filename"`
	LineNumber      int    `json:"line_number"`
	IssueSeverity   string `json:"issue_severity"`
	IssueConfidence string `json:"issue_confidence"`
	IssueText       string `json:"issue_text"`
	TestID          string `json:"test_id"`
	TestName        string `json:"test_name"`
}

func (s *BanditScanner) Scan(ctx context.Context, target string) ([]model.Finding, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, err
	}
	stdout, stderr, code, err := s.run(ctx, s.path, "-r", abs, "-f", "json", "-q")
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", s.path, err)
	}
	// 0 means clean, 1 means issues were reported.
	if code != 0 && code != 1 {
		return nil, fmt.Errorf("%s exited with %d: %s", s.path, code, strings.TrimSpace(string(stderr)))
	}
	if len(bytes.TrimSpace(stdout)) == 0 {
		return nil, nil
	}

	var out banditOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return nil, fmt.Errorf("decode bandit output: %w", err)
	}
	findings := make([]model.Finding, 0, len(out.Results))
	for _, r := range out.Results {
		sev, err := model.ParseSeverity(r.IssueSeverity)
		if err != nil {
			sev = model.SeverityLow
		}
		desc := r.IssueText
		if r.TestID != "" {
			desc = fmt.Sprintf("%s [%s, confidence %s]", r.IssueText, r.TestID, strings.ToLower(r.IssueConfidence))
		}
		findings = append(findings, model.Finding{
			Kind:        r.TestName,
			File:        relPath(abs, r.Filename),
			Severity:    sev,
			Description: desc,
			Line:        r.LineNumber,
			Scanner:     s.Name(),
		})
	}
	return findings, nil
}
