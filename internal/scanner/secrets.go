package scanner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/yourorg/secuscan/internal/model"
)

const (
	defaultMaxSecretFileSize = 1 << 20
	binarySniffLen           = 8000
)

type secretRule struct {
	name     string
	re       *regexp.Regexp
	severity model.Severity
}

var secretRules = []secretRule{
	{"AWS access key ID", regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`), model.SeverityHigh},
	{"private key", regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY( BLOCK)?-----`), model.SeverityHigh},
	{"GitHub token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`), model.SeverityHigh},
	{"Slack token", regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9-]{10,}`), model.SeverityHigh},
	{"Google API key", regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`), model.SeverityMedium},
	{"JSON web token", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`), model.SeverityMedium},
	{"hardcoded credential", regexp.MustCompile(`(?i)\b(password|passwd|secret|api[_-]?key|access[_-]?token)\b["']?\s*[:=]\s*["'][^"'\s]{8,}["']`), model.SeverityMedium},
}

// SecretScanner looks for credentials committed to the tree. Paths matched by
// the target's .gitignore, binary files and oversized files are skipped.
type SecretScanner struct {
	maxSize int64
}

func NewSecretScanner() *SecretScanner {
	return &SecretScanner{maxSize: defaultMaxSecretFileSize}
}

func (s *SecretScanner) Name() string { return "secrets" }

func (s *SecretScanner) Scan(ctx context.Context, target string) ([]model.Finding, error) {
	gi, err := loadGitignore(target)
	if err != nil {
		return nil, err
	}
	var findings []model.Finding
	err = walkFiles(ctx, target, func(p string, d fs.DirEntry) error {
		rel := relPath(target, p)
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() == 0 || info.Size() > s.maxSize {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil || isBinary(data) {
			return nil
		}
		findings = append(findings, matchSecrets(rel, data, s.Name())...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}

func loadGitignore(target string) (*ignore.GitIgnore, error) {
	p := filepath.Join(target, ".gitignore")
	// Missing, unreadable, or target is a single file.
	if _, err := os.Stat(p); err != nil {
		return nil, nil
	}
	gi, err := ignore.CompileIgnoreFile(p)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p, err)
	}
	return gi, nil
}

func isBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

func matchSecrets(file string, data []byte, scannerName string) []model.Finding {
	var out []model.Finding
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Bytes()
		for _, r := range secretRules {
			if !r.re.Match(text) {
				continue
			}
			out = append(out, model.Finding{
				Kind:        "Hardcoded Secret",
				File:        file,
				Severity:    r.severity,
				Description: "Possible " + r.name + " committed to source.",
				Line:        line,
				Scanner:     scannerName,
			})
		}
	}
	return out
}
