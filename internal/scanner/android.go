package scanner

import (
	"context"
	"io/fs"
	"os"
	"strings"

	"github.com/yourorg/secuscan/internal/detect"
	"github.com/yourorg/secuscan/internal/model"
)

type manifestCheck struct {
	needle      string // lowercase attribute assignment
	kind        string
	severity    model.Severity
	description string
}

var manifestChecks = []manifestCheck{
	{
		needle:      `android:debuggable="true"`,
		kind:        "Security Misconfiguration",
		severity:    model.SeverityHigh,
		description: "Application is marked as debuggable. This allows attackers to attach a debugger and access sensitive data.",
	},
	{
		needle:      `android:allowbackup="true"`,
		kind:        "Security Misconfiguration",
		severity:    model.SeverityMedium,
		description: "Application data backup is enabled. Sensitive data might be extracted via adb backup.",
	},
	{
		needle:      `android:usescleartexttraffic="true"`,
		kind:        "Insecure Communication",
		severity:    model.SeverityMedium,
		description: "Application permits cleartext HTTP traffic, exposing data to interception on the network.",
	},
}

// AndroidScanner checks every AndroidManifest.xml in the tree for risky flags.
type AndroidScanner struct{}

func NewAndroidScanner() *AndroidScanner { return &AndroidScanner{} }

func (s *AndroidScanner) Name() string { return "android-manifest" }

func (s *AndroidScanner) Scan(ctx context.Context, target string) ([]model.Finding, error) {
	var findings []model.Finding
	err := walkFiles(ctx, target, func(p string, d fs.DirEntry) error {
		if d.Name() != detect.ManifestName {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		findings = append(findings, checkManifest(relPath(target, p), string(data), s.Name())...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}

func checkManifest(file, content, scannerName string) []model.Finding {
	lower := strings.ToLower(content)
	var out []model.Finding
	for _, c := range manifestChecks {
		idx := strings.Index(lower, c.needle)
		if idx < 0 {
			continue
		}
		out = append(out, model.Finding{
			Kind:        c.kind,
			File:        file,
			Severity:    c.severity,
			Description: c.description,
			Line:        strings.Count(lower[:idx], "\n") + 1,
			Scanner:     scannerName,
		})
	}
	return out
}
