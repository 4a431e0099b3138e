package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/secuscan/internal/model"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func sampleReport() *model.Report {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rep := model.NewReport("/src/app", start)
	rep.Category = "Android"
	rep.Extensions = map[string]int{".java": 3, ".xml": 1}
	rep.Scanners = []string{"android-manifest", "mobsf", "secrets"}
	rep.Findings = []model.Finding{
		{Kind: "Security Misconfiguration", File: "AndroidManifest.xml", Severity: model.SeverityHigh, Description: "Application is marked as debuggable.", Line: 4, Scanner: "android-manifest"},
		{Kind: "Hardcoded Secret", File: "res/<values>.xml", Severity: model.SeverityMedium, Description: "Possible <script> key.", Scanner: "secrets"},
	}
	rep.Warnings = []model.Warning{{Component: "mobsf", Message: "skipped, mobsf service not ready: container runtime unavailable"}}
	rep.Summary = model.Summarize(rep.Findings)
	rep.FinishedAt = start.Add(1500 * time.Millisecond)
	return rep
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatConsole, "console": FormatConsole, "JSON": FormatJSON, " html ": FormatHTML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("sarif")
	assert.Error(t, err)
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Console{}.Write(&buf, sampleReport()))
	out := buf.String()

	assert.Contains(t, out, "Category:  Android")
	assert.Contains(t, out, "Duration:  1.5s")
	assert.Contains(t, out, "Scanned with reduced coverage: 1 component(s) did not contribute")
	assert.Contains(t, out, "  - mobsf: skipped, mobsf service not ready")
	assert.Contains(t, out, "[HIGH]   Security Misconfiguration  AndroidManifest.xml:4  (android-manifest)")
	assert.Contains(t, out, "res/<values>.xml  (secrets)")
	assert.Contains(t, out, "Summary: 2 findings (HIGH 1, MEDIUM 1, LOW 0)")
}

func TestConsoleCleanRun(t *testing.T) {
	rep := model.NewReport("/src/app", time.Now())
	var buf bytes.Buffer
	require.NoError(t, Console{}.Write(&buf, rep))
	assert.Contains(t, buf.String(), "No findings.")
	assert.NotContains(t, buf.String(), "reduced coverage")
}

func TestUnknownProjectIsCalledOut(t *testing.T) {
	rep := model.NewReport("/src/notes", time.Now())
	rep.Category = "Unknown"
	rep.Scanners = []string{"sonarqube", "secrets"}

	var console, page bytes.Buffer
	require.NoError(t, Console{}.Write(&console, rep))
	require.NoError(t, HTML{}.Write(&page, rep))

	assert.Contains(t, console.String(), "Unrecognized project type")
	assert.Contains(t, console.String(), "No findings.")
	assert.Contains(t, page.String(), "Unrecognized project type")

	console.Reset()
	require.NoError(t, Console{}.Write(&console, sampleReport()))
	assert.NotContains(t, console.String(), "Unrecognized project type")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestConsoleWriteError(t *testing.T) {
	assert.EqualError(t, Console{}.Write(failingWriter{}, sampleReport()), "disk full")
}

func TestJSON(t *testing.T) {
	rep := sampleReport()
	var buf bytes.Buffer
	require.NoError(t, JSON{}.Write(&buf, rep))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, rep.ID, doc["id"])
	assert.Equal(t, "Android", doc["category"])
	assert.Equal(t, true, doc["reduced_coverage"])
	assert.Equal(t, 1.5, doc["duration_seconds"])

	findings := doc["findings"].([]any)
	require.Len(t, findings, 2)
	first := findings[0].(map[string]any)
	assert.Equal(t, "Security Misconfiguration", first["type"])
	assert.Equal(t, float64(4), first["line"])
	_, hasLine := findings[1].(map[string]any)["line"]
	assert.False(t, hasLine)

	summary := doc["summary"].(map[string]any)
	assert.Equal(t, float64(2), summary["total_findings"])
}

func TestHTMLEscapes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HTML{}.Write(&buf, sampleReport()))
	out := buf.String()

	assert.Contains(t, out, `<td class="high">HIGH</td>`)
	assert.Contains(t, out, "res/&lt;values&gt;.xml")
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "Scanned with reduced coverage.")
}

func TestWriteFile(t *testing.T) {
	rep := sampleReport()
	dir := filepath.Join(t.TempDir(), "reports")

	path, err := WriteFile("", dir, FormatJSON, rep)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "secuscan-"+rep.ID+".json"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	explicit := filepath.Join(t.TempDir(), "nested", "out.html")
	path, err = WriteFile(explicit, dir, FormatHTML, rep)
	require.NoError(t, err)
	assert.Equal(t, explicit, path)
}

type fakeSink struct {
	name string
	err  error
	got  *model.Report
}

func (f *fakeSink) Name() string { return f.name }
func (f *fakeSink) Publish(_ context.Context, rep *model.Report) error {
	f.got = rep
	return f.err
}

func TestPublishAll(t *testing.T) {
	rep := sampleReport()
	broken := &fakeSink{name: "db", err: errors.New("connection refused")}
	ok := &fakeSink{name: "s3"}

	n := PublishAll(context.Background(), rep, zerolog.Nop(), broken, ok)
	assert.Equal(t, 1, n)
	assert.Same(t, rep, broken.got)
	assert.Same(t, rep, ok.got)
}
