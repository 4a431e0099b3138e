package scanner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/secuscan/internal/model"
)

type fakeCommand struct {
	stdout, stderr string
	code           int
	err            error

	name string
	args []string
}

func (f *fakeCommand) run(_ context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	f.name, f.args = name, args
	return []byte(f.stdout), []byte(f.stderr), f.code, f.err
}

func TestBanditScannerFindings(t *testing.T) {
	root := t.TempDir()
	abs, err := filepath.Abs(root)
	require.NoError(t, err)

	fc := &fakeCommand{code: 1, stdout: `{
  "errors": [],
  "results": [
    {"filename": "` + filepath.ToSlash(filepath.Join(abs, "app", "views.py")) + `", "line_number": 12,
     "issue_severity": "HIGH", "issue_confidence": "MEDIUM",
     "issue_text": "Use of exec detected.", "test_id": "B102", "test_name": "exec_used"},
    {"filename": "` + filepath.ToSlash(filepath.Join(abs, "settings.py")) + `", "line_number": 3,
     "issue_severity": "UNDEFINED", "issue_confidence": "LOW",
     "issue_text": "Possible hardcoded password.", "test_id": "B105", "test_name": "hardcoded_password_string"}
  ]
}`}
	s := NewBanditScanner("/opt/bin/bandit")
	s.run = fc.run

	got, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, "/opt/bin/bandit", fc.name)
	assert.Equal(t, []string{"-r", abs, "-f", "json", "-q"}, fc.args)

	require.Len(t, got, 2)
	assert.Equal(t, model.Finding{
		Kind:        "exec_used",
		File:        "app/views.py",
		Severity:    model.SeverityHigh,
		Description: "Use of exec detected. [B102, confidence medium]",
		Line:        12,
		Scanner:     "bandit",
	}, got[0])
	assert.Equal(t, model.SeverityLow, got[1].Severity)
	assert.Equal(t, "settings.py", got[1].File)
}

func TestBanditScannerClean(t *testing.T) {
	s := NewBanditScanner("")
	fc := &fakeCommand{stdout: `{"errors": [], "results": []}`}
	s.run = fc.run

	got, err := s.Scan(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, "bandit", fc.name)
}

func TestBanditScannerFailures(t *testing.T) {
	tests := []struct {
		name string
		fc   fakeCommand
		want string
	}{
		{"not installed", fakeCommand{err: errors.New("executable file not found in $PATH")}, "not found"},
		{"bad exit", fakeCommand{code: 2, stderr: "usage: bandit"}, "exited with 2"},
		{"garbage", fakeCommand{stdout: "Traceback (most recent call last)"}, "decode bandit output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewBanditScanner("")
			s.run = tt.fc.run
			_, err := s.Scan(context.Background(), t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
