package scanner

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/secuscan/internal/model"
)

const mobsfReportJSON = `{
  "manifest_analysis": {
    "manifest_findings": [
      {"rule": "app_is_debuggable", "title": "Debug Enabled For App", "severity": "high", "description": "Debugging was enabled on the app."},
      {"rule": "app_allowbackup", "title": "Application Data can be Backed up", "severity": "warning", "description": "allowBackup is not set."},
      {"rule": "secure_flag", "title": "Something fine", "severity": "good", "description": "ok"}
    ],
    "manifest_summary": {"high": 1, "warning": 1}
  },
  "code_analysis": {
    "findings": {
      "android_logging": {
        "files": {"com/example/Main.java": "27,31"},
        "metadata": {"severity": "info", "description": "The App logs information.", "cwe": "CWE-532"}
      },
      "android_sql_raw_query": {
        "files": {"com/example/Db.java": "88", "com/example/Cache.java": ""},
        "metadata": {"severity": "warning", "description": "App uses raw SQL query."}
      }
    }
  }
}`

type mobsfServer struct {
	mu       sync.Mutex
	t        *testing.T
	apiKey   string
	uploaded map[string][]byte
	calls    []string
}

func (m *mobsfServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, r.URL.Path)
	if r.Header.Get("Authorization") != m.apiKey {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error": "You are unauthorized to make this request."}`)
		return
	}
	switch r.URL.Path {
	case "/api/v1/upload":
		f, hdr, err := r.FormFile("file")
		require.NoError(m.t, err)
		data, err := io.ReadAll(f)
		require.NoError(m.t, err)
		m.uploaded[hdr.Filename] = data
		_ = json.NewEncoder(w).Encode(Upload{Hash: "abc123", ScanType: "zip", FileName: hdr.Filename})
	case "/api/v1/scan":
		require.NoError(m.t, r.ParseForm())
		assert.Equal(m.t, "abc123", r.PostForm.Get("hash"))
		assert.Equal(m.t, "zip", r.PostForm.Get("scan_type"))
		_, _ = io.WriteString(w, `{}`)
	case "/api/v1/report_json":
		require.NoError(m.t, r.ParseForm())
		assert.Equal(m.t, "abc123", r.PostForm.Get("hash"))
		_, _ = io.WriteString(w, mobsfReportJSON)
	default:
		http.NotFound(w, r)
	}
}

func (m *mobsfServer) snapshot() ([]string, map[string][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...), m.uploaded
}

func TestMobSFScanner(t *testing.T) {
	srv := &mobsfServer{t: t, apiKey: "secret-key", uploaded: map[string][]byte{}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"app/src/main/AndroidManifest.xml": "<manifest/>",
		"app/src/main/java/Main.java":      "class Main {}",
		"app/build/out.txt":                "ignored",
	})

	s := NewMobSFScanner(NewMobSFClient(ts.URL+"/", "secret-key", zerolog.Nop()), zerolog.Nop())
	assert.Equal(t, "mobsf", s.Service())

	got, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	calls, uploaded := srv.snapshot()
	assert.Equal(t, []string{"/api/v1/upload", "/api/v1/scan", "/api/v1/report_json"}, calls)

	require.Len(t, uploaded, 1)
	for _, payload := range uploaded {
		zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
		require.NoError(t, err)
		var entries []string
		for _, f := range zr.File {
			entries = append(entries, f.Name)
		}
		sort.Strings(entries)
		assert.Equal(t, []string{"app/src/main/AndroidManifest.xml", "app/src/main/java/Main.java"}, entries)
	}

	require.Len(t, got, 5)
	assert.Equal(t, model.Finding{
		Kind:        "Manifest Analysis",
		File:        "AndroidManifest.xml",
		Severity:    model.SeverityHigh,
		Description: "Debug Enabled For App: Debugging was enabled on the app.",
		Scanner:     "mobsf",
	}, got[0])
	assert.Equal(t, model.SeverityMedium, got[1].Severity)

	assert.Equal(t, model.Finding{
		Kind:        "Code Analysis",
		File:        "com/example/Main.java",
		Severity:    model.SeverityLow,
		Description: "The App logs information. (CWE-532)",
		Line:        27,
		Scanner:     "mobsf",
	}, got[2])
	assert.Equal(t, "com/example/Cache.java", got[3].File)
	assert.Zero(t, got[3].Line)
	assert.Equal(t, "com/example/Db.java", got[4].File)
	assert.Equal(t, 88, got[4].Line)
	for _, f := range got {
		assert.NoError(t, f.Validate())
	}
}

func TestMobSFScannerUnauthorized(t *testing.T) {
	srv := &mobsfServer{t: t, apiKey: "right", uploaded: map[string][]byte{}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"AndroidManifest.xml": "<manifest/>"})

	s := NewMobSFScanner(NewMobSFClient(ts.URL, "wrong", zerolog.Nop()), zerolog.Nop())
	_, err := s.Scan(context.Background(), root)
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
}

func TestMobSFArtifactPrefersAPK(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"AndroidManifest.xml":        "<manifest/>",
		"release/app-release.apk":    "PK-apk-bytes",
		"node_modules/dep/other.apk": "ignored",
	})

	name, data, err := mobsfArtifact(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "app-release.apk", name)
	assert.Equal(t, "PK-apk-bytes", string(data))
}

func TestMobSFArtifactFindsGradleOutput(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"app/src/main/AndroidManifest.xml":          "<manifest/>",
		"app/build/outputs/apk/debug/app-debug.apk": "PK-debug",
		"node_modules/dep/other.apk":                "ignored",
	})

	name, data, err := mobsfArtifact(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "app-debug.apk", name)
	assert.Equal(t, "PK-debug", string(data))
}

func TestMobSFReportLegacyShape(t *testing.T) {
	rep := &MobSFReport{
		ManifestAnalysis: json.RawMessage(`[{"title": "Clear text traffic is Enabled", "stat": "high", "desc": "cleartext allowed"}]`),
		CodeAnalysis:     json.RawMessage(`{"android_webview": {"files": {"a/B.java": "5"}, "metadata": {"severity": "high", "description": "WebView JS enabled."}}}`),
	}
	got, err := rep.Findings("mobsf")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Clear text traffic is Enabled: cleartext allowed", got[0].Description)
	assert.Equal(t, model.SeverityHigh, got[0].Severity)
	assert.Equal(t, "a/B.java", got[1].File)
	assert.Equal(t, 5, got[1].Line)
}

func TestMobSFReportEmpty(t *testing.T) {
	got, err := (&MobSFReport{}).Findings("mobsf")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = (&MobSFReport{ManifestAnalysis: json.RawMessage(`"broken"`)}).Findings("mobsf")
	assert.Error(t, err)
}

func TestMobSFSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want model.Severity
		ok   bool
	}{
		{"high", model.SeverityHigh, true},
		{"WARNING", model.SeverityMedium, true},
		{"info", model.SeverityLow, true},
		{"good", "", false},
		{"secure", "", false},
		{"odd", model.SeverityLow, true},
	}
	for _, tt := range tests {
		got, ok := mobsfSeverity(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}
