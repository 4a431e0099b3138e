package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/secuscan/internal/model"
)

const debuggableManifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.app">
    <application
        android:debuggable="true"
        android:label="Example">
    </application>
</manifest>
`

func TestAndroidScannerDebuggable(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"AndroidManifest.xml": debuggableManifest})

	got, err := NewAndroidScanner().Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, got, 1)

	f := got[0]
	assert.Equal(t, model.SeverityHigh, f.Severity)
	assert.Equal(t, "Security Misconfiguration", f.Kind)
	assert.Equal(t, "AndroidManifest.xml", f.File)
	assert.Equal(t, 4, f.Line)
	assert.Equal(t, "android-manifest", f.Scanner)
	assert.NoError(t, f.Validate())
}

func TestAndroidScannerSymlinkedTarget(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"app/src/main/AndroidManifest.xml": debuggableManifest})
	link := filepath.Join(t.TempDir(), "project")
	if err := os.Symlink(root, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	got, err := NewAndroidScanner().Scan(context.Background(), link)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "app/src/main/AndroidManifest.xml", got[0].File)
	assert.Equal(t, model.SeverityHigh, got[0].Severity)
}

func TestAndroidScannerAllChecks(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"app/src/main/AndroidManifest.xml": `<application android:allowBackup="TRUE" android:usesCleartextTraffic="true" android:debuggable="false"/>`,
	})

	got, err := NewAndroidScanner().Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, model.SeverityMedium, got[0].Severity)
	assert.Equal(t, "Security Misconfiguration", got[0].Kind)
	assert.Equal(t, "app/src/main/AndroidManifest.xml", got[0].File)
	assert.Equal(t, model.SeverityMedium, got[1].Severity)
	assert.Equal(t, "Insecure Communication", got[1].Kind)
}

func TestAndroidScannerIgnoresBuildOutput(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"app/build/intermediates/AndroidManifest.xml": debuggableManifest,
		"app/AndroidManifest.xml":                     `<manifest/>`,
	})

	got, err := NewAndroidScanner().Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAndroidScannerMissingTarget(t *testing.T) {
	_, err := NewAndroidScanner().Scan(context.Background(), "/definitely/not/here")
	assert.Error(t, err)
}
