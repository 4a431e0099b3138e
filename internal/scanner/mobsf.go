package scanner

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/yourorg/secuscan/internal/detect"
	"github.com/yourorg/secuscan/internal/model"
	"github.com/yourorg/secuscan/internal/service"
)

// MobSFClient is a thin client for the MobSF REST API.
type MobSFClient struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
}

func NewMobSFClient(baseURL, apiKey string, log zerolog.Logger) *MobSFClient {
	return &MobSFClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    newHTTPClient(log.With().Str("service", service.MobSF).Logger()),
	}
}

// Upload is what MobSF answers to a file upload.
type Upload struct {
	Hash     string `json:"hash"`
	ScanType string `json:"scan_type"`
	FileName string `json:"file_name"`
}

func (c *MobSFClient) Upload(ctx context.Context, name string, r io.Reader) (Upload, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return Upload{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return Upload{}, err
	}
	if err := mw.Close(); err != nil {
		return Upload{}, err
	}

	var up Upload
	if err := c.post(ctx, "/api/v1/upload", mw.FormDataContentType(), body.Bytes(), &up); err != nil {
		return Upload{}, err
	}
	if up.Hash == "" {
		return Upload{}, errors.New("mobsf upload returned no hash")
	}
	return up, nil
}

func (c *MobSFClient) Scan(ctx context.Context, up Upload) error {
	form := url.Values{"hash": {up.Hash}, "scan_type": {up.ScanType}, "file_name": {up.FileName}}
	return c.post(ctx, "/api/v1/scan", "application/x-www-form-urlencoded", []byte(form.Encode()), nil)
}

func (c *MobSFClient) Report(ctx context.Context, hash string) (*MobSFReport, error) {
	form := url.Values{"hash": {hash}}
	var rep MobSFReport
	if err := c.post(ctx, "/api/v1/report_json", "application/x-www-form-urlencoded", []byte(form.Encode()), &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (c *MobSFClient) post(ctx context.Context, path, contentType string, body []byte, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// MobSFReport holds the parts of report_json secuscan maps to findings.
// Both sections changed shape across MobSF releases, so they stay raw until mapped.
type MobSFReport struct {
	ManifestAnalysis json.RawMessage `json:"manifest_analysis"`
	CodeAnalysis     json.RawMessage `json:"code_analysis"`
}

type mobsfManifestFinding struct {
	Rule        string `json:"rule"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Stat        string `json:"stat"`
	Description string `json:"description"`
	Desc        string `json:"desc"`
}

type mobsfCodeRule struct {
	Files    map[string]string `json:"files"`
	Metadata struct {
		Severity    string `json:"severity"`
		Description string `json:"description"`
		CWE         string `json:"cwe"`
	} `json:"metadata"`
}

// mobsfSeverity maps MobSF levels; ok is false for entries that are not issues.
func mobsfSeverity(s string) (model.Severity, bool) {
	switch strings.ToLower(s) {
	case "high":
		return model.SeverityHigh, true
	case "warning", "medium":
		return model.SeverityMedium, true
	case "info", "low":
		return model.SeverityLow, true
	case "good", "secure", "hotspot":
		return "", false
	default:
		return model.SeverityLow, true
	}
}

func (r *MobSFReport) manifestFindings() ([]mobsfManifestFinding, error) {
	if len(r.ManifestAnalysis) == 0 || string(r.ManifestAnalysis) == "null" {
		return nil, nil
	}
	var wrapped struct {
		Findings []mobsfManifestFinding `json:"manifest_findings"`
	}
	if err := json.Unmarshal(r.ManifestAnalysis, &wrapped); err == nil {
		return wrapped.Findings, nil
	}
	var list []mobsfManifestFinding
	if err := json.Unmarshal(r.ManifestAnalysis, &list); err != nil {
		return nil, fmt.Errorf("decode manifest_analysis: %w", err)
	}
	return list, nil
}

func (r *MobSFReport) codeRules() (map[string]mobsfCodeRule, error) {
	if len(r.CodeAnalysis) == 0 || string(r.CodeAnalysis) == "null" {
		return nil, nil
	}
	var wrapped struct {
		Findings map[string]mobsfCodeRule `json:"findings"`
	}
	if err := json.Unmarshal(r.CodeAnalysis, &wrapped); err == nil && wrapped.Findings != nil {
		return wrapped.Findings, nil
	}
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(r.CodeAnalysis, &flat); err != nil {
		return nil, fmt.Errorf("decode code_analysis: %w", err)
	}
	rules := map[string]mobsfCodeRule{}
	for id, raw := range flat {
		var rule mobsfCodeRule
		if json.Unmarshal(raw, &rule) == nil && rule.Files != nil {
			rules[id] = rule
		}
	}
	return rules, nil
}

// Findings converts the report into secuscan findings attributed to scannerName.
func (r *MobSFReport) Findings(scannerName string) ([]model.Finding, error) {
	manifest, err := r.manifestFindings()
	if err != nil {
		return nil, err
	}
	var out []model.Finding
	for _, m := range manifest {
		level := m.Severity
		if level == "" {
			level = m.Stat
		}
		sev, ok := mobsfSeverity(level)
		if !ok {
			continue
		}
		desc := m.Description
		if desc == "" {
			desc = m.Desc
		}
		if m.Title != "" {
			desc = m.Title + ": " + desc
		}
		out = append(out, model.Finding{
			Kind:        "Manifest Analysis",
			File:        "AndroidManifest.xml",
			Severity:    sev,
			Description: strings.TrimSpace(desc),
			Scanner:     scannerName,
		})
	}

	rules, err := r.codeRules()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rules))
	for id := range rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rule := rules[id]
		sev, ok := mobsfSeverity(rule.Metadata.Severity)
		if !ok {
			continue
		}
		desc := rule.Metadata.Description
		if rule.Metadata.CWE != "" {
			desc += " (" + rule.Metadata.CWE + ")"
		}
		files := make([]string, 0, len(rule.Files))
		for f := range rule.Files {
			files = append(files, f)
		}
		sort.Strings(files)
		for _, f := range files {
			out = append(out, model.Finding{
				Kind:        "Code Analysis",
				File:        f,
				Severity:    sev,
				Description: desc,
				Line:        firstLine(rule.Files[f]),
				Scanner:     scannerName,
			})
		}
	}
	return out, nil
}

// firstLine picks the first number out of MobSF's "12,40" line lists.
func firstLine(lines string) int {
	head, _, _ := strings.Cut(lines, ",")
	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil || n < 1 {
		return 0
	}
	return n
}

// MobSFScanner uploads the project to a running MobSF and maps its report.
type MobSFScanner struct {
	client *MobSFClient
	log    zerolog.Logger
}

func NewMobSFScanner(client *MobSFClient, log zerolog.Logger) *MobSFScanner {
	return &MobSFScanner{client: client, log: log}
}

func (s *MobSFScanner) Name() string    { return "mobsf" }
func (s *MobSFScanner) Service() string { return service.MobSF }

func (s *MobSFScanner) Scan(ctx context.Context, target string) ([]model.Finding, error) {
	name, payload, err := mobsfArtifact(ctx, target)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("artifact", name).Int("bytes", len(payload)).Msg("uploading to mobsf")

	up, err := s.client.Upload(ctx, name, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if err := s.client.Scan(ctx, up); err != nil {
		return nil, fmt.Errorf("scan %s: %w", up.Hash, err)
	}
	rep, err := s.client.Report(ctx, up.Hash)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", up.Hash, err)
	}
	return rep.Findings(s.Name())
}

// mobsfArtifact prefers a built APK in the tree and otherwise zips the sources.
// Build output directories are searched for the APK, since Gradle writes it to
// <module>/build/outputs/apk.
func mobsfArtifact(ctx context.Context, target string) (string, []byte, error) {
	var apk string
	err := walkTree(ctx, target, apkSearchSkip, func(p string, d fs.DirEntry) error {
		if strings.EqualFold(filepath.Ext(d.Name()), ".apk") {
			apk = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	if apk != "" {
		data, err := os.ReadFile(apk)
		if err != nil {
			return "", nil, err
		}
		return filepath.Base(apk), data, nil
	}

	var buf bytes.Buffer
	if err := zipTree(ctx, target, &buf); err != nil {
		return "", nil, fmt.Errorf("zip %s: %w", target, err)
	}
	base := filepath.Base(filepath.Clean(target))
	if base == "." || base == string(filepath.Separator) {
		base = "project"
	}
	return base + ".zip", buf.Bytes(), nil
}

func apkSearchSkip(name string) bool {
	return name != "build" && detect.SkipDir(name)
}

func zipTree(ctx context.Context, root string, w io.Writer) error {
	zw := zip.NewWriter(w)
	err := walkFiles(ctx, root, func(p string, d fs.DirEntry) error {
		f, err := os.Open(p)
		if err != nil {
			return nil
		}
		defer f.Close()
		dst, err := zw.Create(relPath(root, p))
		if err != nil {
			return err
		}
		_, err = io.Copy(dst, f)
		return err
	})
	if err != nil {
		return err
	}
	return zw.Close()
}
