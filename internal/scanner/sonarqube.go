package scanner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/yourorg/secuscan/internal/model"
	"github.com/yourorg/secuscan/internal/service"
)

const (
	sonarProjectKey   = "secuscan_project"
	sonarSourceMount  = "/usr/src"
	sonarPageSize     = 500
	sonarMaxPages     = 20
	sonarTaskPoll     = 2 * time.Second
	sonarTaskTimeout  = 5 * time.Minute
	sonarInternalHost = "http://secuscan-sonarqube:9000"
)

var ceTaskRe = regexp.MustCompile(`api/ce/task\?id=([A-Za-z0-9_-]+)`)

// CommandRunner runs a one-shot client container next to a service.
type CommandRunner interface {
	RunCommand(ctx context.Context, req service.CommandRequest) (string, error)
}

type SonarQubeOptions struct {
	// APIURL is how secuscan reaches SonarQube from the host.
	APIURL string
	// HostURL is how the scanner container reaches it through the link.
	HostURL    string
	ProjectKey string
	Token      string
	Login      string
	Password   string
}

// SonarQubeScanner runs sonar-scanner against the target and collects the
// issues the server computed.
type SonarQubeScanner struct {
	runner       CommandRunner
	opts         SonarQubeOptions
	http         *retryablehttp.Client
	log          zerolog.Logger
	pollInterval time.Duration
	taskTimeout  time.Duration
}

func NewSonarQubeScanner(runner CommandRunner, opts SonarQubeOptions, log zerolog.Logger) *SonarQubeScanner {
	if opts.HostURL == "" {
		opts.HostURL = sonarInternalHost
	}
	if opts.ProjectKey == "" {
		opts.ProjectKey = sonarProjectKey
	}
	opts.APIURL = strings.TrimRight(opts.APIURL, "/")
	log = log.With().Str("service", service.SonarQube).Logger()
	return &SonarQubeScanner{
		runner:       runner,
		opts:         opts,
		http:         newHTTPClient(log),
		log:          log,
		pollInterval: sonarTaskPoll,
		taskTimeout:  sonarTaskTimeout,
	}
}

func (s *SonarQubeScanner) Name() string    { return "sonarqube" }
func (s *SonarQubeScanner) Service() string { return service.SonarQube }

func (s *SonarQubeScanner) Scan(ctx context.Context, target string) ([]model.Finding, error) {
	if s.runner == nil {
		return nil, errors.New("no command runner configured")
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, err
	}

	out, err := s.runner.RunCommand(ctx, service.CommandRequest{
		Cmd: []string{
			"-Dsonar.projectKey=" + s.opts.ProjectKey,
			"-Dsonar.sources=.",
			"-Dsonar.java.binaries=.",
		},
		Env:    s.scannerEnv(),
		Mounts: []service.Mount{{Source: abs, Target: sonarSourceMount}},
	})
	if err != nil {
		return nil, err
	}

	taskID := ceTaskID(abs, out)
	if taskID != "" {
		if err := s.waitTask(ctx, taskID); err != nil {
			return nil, err
		}
	} else {
		s.log.Warn().Msg("no compute engine task id in scanner output; reading issues as they are")
	}
	return s.issues(ctx)
}

func (s *SonarQubeScanner) scannerEnv() map[string]string {
	env := map[string]string{"SONAR_HOST_URL": s.opts.HostURL}
	if s.opts.Token != "" {
		env["SONAR_TOKEN"] = s.opts.Token
	} else {
		env["SONAR_LOGIN"] = s.opts.Login
		env["SONAR_PASSWORD"] = s.opts.Password
	}
	return env
}

// ceTaskID reads the background task id from the scanner's report file,
// falling back to the URL the scanner prints.
func ceTaskID(target, output string) string {
	f, err := os.Open(filepath.Join(target, ".scannerwork", "report-task.txt"))
	if err == nil {
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if v, ok := strings.CutPrefix(sc.Text(), "ceTaskId="); ok {
				return strings.TrimSpace(v)
			}
		}
	}
	if m := ceTaskRe.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	return ""
}

func (s *SonarQubeScanner) waitTask(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		var resp struct {
			Task struct {
				Status       string `json:"status"`
				ErrorMessage string `json:"errorMessage"`
			} `json:"task"`
		}
		if err := s.get(ctx, "/api/ce/task", url.Values{"id": {id}}, &resp); err != nil {
			return fmt.Errorf("ce task %s: %w", id, err)
		}
		switch resp.Task.Status {
		case "SUCCESS":
			return nil
		case "FAILED", "CANCELED":
			return fmt.Errorf("ce task %s %s: %s", id, strings.ToLower(resp.Task.Status), resp.Task.ErrorMessage)
		}
		s.log.Debug().Str("task", id).Str("status", resp.Task.Status).Msg("waiting for analysis")
		select {
		case <-ctx.Done():
			return fmt.Errorf("ce task %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

type sonarIssue struct {
	Rule      string `json:"rule"`
	Severity  string `json:"severity"`
	Component string `json:"component"`
	Line      int    `json:"line"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Impacts   []struct {
		Severity string `json:"severity"`
	} `json:"impacts"`
}

func (s *SonarQubeScanner) issues(ctx context.Context) ([]model.Finding, error) {
	var out []model.Finding
	for page := 1; page <= sonarMaxPages; page++ {
		var resp struct {
			Paging struct {
				Total int `json:"total"`
			} `json:"paging"`
			Issues []sonarIssue `json:"issues"`
		}
		q := url.Values{
			"componentKeys": {s.opts.ProjectKey},
			"resolved":      {"false"},
			"ps":            {strconv.Itoa(sonarPageSize)},
			"p":             {strconv.Itoa(page)},
		}
		if err := s.get(ctx, "/api/issues/search", q, &resp); err != nil {
			return nil, fmt.Errorf("issues: %w", err)
		}
		for _, is := range resp.Issues {
			out = append(out, s.finding(is))
		}
		if len(resp.Issues) == 0 || page*sonarPageSize >= resp.Paging.Total {
			break
		}
	}
	return out, nil
}

func (s *SonarQubeScanner) finding(is sonarIssue) model.Finding {
	level := is.Severity
	if level == "" && len(is.Impacts) > 0 {
		level = is.Impacts[0].Severity
	}
	file := is.Component
	if _, after, ok := strings.Cut(is.Component, ":"); ok {
		file = after
	}
	desc := is.Message
	if is.Rule != "" {
		desc += " (" + is.Rule + ")"
	}
	return model.Finding{
		Kind:        sonarKind(is.Type),
		File:        file,
		Severity:    sonarSeverity(level),
		Description: desc,
		Line:        is.Line,
		Scanner:     s.Name(),
	}
}

func sonarSeverity(s string) model.Severity {
	switch strings.ToUpper(s) {
	case "BLOCKER", "CRITICAL", "HIGH":
		return model.SeverityHigh
	case "MAJOR", "MEDIUM":
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func sonarKind(t string) string {
	switch t {
	case "VULNERABILITY":
		return "Vulnerability"
	case "BUG":
		return "Bug"
	case "CODE_SMELL":
		return "Code Smell"
	case "SECURITY_HOTSPOT":
		return "Security Hotspot"
	default:
		return "Static Analysis"
	}
}

func (s *SonarQubeScanner) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", s.opts.APIURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	if s.opts.Token != "" {
		req.SetBasicAuth(s.opts.Token, "")
	} else if s.opts.Login != "" {
		req.SetBasicAuth(s.opts.Login, s.opts.Password)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
