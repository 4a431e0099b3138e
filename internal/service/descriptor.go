package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yourorg/secuscan/internal/config"
)

const (
	MobSF     = "mobsf"
	SonarQube = "sonarqube"

	defaultPollInterval = 3 * time.Second
	defaultReadyTimeout = 180 * time.Second
)

// Probe answers whether a service can accept work. It must be idempotent.
type Probe interface {
	Ready(ctx context.Context) (bool, error)
}

// Descriptor is the static description of one auxiliary service.
type Descriptor struct {
	Name          string
	Image         string
	ClientImage   string
	ContainerName string
	Ports         []PortBinding
	Env           map[string]string
	Mounts        []Mount
	Probe         Probe
	PollInterval  time.Duration
	ReadyTimeout  time.Duration

	// Preflight, when set, runs before anything touches the runtime. A
	// non-nil error fails Prepare immediately.
	Preflight func() error
}

// HTTPProbe is ready when GET URL returns 200 and, if Field is set, the JSON
// body has Field equal to Want.
type HTTPProbe struct {
	URL    string
	Field  string
	Want   string
	Header http.Header
	Client *http.Client
}

func (p HTTPProbe) Ready(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false, err
	}
	for k, vs := range p.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
	if p.Field == "" {
		return true, nil
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode status: %w", err)
	}
	got, _ := body[p.Field].(string)
	return got == p.Want, nil
}

func MobSFDescriptor(cfg config.Config) Descriptor {
	env := map[string]string{}
	header := http.Header{}
	if cfg.MobSFAPIKey != "" {
		env["MOBSF_API_KEY"] = cfg.MobSFAPIKey
		header.Set("Authorization", cfg.MobSFAPIKey)
	}
	return Descriptor{
		Name:          MobSF,
		Image:         "opensecurity/mobile-security-framework-mobsf:latest",
		ContainerName: "secuscan-mobsf",
		Ports:         []PortBinding{{ContainerPort: "8000/tcp", HostPort: "8000"}},
		Env:           env,
		Probe:         HTTPProbe{URL: cfg.MobSFURL + "/api/v1/scans", Header: header},
		PollInterval:  defaultPollInterval,
		ReadyTimeout:  cfg.MobSFReadyTimeout,
		Preflight: func() error {
			if cfg.MobSFAPIKey == "" {
				return ErrMobSFAPIKey
			}
			return nil
		},
	}
}

func SonarQubeDescriptor(cfg config.Config) Descriptor {
	return Descriptor{
		Name:          SonarQube,
		Image:         "sonarqube:community",
		ClientImage:   "sonarsource/sonar-scanner-cli:latest",
		ContainerName: "secuscan-sonarqube",
		Ports:         []PortBinding{{ContainerPort: "9000/tcp", HostPort: "9000"}},
		Env:           map[string]string{"SONAR_ES_BOOTSTRAP_CHECKS_DISABLE": "true"},
		Mounts: []Mount{
			{Source: "sonarqube_data", Target: "/opt/sonarqube/data"},
			{Source: "sonarqube_extensions", Target: "/opt/sonarqube/extensions"},
			{Source: "sonarqube_logs", Target: "/opt/sonarqube/logs"},
		},
		Probe:        HTTPProbe{URL: cfg.SonarURL + "/api/system/status", Field: "status", Want: "UP"},
		PollInterval: defaultPollInterval,
		ReadyTimeout: cfg.SonarReadyTimeout,
	}
}
