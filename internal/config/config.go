package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Debug       bool
	OutputDir   string
	LogFormat   string
	ScanTimeout time.Duration
	Concurrency int

	// Auxiliary services are prepared only when this is false.
	DisableServices bool

	MobSFURL          string
	MobSFAPIKey       string
	MobSFReadyTimeout time.Duration

	SonarURL          string
	SonarToken        string
	SonarLogin        string
	SonarPassword     string
	SonarReadyTimeout time.Duration

	BanditPath string

	DatabaseURL   string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3UseSSL      bool
	ReportsBucket string
}

func getBool(key, def string) bool {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return false
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// getDuration accepts Go durations ("90s", "3m") or a bare number of seconds.
func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		OutputDir:         "reports",
		LogFormat:         "console",
		ScanTimeout:       30 * time.Minute,
		Concurrency:       4,
		MobSFURL:          "http://localhost:8000",
		MobSFReadyTimeout: 180 * time.Second,
		SonarURL:          "http://localhost:9000",
		SonarLogin:        "admin",
		SonarPassword:     "admin",
		SonarReadyTimeout: 180 * time.Second,
		BanditPath:        "bandit",
	}
}

func Load() Config {
	def := Default()
	return Config{
		Debug:             getBool("SECUSCAN_DEBUG", "false"),
		OutputDir:         getString("SECUSCAN_OUTPUT_DIR", def.OutputDir),
		LogFormat:         getString("SECUSCAN_LOG_FORMAT", def.LogFormat),
		ScanTimeout:       getDuration("SECUSCAN_SCAN_TIMEOUT", def.ScanTimeout),
		Concurrency:       getInt("SECUSCAN_CONCURRENCY", def.Concurrency),
		DisableServices:   getBool("SECUSCAN_NO_SERVICES", "false"),
		MobSFURL:          strings.TrimRight(getString("MOBSF_URL", def.MobSFURL), "/"),
		MobSFAPIKey:       os.Getenv("MOBSF_API_KEY"),
		MobSFReadyTimeout: getDuration("MOBSF_READY_TIMEOUT", def.MobSFReadyTimeout),
		SonarURL:          strings.TrimRight(getString("SONAR_URL", def.SonarURL), "/"),
		SonarToken:        os.Getenv("SONAR_TOKEN"),
		SonarLogin:        getString("SONAR_LOGIN", def.SonarLogin),
		SonarPassword:     getString("SONAR_PASSWORD", def.SonarPassword),
		SonarReadyTimeout: getDuration("SONAR_READY_TIMEOUT", def.SonarReadyTimeout),
		BanditPath:        getString("BANDIT_PATH", def.BanditPath),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:          getBool("S3_USE_SSL", "false"),
		ReportsBucket:     os.Getenv("REPORTS_BUCKET"),
	}
}

// ArchiveEnabled reports whether finished reports should be uploaded to object storage.
func (c Config) ArchiveEnabled() bool {
	return c.S3Endpoint != "" && c.ReportsBucket != ""
}
