package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yourorg/secuscan/internal/config"
	"github.com/yourorg/secuscan/internal/db"
	"github.com/yourorg/secuscan/internal/docker"
	"github.com/yourorg/secuscan/internal/logging"
	"github.com/yourorg/secuscan/internal/s3"
	"github.com/yourorg/secuscan/internal/service"
)

var version = "dev"

// exitError carries a specific process exit code.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type app struct {
	cfg config.Config
	log zerolog.Logger

	debug     bool
	logFormat string
}

func main() {
	// Local dev convenience; missing files are fine.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := newRootCmd(&app{}).ExecuteContext(ctx)
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "secuscan:", err)
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	os.Exit(1)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "secuscan",
		Short:         "Classify a source tree and run the security scanners that fit it",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.cfg = config.Load()
			if cmd.Flags().Changed("debug") {
				a.cfg.Debug = a.debug
			}
			if cmd.Flags().Changed("log-format") {
				a.cfg.LogFormat = a.logFormat
			}
			a.log = logging.New(a.cfg.LogFormat, a.cfg.Debug, os.Stderr)
		},
	}
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "console", "log format: console or json")

	root.AddCommand(newScanCmd(a), newDetectCmd(a), newServicesCmd(a), newHistoryCmd(a))
	return root
}

// runtime connects to the local Docker engine. A nil Runtime means unavailable,
// which the service managers treat as such.
func (a *app) runtime() (service.Runtime, func()) {
	rt, err := docker.New()
	if err != nil {
		a.log.Warn().Err(err).Msg("docker client unavailable, auxiliary services disabled")
		return nil, func() {}
	}
	return rt, func() { _ = rt.Close() }
}

func (a *app) managers(rt service.Runtime) map[string]*service.Manager {
	return map[string]*service.Manager{
		service.MobSF:     service.NewManager(service.MobSFDescriptor(a.cfg), rt, a.log),
		service.SonarQube: service.NewManager(service.SonarQubeDescriptor(a.cfg), rt, a.log),
	}
}

// openStore connects to the run store when DATABASE_URL is set.
func (a *app) openStore(ctx context.Context) (*db.Store, error) {
	if a.cfg.DatabaseURL == "" {
		return nil, nil
	}
	store, err := db.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		if !db.IsInsufficientPrivilege(err) {
			store.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		a.log.Warn().Err(err).Msg("ensure schema skipped due to insufficient privilege")
	}
	return store, nil
}

// openArchive returns the report archive when object storage is configured.
func (a *app) openArchive() (*s3.Client, error) {
	if !a.cfg.ArchiveEnabled() {
		return nil, nil
	}
	c, err := s3.New(a.cfg.S3Endpoint, a.cfg.S3AccessKey, a.cfg.S3SecretKey, a.cfg.S3UseSSL, a.cfg.ReportsBucket)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return c, nil
}
