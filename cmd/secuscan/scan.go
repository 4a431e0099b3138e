package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/secuscan/internal/engine"
	"github.com/yourorg/secuscan/internal/model"
	"github.com/yourorg/secuscan/internal/report"
	"github.com/yourorg/secuscan/internal/s3"
	"github.com/yourorg/secuscan/internal/scanner"
	"github.com/yourorg/secuscan/internal/service"
)

const sinkTimeout = 30 * time.Second

type scanOptions struct {
	format     string
	output     string
	timeout    time.Duration
	noServices bool
	failOn     string
}

func newScanCmd(a *app) *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan <target>",
		Short: "Scan a project directory and report findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("timeout") {
				a.cfg.ScanTimeout = opts.timeout
			}
			if opts.noServices {
				a.cfg.DisableServices = true
			}
			return a.scan(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.format, "format", "console", "report format: console, json or html")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the report to this file")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "overall scan timeout (default from SECUSCAN_SCAN_TIMEOUT)")
	cmd.Flags().BoolVar(&opts.noServices, "no-services", false, "do not start auxiliary services")
	cmd.Flags().StringVar(&opts.failOn, "fail-on", "", "exit 2 when a finding at or above this severity exists (LOW, MEDIUM, HIGH)")
	return cmd
}

func (a *app) scan(cmd *cobra.Command, target string, opts scanOptions) error {
	format, err := report.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	var threshold model.Severity
	if opts.failOn != "" {
		if threshold, err = model.ParseSeverity(opts.failOn); err != nil {
			return fmt.Errorf("--fail-on: %w", err)
		}
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return err
	}
	if abs, err = filepath.EvalSymlinks(abs); err != nil {
		return fmt.Errorf("target: %w", err)
	}

	ctx := cmd.Context()
	rt, closeRT := a.runtime()
	defer closeRT()
	mgrs := a.managers(rt)

	reg := scanner.Default(a.cfg, mgrs[service.SonarQube], a.log)
	preps := map[string]engine.Preparer{}
	for name, m := range mgrs {
		preps[name] = m
	}

	rep, runErr := engine.New(a.cfg, reg, preps, a.log).Run(ctx, abs)

	if err := a.render(cmd, rep, format, opts.output); err != nil {
		return err
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	a.publish(sinkCtx, rep)

	if runErr != nil {
		return runErr
	}
	if threshold != "" && rep.MaxSeverity().Rank() >= threshold.Rank() {
		return &exitError{code: 2, msg: fmt.Sprintf("found %s severity findings (--fail-on %s)", rep.MaxSeverity(), threshold)}
	}
	return nil
}

func (a *app) render(cmd *cobra.Command, rep *model.Report, format report.Format, output string) error {
	if format == report.FormatConsole {
		if err := (report.Console{}).Write(cmd.OutOrStdout(), rep); err != nil {
			return err
		}
		if output == "" {
			return nil
		}
	}
	path, err := report.WriteFile(output, a.cfg.OutputDir, format, rep)
	if err != nil {
		return err
	}
	a.log.Info().Str("path", path).Msg("report written")
	return nil
}

// publish hands the report to the configured sinks. Failures are logged only.
func (a *app) publish(ctx context.Context, rep *model.Report) {
	archive, err := a.openArchive()
	if err != nil {
		a.log.Warn().Err(err).Msg("report archive unavailable")
	}
	store, err := a.openStore(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("run store unavailable")
	}

	archived := false
	if archive != nil {
		archived = report.PublishAll(ctx, rep, a.log, archive) == 1
	}
	if store == nil {
		return
	}
	defer store.Close()
	if report.PublishAll(ctx, rep, a.log, store) == 1 && archived {
		if err := store.SetReportLocation(ctx, rep.ID, archive.Bucket(), s3.ReportKey(rep.ID)); err != nil {
			a.log.Warn().Err(err).Msg("could not record report location")
		}
	}
}
