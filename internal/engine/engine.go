// Package engine runs one scan: classify, pick scanners, bring up the
// services they need and collect what they find.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/secuscan/internal/config"
	"github.com/yourorg/secuscan/internal/detect"
	"github.com/yourorg/secuscan/internal/model"
	"github.com/yourorg/secuscan/internal/scanner"
)

// ErrServicesDisabled is the skip reason when auxiliary services are turned off.
var ErrServicesDisabled = errors.New("auxiliary services disabled")

// Preparer brings an auxiliary service to ready. *service.Manager implements it.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// SkipError marks a delegating scanner that never ran because its service did not become ready.
type SkipError struct {
	Service string
	Err     error
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skipped, %s service not ready: %v", e.Service, e.Err)
}

func (e *SkipError) Unwrap() error { return e.Err }

type Engine struct {
	cfg      config.Config
	registry *scanner.Registry
	services map[string]Preparer
	log      zerolog.Logger
	now      func() time.Time
}

func New(cfg config.Config, registry *scanner.Registry, services map[string]Preparer, log zerolog.Logger) *Engine {
	if services == nil {
		services = map[string]Preparer{}
	}
	return &Engine{cfg: cfg, registry: registry, services: services, log: log, now: time.Now}
}

type preparation struct {
	done chan struct{}
	err  error
}

// Run scans target and always returns a report. The error is non-nil only
// when ctx ended before the run finished; the report then holds what was collected.
func (e *Engine) Run(ctx context.Context, target string) (*model.Report, error) {
	rep := model.NewReport(target, e.now())
	log := e.log.With().Str("run", rep.ID).Logger()

	if e.cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ScanTimeout)
		defer cancel()
	}

	cls := detect.Classify(target)
	rep.Category = string(cls.Category)
	rep.Extensions = cls.Extensions
	log.Info().Str("target", target).Str("category", rep.Category).Msg("classified project")

	scanners := e.registry.Select(cls.Category)
	for _, s := range scanners {
		rep.Scanners = append(rep.Scanners, s.Name())
	}
	log.Info().Strs("scanners", rep.Scanners).Msg("selected scanners")

	var g errgroup.Group
	preps := e.prepareServices(ctx, &g, scanners, log)

	workers := e.cfg.Concurrency
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	results := make([]ScannerResult, len(scanners))
	for i, s := range scanners {
		g.Go(func() error {
			results[i] = e.runScanner(ctx, s, target, preps, sem, log)
			return nil
		})
	}
	_ = g.Wait()

	rep.Findings, rep.Warnings = Aggregate(results)
	err := ctx.Err()
	if err != nil {
		rep.Warnings = append(rep.Warnings, model.Warning{Component: "engine", Message: "run interrupted: " + err.Error()})
	}
	rep.Summary = model.Summarize(rep.Findings)
	rep.FinishedAt = e.now()

	ev := log.Info()
	if rep.ReducedCoverage() {
		ev = log.Warn().Int("warnings", len(rep.Warnings))
	}
	ev.Int("findings", rep.Summary.Total).Dur("took", rep.Duration()).Msg("scan finished")
	return rep, err
}

// prepareServices starts one preparation per distinct service the selected
// scanners depend on. Each preparation closes done when it settles.
func (e *Engine) prepareServices(ctx context.Context, g *errgroup.Group, scanners []scanner.Scanner, log zerolog.Logger) map[string]*preparation {
	preps := map[string]*preparation{}
	for _, s := range scanners {
		d, ok := s.(scanner.Delegating)
		if !ok {
			continue
		}
		name := d.Service()
		if _, seen := preps[name]; seen {
			continue
		}
		p := &preparation{done: make(chan struct{})}
		preps[name] = p

		mgr, ok := e.services[name]
		switch {
		case e.cfg.DisableServices:
			p.err = ErrServicesDisabled
			close(p.done)
		case !ok || mgr == nil:
			p.err = fmt.Errorf("no manager registered for %q", name)
			close(p.done)
		default:
			g.Go(func() error {
				defer close(p.done)
				start := time.Now()
				p.err = mgr.Prepare(ctx)
				if p.err != nil {
					log.Warn().Err(p.err).Str("service", name).Msg("service not ready, dependent scanners will be skipped")
					return nil
				}
				log.Info().Str("service", name).Dur("took", time.Since(start)).Msg("service ready")
				return nil
			})
		}
	}
	return preps
}

func (e *Engine) runScanner(ctx context.Context, s scanner.Scanner, target string, preps map[string]*preparation, sem chan struct{}, log zerolog.Logger) (res ScannerResult) {
	name := s.Name()
	res.Scanner = name

	if d, ok := s.(scanner.Delegating); ok {
		p := preps[d.Service()]
		select {
		case <-p.done:
		case <-ctx.Done():
			res.Err = &SkipError{Service: d.Service(), Err: ctx.Err()}
			return res
		}
		if p.err != nil {
			res.Err = &SkipError{Service: d.Service(), Err: p.err}
			return res
		}
	}

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		res.Err = &scanner.Error{Scanner: name, Err: ctx.Err()}
		return res
	}
	defer func() { <-sem }()

	defer func() {
		if r := recover(); r != nil {
			res.Findings = nil
			res.Err = &scanner.Error{Scanner: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	start := time.Now()
	log.Debug().Str("scanner", name).Msg("scanner started")
	findings, err := s.Scan(ctx, target)
	if err != nil {
		log.Warn().Err(err).Str("scanner", name).Msg("scanner failed")
		res.Err = &scanner.Error{Scanner: name, Err: err}
		return res
	}
	for _, f := range findings {
		if err := f.Validate(); err != nil {
			res.Err = &scanner.Error{Scanner: name, Err: fmt.Errorf("invalid finding: %w", err)}
			return res
		}
	}
	log.Info().Str("scanner", name).Int("findings", len(findings)).Dur("took", time.Since(start)).Msg("scanner finished")
	res.Findings = findings
	return res
}
