// Package report renders scan reports and hands them to optional sinks.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/yourorg/secuscan/internal/model"
)

type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
	FormatHTML    Format = "html"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatConsole, FormatJSON, FormatHTML:
		return f, nil
	case "":
		return FormatConsole, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want console, json or html)", s)
	}
}

// Writer renders a report to w.
type Writer interface {
	Write(w io.Writer, rep *model.Report) error
}

func For(f Format) Writer {
	switch f {
	case FormatJSON:
		return JSON{}
	case FormatHTML:
		return HTML{}
	default:
		return Console{}
	}
}

func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatHTML:
		return ".html"
	default:
		return ".txt"
	}
}

// WriteFile renders rep into path, creating parent directories. An empty
// path means dir/secuscan-<run id><ext>.
func WriteFile(path, dir string, f Format, rep *model.Report) (string, error) {
	if path == "" {
		path = filepath.Join(dir, "secuscan-"+rep.ID+f.Extension())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	if err := For(f).Write(out, rep); err != nil {
		out.Close()
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// Publisher is a sink that keeps a finished report somewhere else.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, rep *model.Report) error
}

// PublishAll hands rep to every sink. Sink failures are logged, never returned.
func PublishAll(ctx context.Context, rep *model.Report, log zerolog.Logger, pubs ...Publisher) int {
	ok := 0
	for _, p := range pubs {
		if err := p.Publish(ctx, rep); err != nil {
			log.Warn().Err(err).Str("sink", p.Name()).Msg("publish failed")
			continue
		}
		log.Debug().Str("sink", p.Name()).Msg("report published")
		ok++
	}
	return ok
}
