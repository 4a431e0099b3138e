package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/yourorg/secuscan/internal/detect"
	"github.com/yourorg/secuscan/internal/model"
)

var (
	headerColor = color.New(color.Bold)
	warnColor   = color.New(color.FgYellow, color.Bold)
	okColor     = color.New(color.FgGreen)
	sevColors   = map[model.Severity]*color.Color{
		model.SeverityHigh:   color.New(color.FgRed, color.Bold),
		model.SeverityMedium: color.New(color.FgYellow),
		model.SeverityLow:    color.New(color.FgCyan),
	}
)

// Console is the human-readable terminal report.
type Console struct{}

func (Console) Write(w io.Writer, rep *model.Report) error {
	ew := &errWriter{w: w}

	headerColor.Fprintf(ew, "secuscan report %s\n", rep.ID)
	ew.printf("Target:    %s\n", rep.Target)
	ew.printf("Category:  %s\n", rep.Category)
	ew.printf("Scanners:  %s\n", strings.Join(rep.Scanners, ", "))
	ew.printf("Duration:  %s\n\n", rep.Duration().Round(time.Millisecond))

	if unrecognized(rep) {
		warnColor.Fprintln(ew, unrecognizedNote)
		ew.printf("\n")
	}

	if rep.ReducedCoverage() {
		warnColor.Fprintf(ew, "Scanned with reduced coverage: %d component(s) did not contribute\n", len(rep.Warnings))
		for _, wn := range rep.Warnings {
			ew.printf("  - %s: %s\n", wn.Component, wn.Message)
		}
		ew.printf("\n")
	}

	if len(rep.Findings) == 0 {
		okColor.Fprintln(ew, "No findings.")
	} else {
		headerColor.Fprintf(ew, "Findings (%d)\n", len(rep.Findings))
		for _, f := range rep.Findings {
			c, ok := sevColors[f.Severity]
			if !ok {
				c = color.New()
			}
			c.Fprintf(ew, "  %-8s", "["+string(f.Severity)+"]")
			ew.printf(" %s  %s", f.Kind, location(f))
			if f.Scanner != "" {
				ew.printf("  (%s)", f.Scanner)
			}
			ew.printf("\n           %s\n", f.Description)
		}
	}

	s := rep.Summary
	ew.printf("\nSummary: %d findings (HIGH %d, MEDIUM %d, LOW %d)\n", s.Total, s.High, s.Medium, s.Low)
	return ew.err
}

const unrecognizedNote = "Unrecognized project type: no Android or Web scanners applied, only project-independent checks ran."

// unrecognized is true when classification found neither an Android nor a Web project.
func unrecognized(rep *model.Report) bool {
	return rep.Category == string(detect.Unknown)
}

func location(f model.Finding) string {
	if f.Line > 0 {
		return fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return f.File
}

// errWriter remembers the first write error so rendering code can stay linear.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...any) {
	fmt.Fprintf(e, format, args...)
}
