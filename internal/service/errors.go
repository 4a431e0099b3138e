package service

import (
	"errors"
	"fmt"
	"time"
)

// ErrRuntimeUnavailable means the container engine could not be reached.
var ErrRuntimeUnavailable = errors.New("container runtime unavailable")

// ErrMobSFAPIKey is returned by the MobSF preflight when no API key is
// configured. MobSF then generates its own key and rejects every API call.
var ErrMobSFAPIKey = errors.New("MOBSF_API_KEY is not set")

type PullError struct {
	Image string
	Err   error
}

func (e *PullError) Error() string { return fmt.Sprintf("pull %s: %v", e.Image, e.Err) }
func (e *PullError) Unwrap() error { return e.Err }

type ReadinessTimeoutError struct {
	Service string
	Timeout time.Duration
	Last    error
}

func (e *ReadinessTimeoutError) Error() string {
	msg := fmt.Sprintf("%s not ready after %s", e.Service, e.Timeout)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

// CommandError reports a one-shot command that could not run or exited non-zero.
type CommandError struct {
	Image    string
	ExitCode int64
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command in %s: %v", e.Image, e.Err)
	}
	return fmt.Sprintf("command in %s exited with code %d: %s", e.Image, e.ExitCode, tail(e.Output, 512))
}

func (e *CommandError) Unwrap() error { return e.Err }

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
