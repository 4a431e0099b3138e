package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/secuscan/internal/config"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryReturnsLastError(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 3, 0, func() error {
		calls++
		return errors.New("still broken")
	})
	require.EqualError(t, err, "still broken")
	assert.Equal(t, 3, calls)
}

func TestRetryBackoffDoubles(t *testing.T) {
	const base = 20 * time.Millisecond
	var stamps []time.Time
	err := retry(context.Background(), 3, base, func() error {
		stamps = append(stamps, time.Now())
		return errors.New("registry timeout")
	})
	require.Error(t, err)
	require.Len(t, stamps, 3)

	first, second := stamps[1].Sub(stamps[0]), stamps[2].Sub(stamps[1])
	assert.GreaterOrEqual(t, first, base)
	assert.Less(t, first, time.Second)
	assert.GreaterOrEqual(t, second, 2*base)
	assert.Less(t, second, time.Second)
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := retry(ctx, 5, time.Hour, func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestFollowPull(t *testing.T) {
	stream := `{"status":"Pulling from library/sonarqube","id":"community"}
{"status":"Downloading","id":"a1","progressDetail":{"current":1,"total":2}}
{"status":"Downloading","id":"a1","progressDetail":{"current":2,"total":2}}
{"status":"Pull complete","id":"a1"}
`
	require.NoError(t, followPull(strings.NewReader(stream), "sonarqube:community", zerolog.Nop()))

	withErr := `{"status":"Pulling"}
{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}
`
	err := followPull(strings.NewReader(withErr), "nope:latest", zerolog.Nop())
	require.EqualError(t, err, "manifest unknown")

	err = followPull(strings.NewReader("{not json"), "x", zerolog.Nop())
	require.Error(t, err)
}

func TestHTTPProbe(t *testing.T) {
	status := "STARTING"
	code := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/system/status", r.URL.Path)
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"id":"x","version":"10.4","status":"` + status + `"}`))
	}))
	defer srv.Close()

	p := SonarQubeDescriptor(config.Config{SonarURL: srv.URL}).Probe

	ready, err := p.Ready(context.Background())
	require.NoError(t, err)
	assert.False(t, ready)

	status = "UP"
	ready, err = p.Ready(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)

	code = http.StatusServiceUnavailable
	ready, err = p.Ready(context.Background())
	require.Error(t, err)
	assert.False(t, ready)
}

func TestHTTPProbeSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	p := MobSFDescriptor(config.Config{MobSFURL: srv.URL, MobSFAPIKey: "secret"}).Probe
	ready, err := p.Ready(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)

	p = MobSFDescriptor(config.Config{MobSFURL: srv.URL}).Probe
	ready, _ = p.Ready(context.Background())
	assert.False(t, ready)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "pull sonarqube:community: denied", (&PullError{Image: "sonarqube:community", Err: errors.New("denied")}).Error())
	assert.Equal(t, "sonarqube not ready after 3s", (&ReadinessTimeoutError{Service: "sonarqube", Timeout: 3 * time.Second}).Error())
	assert.Contains(t, (&CommandError{Image: "cli", ExitCode: 2, Output: "EXECUTION FAILURE"}).Error(), "exited with code 2")
	assert.Equal(t, "...cdef", tail("abcdef", 4))
}
