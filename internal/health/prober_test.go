package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/slipway/internal/config"
	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/logstream"
)

type nopStore struct{}

func (nopStore) InsertBatch(context.Context, int64, []domain.LogEntry) error { return nil }

func testLogger(t *testing.T) (*logstream.Logger, func() []domain.LogEntry) {
	t.Helper()
	reg := logstream.NewRegistry()
	l := logstream.NewLogger(1, reg, nopStore{}, slog.New(slog.DiscardHandler))
	t.Cleanup(l.Close)
	return l, func() []domain.LogEntry {
		buf, _ := reg.Lookup(1)
		return buf.Snapshot()
	}
}

func newTestProber(verbosity config.Verbosity) *Prober {
	p := NewProber(verbosity)
	p.sleep = func(time.Duration) {}
	return p
}

func TestHTTPProbePassesOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	log, _ := testLogger(t)
	p := newTestProber(config.VerbosityMinimal)

	// The listener answers on 127.0.0.1, which the probe rewrites to the
	// server's host; both must point at the same place.
	cfg := domain.HealthCheckConfig{
		Enabled: true, Kind: domain.HealthCheckHTTP,
		URL: srv.URL, Timeout: 2, Retries: 1,
	}
	ok, err := p.Check(cfg, &domain.Project{}, &domain.Server{Name: "web-1", Host: u.Hostname()}, nil, log)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTPProbeFailsOn5xxAfterRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	log, entries := testLogger(t)
	p := newTestProber(config.VerbosityDetailed)

	cfg := domain.HealthCheckConfig{
		Enabled: true, Kind: domain.HealthCheckHTTP,
		URL: srv.URL, Timeout: 2, Retries: 3, Interval: 1,
	}
	ok, err := p.Check(cfg, &domain.Project{}, &domain.Server{Name: "web-1", Host: u.Hostname()}, nil, log)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, attempts)

	warnings := 0
	for _, e := range entries() {
		if e.Level == domain.LevelWarning {
			warnings++
		}
	}
	assert.Equal(t, 3, warnings, "each failed attempt warns in detailed mode")
}

func TestHTTPProbeAttemptWarningsSuppressedInMinimalMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	log, entries := testLogger(t)
	p := newTestProber(config.VerbosityMinimal)

	cfg := domain.HealthCheckConfig{
		Enabled: true, Kind: domain.HealthCheckHTTP,
		URL: srv.URL, Timeout: 2, Retries: 2,
	}
	ok, err := p.Check(cfg, &domain.Project{}, &domain.Server{Name: "web-1", Host: u.Hostname()}, nil, log)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, entries())
}

func TestHTTPProbeRewritesLocalhost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	log, _ := testLogger(t)
	p := newTestProber(config.VerbosityMinimal)

	// Configure the probe against localhost; point the server at the
	// listener's host so only the rewrite can make it reachable.
	cfg := domain.HealthCheckConfig{
		Enabled: true, Kind: domain.HealthCheckHTTP,
		URL: "http://localhost:" + u.Port() + "/health", Timeout: 2, Retries: 1,
	}
	ok, err := p.Check(cfg, &domain.Project{}, &domain.Server{Name: "web-1", Host: u.Hostname()}, nil, log)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRewriteLocalhost(t *testing.T) {
	got, err := rewriteLocalhost("http://localhost:8080/health", "10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "http://10.1.2.3:8080/health", got)

	got, err = rewriteLocalhost("http://127.0.0.1/ping", "10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "http://10.1.2.3/ping", got)

	got, err = rewriteLocalhost("https://api.example.com/health", "10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/health", got)

	_, err = rewriteLocalhost("not a url at all", "10.1.2.3")
	assert.Error(t, err)
}

func TestTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	log, _ := testLogger(t)
	p := newTestProber(config.VerbosityMinimal)

	cfg := domain.HealthCheckConfig{
		Enabled: true, Kind: domain.HealthCheckTCP,
		Port: port, Timeout: 2, Retries: 1,
	}
	ok, err := p.Check(cfg, &domain.Project{}, &domain.Server{Name: "web-1", Host: "127.0.0.1"}, nil, log)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTCPProbeRequiresPort(t *testing.T) {
	log, _ := testLogger(t)
	p := newTestProber(config.VerbosityMinimal)

	cfg := domain.HealthCheckConfig{Enabled: true, Kind: domain.HealthCheckTCP, Retries: 1}
	_, err := p.Check(cfg, &domain.Project{}, &domain.Server{Host: "127.0.0.1"}, nil, log)
	assert.Error(t, err)
}

type fakeRunner struct {
	gotCommand string
	exitCode   int
	err        error
}

func (f *fakeRunner) Exec(command string) (int, string, string, error) {
	f.gotCommand = command
	return f.exitCode, "", "service down", f.err
}

func TestCommandProbeRunsUnderUploadPath(t *testing.T) {
	log, _ := testLogger(t)
	p := newTestProber(config.VerbosityMinimal)
	runner := &fakeRunner{exitCode: 0}

	cfg := domain.HealthCheckConfig{
		Enabled: true, Kind: domain.HealthCheckCommand,
		Command: "./status.sh", Timeout: 2, Retries: 1,
	}
	project := &domain.Project{UploadPath: "/opt/app"}
	ok, err := p.Check(cfg, project, &domain.Server{Name: "web-1"}, runner, log)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `cd "/opt/app" && ./status.sh`, runner.gotCommand)
}

func TestCommandProbeFailsOnNonzeroExit(t *testing.T) {
	log, _ := testLogger(t)
	p := newTestProber(config.VerbosityMinimal)
	runner := &fakeRunner{exitCode: 1}

	cfg := domain.HealthCheckConfig{
		Enabled: true, Kind: domain.HealthCheckCommand,
		Command: "./status.sh", Timeout: 2, Retries: 2,
	}
	ok, err := p.Check(cfg, &domain.Project{}, &domain.Server{Name: "web-1"}, runner, log)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommandProbeRequiresRunner(t *testing.T) {
	log, _ := testLogger(t)
	p := newTestProber(config.VerbosityMinimal)

	cfg := domain.HealthCheckConfig{
		Enabled: true, Kind: domain.HealthCheckCommand,
		Command: "./status.sh", Retries: 1,
	}
	_, err := p.Check(cfg, &domain.Project{}, &domain.Server{Name: "web-1"}, nil, log)
	assert.Error(t, err)
}

func TestUnknownProbeKindIsConfigurationError(t *testing.T) {
	log, _ := testLogger(t)
	p := newTestProber(config.VerbosityMinimal)

	cfg := domain.HealthCheckConfig{Enabled: true, Kind: "smoke", Retries: 1}
	_, err := p.Check(cfg, &domain.Project{}, &domain.Server{}, nil, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smoke")
}

func TestRetrySleepsBetweenAttempts(t *testing.T) {
	var slept []time.Duration
	p := NewProber(config.VerbosityMinimal)
	p.sleep = func(d time.Duration) { slept = append(slept, d) }
	p.dialer = func(string, string, time.Duration) (net.Conn, error) {
		return nil, fmt.Errorf("connection refused")
	}

	log, _ := testLogger(t)
	cfg := domain.HealthCheckConfig{
		Enabled: true, Kind: domain.HealthCheckTCP,
		Port: 9, Timeout: 1, Retries: 3, Interval: 5,
	}
	ok, err := p.Check(cfg, &domain.Project{}, &domain.Server{Host: "127.0.0.1"}, nil, log)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, slept,
		"sleeps between attempts, not after the last")
}
