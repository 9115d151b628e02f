package health

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/irgordon/slipway/internal/config"
	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/logstream"
)

// CommandRunner executes a shell command on the target server and returns
// its exit code. The SSH client satisfies this through a thin adapter.
type CommandRunner interface {
	Exec(command string) (exitCode int, stdout, stderr string, err error)
}

// Prober evaluates a project's health-check block against one server after
// a deployment lands.
type Prober struct {
	verbosity config.Verbosity

	// test seams
	sleep      func(time.Duration)
	httpClient *http.Client
	dialer     func(network, addr string, timeout time.Duration) (net.Conn, error)
}

func NewProber(verbosity config.Verbosity) *Prober {
	return &Prober{
		verbosity: verbosity,
		sleep:     time.Sleep,
		dialer: func(network, addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout(network, addr, timeout)
		},
	}
}

// Check runs the configured probe against the server, retrying up to
// cfg.Retries attempts with cfg.Interval seconds between them. The first
// success wins. A malformed configuration returns an error; attempt
// failures only produce a false result.
func (p *Prober) Check(cfg domain.HealthCheckConfig, project *domain.Project, server *domain.Server, runner CommandRunner, log *logstream.Logger) (bool, error) {
	attempt, err := p.attemptFunc(cfg, project, server, runner)
	if err != nil {
		return false, err
	}

	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}
	interval := time.Duration(cfg.Interval) * time.Second

	for i := 1; i <= retries; i++ {
		ok, attemptErr := attempt()
		if ok {
			log.Infof("Health check passed on %s (attempt %d/%d)", server.Name, i, retries)
			return true, nil
		}
		if attemptErr != nil && p.verbosity == config.VerbosityDetailed {
			log.Warningf("Health check attempt %d/%d on %s: %v", i, retries, server.Name, attemptErr)
		}
		if i < retries {
			p.sleep(interval)
		}
	}
	return false, nil
}

func (p *Prober) attemptFunc(cfg domain.HealthCheckConfig, project *domain.Project, server *domain.Server, runner CommandRunner) (func() (bool, error), error) {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	switch cfg.Kind {
	case domain.HealthCheckHTTP:
		target, err := rewriteLocalhost(cfg.URL, server.Host)
		if err != nil {
			return nil, fmt.Errorf("health check URL: %w", err)
		}
		client := p.httpClient
		if client == nil {
			client = &http.Client{Timeout: timeout}
		}
		return func() (bool, error) {
			resp, err := client.Get(target)
			if err != nil {
				return false, err
			}
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 400 {
				return true, nil
			}
			return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}, nil

	case domain.HealthCheckTCP:
		if cfg.Port <= 0 {
			return nil, fmt.Errorf("tcp health check requires a port")
		}
		addr := net.JoinHostPort(server.Host, fmt.Sprintf("%d", cfg.Port))
		return func() (bool, error) {
			conn, err := p.dialer("tcp", addr, timeout)
			if err != nil {
				return false, err
			}
			conn.Close()
			return true, nil
		}, nil

	case domain.HealthCheckCommand:
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, fmt.Errorf("command health check requires a command")
		}
		if runner == nil {
			return nil, fmt.Errorf("command health check requires an SSH session")
		}
		remote := cfg.Command
		if project.UploadPath != "" {
			remote = fmt.Sprintf("cd %q && %s", project.UploadPath, cfg.Command)
		}
		return func() (bool, error) {
			code, _, stderr, err := runner.Exec(remote)
			if err != nil {
				return false, err
			}
			if code != 0 {
				return false, fmt.Errorf("exit code %d: %s", code, strings.TrimSpace(stderr))
			}
			return true, nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown health check kind %q", cfg.Kind)
	}
}

// rewriteLocalhost points loopback URLs at the deployed server. Operators
// configure probes from the service's point of view; the control plane
// probes from outside.
func rewriteLocalhost(raw, serverHost string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid URL %q", raw)
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		if port := u.Port(); port != "" {
			u.Host = net.JoinHostPort(serverHost, port)
		} else {
			u.Host = serverHost
		}
	}
	return u.String(), nil
}
