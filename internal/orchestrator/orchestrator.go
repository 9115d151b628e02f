package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/irgordon/slipway/internal/buildx"
	"github.com/irgordon/slipway/internal/config"
	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/gitx"
	"github.com/irgordon/slipway/internal/health"
	"github.com/irgordon/slipway/internal/logstream"
)

// QueuedMessage is stored as the error message of a deployment parked at
// the concurrency gate.
const QueuedMessage = "maximum concurrent deployments reached"

// Params collects the orchestrator's collaborators.
type Params struct {
	Config      *config.Config
	Registry    *logstream.Registry
	Deployments domain.DeploymentRepository
	Projects    domain.ProjectRepository
	Servers     domain.ServerRepository
	Logs        domain.LogRepository
	Fetcher     *gitx.Fetcher
	Builder     *buildx.Builder
	Prober      *health.Prober
	Dial        Dialer
	Secrets     SecretResolver
	Logger      *slog.Logger
}

// Orchestrator drives deployments through the stage machine: admission at
// the gate, git sync, build, per-server fan-out, health probes and terminal
// status. One goroutine per admitted deployment.
type Orchestrator struct {
	cfg         *config.Config
	gate        *Gate
	registry    *logstream.Registry
	deployments domain.DeploymentRepository
	projects    domain.ProjectRepository
	servers     domain.ServerRepository
	logs        domain.LogRepository
	fetcher     *gitx.Fetcher
	builder     *buildx.Builder
	prober      *health.Prober
	dial        Dialer
	secrets     SecretResolver
	slog        *slog.Logger

	cancels sync.Map // deployment id -> context.CancelFunc
	wg      sync.WaitGroup
}

func New(p Params) *Orchestrator {
	return &Orchestrator{
		cfg:         p.Config,
		gate:        NewGate(p.Config.MaxConcurrentDeployments),
		registry:    p.Registry,
		deployments: p.Deployments,
		projects:    p.Projects,
		servers:     p.Servers,
		logs:        p.Logs,
		fetcher:     p.Fetcher,
		builder:     p.Builder,
		prober:      p.Prober,
		dial:        p.Dial,
		secrets:     p.Secrets,
		slog:        p.Logger,
	}
}

// Launch admits the deployment and starts its pipeline in the background.
// At capacity the deployment is parked QUEUED and false is returned; queued
// deployments are not auto-dispatched, the operator re-submits.
func (o *Orchestrator) Launch(ctx context.Context, d *domain.Deployment) bool {
	if !o.gate.Acquire(d.ID) {
		if err := o.deployments.UpdateStatus(ctx, d.ID, domain.StatusQueued, QueuedMessage); err != nil {
			o.slog.Error("failed to park deployment as queued", "deployment_id", d.ID, "error", err)
		}
		o.slog.Info("deployment queued at capacity", "deployment_id", d.ID)
		return false
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(d)
	}()
	return true
}

// Cancel requests cooperative cancellation of a running deployment. Returns
// false when the deployment is not currently running in this process.
func (o *Orchestrator) Cancel(deploymentID int64) bool {
	v, ok := o.cancels.Load(deploymentID)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	return true
}

// Shutdown waits for in-flight deployments to finish, up to the context
// deadline. Deployments still running at the deadline are left to the
// startup reconcile pass.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(d *domain.Deployment) {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancels.Store(d.ID, cancel)
	log := logstream.NewLogger(d.ID, o.registry, o.logs, o.slog)

	defer func() {
		o.cancels.Delete(d.ID)
		cancel()
		o.gate.Release(d.ID)
		o.registry.Remove(d.ID)
	}()

	project, err := o.projects.GetByID(ctx, d.ProjectID)
	if err != nil {
		o.finish(d, log, domain.StatusFailed, fmt.Sprintf("load project: %v", err))
		return
	}

	switch {
	case d.RollbackFrom != nil:
		err = o.runRollback(ctx, d, project, log)
	case d.Kind == domain.DeployRestartOnly:
		err = o.runRestartOnly(ctx, d, project, log)
	case d.Kind == domain.DeployUpload:
		err = o.runUpload(ctx, d, project, log)
	default:
		err = o.runFull(ctx, d, project, log)
	}

	switch {
	case err == nil:
		o.finish(d, log, domain.StatusSuccess, "")
	case errors.Is(err, context.Canceled):
		o.finish(d, log, domain.StatusCancelled, "deployment cancelled")
	default:
		o.finish(d, log, domain.StatusFailed, err.Error())
	}
}

// transition checks for cancellation, persists the new status and announces
// the stage in the deployment log.
func (o *Orchestrator) transition(ctx context.Context, d *domain.Deployment, status domain.DeploymentStatus, log *logstream.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.deployments.UpdateStatus(ctx, d.ID, status, ""); err != nil {
		return fmt.Errorf("persist status %s: %w", status, err)
	}
	d.Status = status
	log.Infof("=== Stage: %s ===", strings.ToUpper(string(status)))
	return nil
}

// finish writes the terminal status with a context independent of the
// deployment's (which may already be cancelled), then forces the final log
// flush.
func (o *Orchestrator) finish(d *domain.Deployment, log *logstream.Logger, status domain.DeploymentStatus, message string) {
	switch status {
	case domain.StatusSuccess:
		log.Info("Deployment completed successfully")
	case domain.StatusCancelled:
		log.Warning("Deployment cancelled")
	default:
		log.Errorf("Deployment failed: %s", message)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.deployments.UpdateStatus(ctx, d.ID, status, message); err != nil {
		o.slog.Error("failed to persist terminal status",
			"deployment_id", d.ID, "status", status, "error", err)
	}
	d.Status = status

	log.Close()
	o.slog.Info("deployment finished",
		"deployment_id", d.ID, "project_id", d.ProjectID, "status", status)
}

func (o *Orchestrator) runFull(ctx context.Context, d *domain.Deployment, project *domain.Project, log *logstream.Logger) error {
	// CLONING
	if err := o.transition(ctx, d, domain.StatusCloning, log); err != nil {
		return err
	}
	creds, err := o.secrets.GitCredentials(project)
	if err != nil {
		return fmt.Errorf("resolve git credentials: %w", err)
	}
	workdir := filepath.Join(o.cfg.WorkDir, fmt.Sprintf("project_%d", project.ID))
	log.Infof("Syncing %s branch %s", project.GitURL, d.Branch)
	info, err := o.fetcher.Sync(ctx, workdir, project.GitURL, d.Branch, creds)
	if err != nil {
		var ge *gitx.Error
		if errors.As(err, &ge) {
			log.Error(ge.Hint())
		}
		return err
	}
	summary := commitSummary(info.Message)
	if err := o.deployments.SetCommit(ctx, d.ID, info.Hash, summary); err != nil {
		return fmt.Errorf("record commit: %w", err)
	}
	log.Infof("Checked out %s (%s)", shortHash(info.Hash), summary)

	// BUILDING
	if err := o.transition(ctx, d, domain.StatusBuilding, log); err != nil {
		return err
	}
	buildCtx, cancelBuild := context.WithTimeout(ctx, o.cfg.BuildTimeout)
	defer cancelBuild()
	o.builder.Install(buildCtx, project, workdir, log)
	if err := o.builder.Build(buildCtx, project, workdir, log); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	artifactPath, err := o.packageArtifact(ctx, d, project, workdir, log)
	if err != nil {
		return err
	}

	// DEPLOYING (+ RESTARTING)
	if err := o.deployAndRestart(ctx, d, project, artifactPath, true, log); err != nil {
		return err
	}

	// HEALTH_CHECKING
	if project.HealthCheck.Enabled {
		if err := o.probeServers(ctx, d, project, log); err != nil {
			return err
		}
	}
	return nil
}

// packageArtifact zips the build output, records the artifact and reaps the
// project's superseded artifact files.
func (o *Orchestrator) packageArtifact(ctx context.Context, d *domain.Deployment, project *domain.Project, workdir string, log *logstream.Logger) (string, error) {
	outputDir := filepath.Join(workdir, project.OutputDir)
	info, err := os.Stat(outputDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("build output directory %q not found", project.OutputDir)
	}

	if err := os.MkdirAll(o.cfg.ArtifactsDir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}
	artifactPath := filepath.Join(o.cfg.ArtifactsDir, buildx.ArtifactName(time.Now()))
	size, err := buildx.Archive(outputDir, artifactPath)
	if err != nil {
		return "", err
	}
	checksum, err := buildx.Checksum(artifactPath)
	if err != nil {
		return "", err
	}
	log.Infof("Packaged artifact %s (%s, sha256 %s)",
		filepath.Base(artifactPath), humanize.Bytes(uint64(size)), checksum[:12])

	if err := o.deployments.CreateArtifact(ctx, &domain.Artifact{
		DeploymentID: d.ID,
		FilePath:     artifactPath,
		FileSize:     size,
		Checksum:     checksum,
	}); err != nil {
		return "", fmt.Errorf("record artifact: %w", err)
	}

	buildx.ReapArtifacts(ctx, o.deployments, project.ID, artifactPath, log)
	return artifactPath, nil
}

// deployAndRestart places content on every selected server, then runs the
// restart script pass when the project has one.
func (o *Orchestrator) deployAndRestart(ctx context.Context, d *domain.Deployment, project *domain.Project, artifactPath string, restartFatal bool, log *logstream.Logger) error {
	if err := o.transition(ctx, d, domain.StatusDeploying, log); err != nil {
		return err
	}
	err := o.forEachActiveServer(ctx, d.ServerGroupIDs, log, func(server *domain.Server) error {
		log.Infof("Deploying to %s (%s)", server.Name, server.Host)
		return o.withServer(server, func(exec Executor) error {
			return o.placeContent(exec, project, artifactPath, log)
		})
	})
	if err != nil {
		return err
	}

	if project.RestartScriptPath == "" {
		return nil
	}
	if err := o.transition(ctx, d, domain.StatusRestarting, log); err != nil {
		return err
	}
	return o.forEachActiveServer(ctx, d.ServerGroupIDs, log, func(server *domain.Server) error {
		return o.withServer(server, func(exec Executor) error {
			return o.runRestartScript(exec, project.RestartScriptPath, restartFatal, log)
		})
	})
}

// probeServers runs the project health check against every active server in
// the selected groups. Any failing probe is fatal.
func (o *Orchestrator) probeServers(ctx context.Context, d *domain.Deployment, project *domain.Project, log *logstream.Logger) error {
	if err := o.transition(ctx, d, domain.StatusHealthChecking, log); err != nil {
		return err
	}
	cfg := project.HealthCheck
	return o.forEachActiveServer(ctx, d.ServerGroupIDs, log, func(server *domain.Server) error {
		var ok bool
		var err error
		if cfg.Kind == domain.HealthCheckCommand {
			err = o.withServer(server, func(exec Executor) error {
				var probeErr error
				ok, probeErr = o.prober.Check(cfg, project, server, exec, log)
				return probeErr
			})
		} else {
			ok, err = o.prober.Check(cfg, project, server, nil, log)
		}
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("health check failed")
		}
		return nil
	})
}

func (o *Orchestrator) runRestartOnly(ctx context.Context, d *domain.Deployment, project *domain.Project, log *logstream.Logger) error {
	if project.RestartOnlyScriptPath == "" {
		return fmt.Errorf("project has no restart-only script configured")
	}
	if err := o.transition(ctx, d, domain.StatusRestarting, log); err != nil {
		return err
	}
	return o.forEachActiveServer(ctx, d.ServerGroupIDs, log, func(server *domain.Server) error {
		log.Infof("Restarting on %s (%s)", server.Name, server.Host)
		return o.withServer(server, func(exec Executor) error {
			return o.runRestartScript(exec, project.RestartOnlyScriptPath, true, log)
		})
	})
}

// runUpload deploys an operator-supplied binary. The artifact record was
// written by the upload handler before launch.
func (o *Orchestrator) runUpload(ctx context.Context, d *domain.Deployment, project *domain.Project, log *logstream.Logger) error {
	if err := o.transition(ctx, d, domain.StatusUploading, log); err != nil {
		return err
	}
	artifact, err := o.deployments.GetArtifact(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("load uploaded artifact: %w", err)
	}
	if _, err := os.Stat(artifact.FilePath); err != nil {
		return fmt.Errorf("uploaded artifact file missing: %w", err)
	}
	log.Infof("Using uploaded artifact %s (%s)",
		filepath.Base(artifact.FilePath), humanize.Bytes(uint64(artifact.FileSize)))

	if err := o.deployAndRestart(ctx, d, project, artifact.FilePath, true, log); err != nil {
		return err
	}
	if project.HealthCheck.Enabled {
		return o.probeServers(ctx, d, project, log)
	}
	return nil
}

// runRollback replays the source deployment's stored artifact through the
// fan-out. Restart failures are warnings: the operator chose to restore a
// known-good binary, the restart is best effort.
func (o *Orchestrator) runRollback(ctx context.Context, d *domain.Deployment, project *domain.Project, log *logstream.Logger) error {
	source, err := o.deployments.GetByID(ctx, *d.RollbackFrom)
	if err != nil {
		return fmt.Errorf("load rollback source deployment %d: %w", *d.RollbackFrom, err)
	}
	artifact, err := o.deployments.GetArtifact(ctx, source.ID)
	if err != nil {
		return fmt.Errorf("rollback source %d has no artifact: %w", source.ID, err)
	}
	if _, err := os.Stat(artifact.FilePath); err != nil {
		return fmt.Errorf("rollback artifact file missing: %w", err)
	}
	log.Infof("Rolling back to deployment %d artifact %s",
		source.ID, filepath.Base(artifact.FilePath))

	return o.deployAndRestart(ctx, d, project, artifact.FilePath, false, log)
}

func commitSummary(message string) string {
	summary, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	return summary
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
