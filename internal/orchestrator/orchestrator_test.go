package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/slipway/internal/buildx"
	"github.com/irgordon/slipway/internal/config"
	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/gitx"
	"github.com/irgordon/slipway/internal/health"
	"github.com/irgordon/slipway/internal/logstream"
)

// --- fakes ---

type fakeDeployments struct {
	mu        sync.Mutex
	statuses  []domain.DeploymentStatus
	messages  map[domain.DeploymentStatus]string
	artifacts map[int64]*domain.Artifact
	byID      map[int64]*domain.Deployment
}

func newFakeDeployments() *fakeDeployments {
	return &fakeDeployments{
		messages:  make(map[domain.DeploymentStatus]string),
		artifacts: make(map[int64]*domain.Artifact),
		byID:      make(map[int64]*domain.Deployment),
	}
}

func (f *fakeDeployments) Create(_ context.Context, d *domain.Deployment) error {
	f.byID[d.ID] = d
	return nil
}

func (f *fakeDeployments) GetByID(_ context.Context, id int64) (*domain.Deployment, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

func (f *fakeDeployments) List(context.Context, domain.DeploymentFilter) ([]domain.Deployment, error) {
	return nil, nil
}

func (f *fakeDeployments) UpdateStatus(_ context.Context, _ int64, status domain.DeploymentStatus, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	f.messages[status] = msg
	return nil
}

func (f *fakeDeployments) SetCommit(context.Context, int64, string, string) error { return nil }

func (f *fakeDeployments) FailNonTerminal(context.Context, string) (int64, error) { return 0, nil }

func (f *fakeDeployments) CreateArtifact(_ context.Context, a *domain.Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[a.DeploymentID] = a
	return nil
}

func (f *fakeDeployments) GetArtifact(_ context.Context, deploymentID int64) (*domain.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.artifacts[deploymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

func (f *fakeDeployments) ListArtifactPathsByProject(context.Context, int64) ([]string, error) {
	return nil, nil
}

func (f *fakeDeployments) history() []domain.DeploymentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.DeploymentStatus, len(f.statuses))
	copy(out, f.statuses)
	return out
}

type fakeProjects struct {
	domain.ProjectRepository
	project *domain.Project
}

func (f *fakeProjects) GetByID(context.Context, int64) (*domain.Project, error) {
	if f.project == nil {
		return nil, domain.ErrNotFound
	}
	return f.project, nil
}

type fakeServers struct {
	domain.ServerRepository
	groups map[int64]*domain.ServerGroup
}

func (f *fakeServers) GetGroup(_ context.Context, id int64) (*domain.ServerGroup, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return g, nil
}

type fakeLogs struct{}

func (fakeLogs) InsertBatch(context.Context, int64, []domain.LogEntry) error { return nil }
func (fakeLogs) ListSince(context.Context, int64, int64, int) ([]domain.LogEntry, error) {
	return nil, nil
}
func (fakeLogs) ListRecent(context.Context, int64, int) ([]domain.LogEntry, error) {
	return nil, nil
}

// fakeExecutor scripts remote behavior by command prefix.
type fakeExecutor struct {
	mu       sync.Mutex
	commands []string
	uploads  []string
	dirs     map[string]bool // DirExists answers
	failOn   string          // commands containing this substring exit 1
	mkdirs   []string
}

func (f *fakeExecutor) record(cmd string) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
}

func (f *fakeExecutor) result(cmd string) int {
	if f.failOn != "" && strings.Contains(cmd, f.failOn) {
		return 1
	}
	return 0
}

func (f *fakeExecutor) Exec(cmd string) (int, string, string, error) {
	f.record(cmd)
	code := f.result(cmd)
	if code != 0 {
		return code, "", "scripted failure", nil
	}
	// Keep DirExists answers consistent with executed moves.
	if strings.HasPrefix(cmd, "mv ") && f.dirs != nil {
		parts := splitQuoted(cmd)
		if len(parts) == 3 {
			f.mu.Lock()
			f.dirs[parts[1]] = false
			f.dirs[parts[2]] = true
			f.mu.Unlock()
		}
	}
	return 0, "", "", nil
}

func (f *fakeExecutor) ExecStreaming(cmd string, onStdout, _ func(string)) (int, string, string, error) {
	f.record(cmd)
	if onStdout != nil {
		onStdout("scripted output")
	}
	code := f.result(cmd)
	if code != 0 {
		return code, "scripted output\n", "scripted failure\n", nil
	}
	return 0, "scripted output\n", "", nil
}

func (f *fakeExecutor) Upload(local, remote string) error {
	return f.UploadWithProgress(local, remote, nil)
}

func (f *fakeExecutor) UploadWithProgress(_, remote string, _ *logstream.Logger) error {
	f.mu.Lock()
	f.uploads = append(f.uploads, remote)
	f.mu.Unlock()
	return nil
}

func (f *fakeExecutor) FileExists(path string) (bool, error) { return f.DirExists(path) }

func (f *fakeExecutor) DirExists(path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[path], nil
}

func (f *fakeExecutor) Mkdir(path string, _ os.FileMode) error {
	f.mu.Lock()
	f.mkdirs = append(f.mkdirs, path)
	f.mu.Unlock()
	return nil
}

func (f *fakeExecutor) Close() {}

// splitQuoted splits `mv "a" "b"` style commands into fields, unquoting.
func splitQuoted(cmd string) []string {
	var out []string
	for _, field := range strings.Split(cmd, `" "`) {
		field = strings.Trim(field, `"`)
		for _, sub := range strings.SplitN(field, " ", 2) {
			if sub != "" {
				out = append(out, strings.Trim(sub, `"`))
			}
		}
	}
	// Crude but sufficient for the fixed command shapes in these tests.
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

type fakeSecrets struct{}

func (fakeSecrets) ServerAuth(*domain.Server) (domain.SSHAuth, error) {
	return domain.SSHPassword{Password: "pw"}, nil
}

func (fakeSecrets) GitCredentials(*domain.Project) (domain.GitCredentials, error) {
	return domain.GitAnonymous{}, nil
}

// --- harness ---

type fixture struct {
	orch        *Orchestrator
	deployments *fakeDeployments
	exec        *fakeExecutor
}

func newFixture(t *testing.T, project *domain.Project, maxConcurrent int) *fixture {
	t.Helper()
	cfg := &config.Config{
		MaxConcurrentDeployments: maxConcurrent,
		ArtifactsDir:             filepath.Join(t.TempDir(), "artifacts"),
		WorkDir:                  filepath.Join(t.TempDir(), "work"),
		LogVerbosity:             config.VerbosityDetailed,
	}
	deployments := newFakeDeployments()
	exec := &fakeExecutor{dirs: map[string]bool{}}
	servers := &fakeServers{groups: map[int64]*domain.ServerGroup{
		10: {ID: 10, Name: "web", Servers: []domain.Server{
			{ID: 1, Name: "web-1", Host: "10.0.0.1", Port: 22, Username: "deploy", Active: true},
		}},
	}}

	orch := New(Params{
		Config:      cfg,
		Registry:    logstream.NewRegistry(),
		Deployments: deployments,
		Projects:    &fakeProjects{project: project},
		Servers:     servers,
		Logs:        fakeLogs{},
		Fetcher:     gitx.NewFetcher(),
		Builder:     buildx.NewBuilder(cfg.LogVerbosity),
		Prober:      health.NewProber(cfg.LogVerbosity),
		Dial: func(*domain.Server, domain.SSHAuth) (Executor, error) {
			return exec, nil
		},
		Secrets: fakeSecrets{},
		Logger:  slog.New(slog.DiscardHandler),
	})
	return &fixture{orch: orch, deployments: deployments, exec: exec}
}

func deployment(id int64, kind domain.DeploymentKind) *domain.Deployment {
	return &domain.Deployment{
		ID:             id,
		ProjectID:      1,
		Branch:         "main",
		Kind:           kind,
		Status:         domain.StatusPending,
		ServerGroupIDs: []int64{10},
	}
}

// --- tests ---

func TestLaunchQueuesAtCapacity(t *testing.T) {
	fx := newFixture(t, &domain.Project{ID: 1}, 1)
	require.True(t, fx.orch.gate.Acquire(99)) // occupy the only slot

	d := deployment(2, domain.DeployFull)
	admitted := fx.orch.Launch(context.Background(), d)
	assert.False(t, admitted)

	history := fx.deployments.history()
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusQueued, history[0])
	assert.Equal(t, QueuedMessage, fx.deployments.messages[domain.StatusQueued])
}

func TestRestartOnlyWithoutScriptFails(t *testing.T) {
	project := &domain.Project{ID: 1, Kind: domain.ProjectBackend}
	fx := newFixture(t, project, 3)

	fx.orch.run(deployment(1, domain.DeployRestartOnly))

	history := fx.deployments.history()
	require.NotEmpty(t, history)
	assert.Equal(t, domain.StatusFailed, history[len(history)-1])
	assert.Contains(t, fx.deployments.messages[domain.StatusFailed], "restart-only script")
	assert.Empty(t, fx.exec.commands, "no remote session should be opened")
}

func TestRestartOnlyRunsScriptAndSucceeds(t *testing.T) {
	project := &domain.Project{
		ID: 1, Kind: domain.ProjectBackend,
		RestartOnlyScriptPath: "/opt/app/restart.sh",
	}
	fx := newFixture(t, project, 3)

	fx.orch.run(deployment(1, domain.DeployRestartOnly))

	history := fx.deployments.history()
	assert.Equal(t, []domain.DeploymentStatus{domain.StatusRestarting, domain.StatusSuccess}, history)
	require.Len(t, fx.exec.commands, 1)
	assert.Equal(t, `cd "/opt/app" && bash "./restart.sh"`, fx.exec.commands[0])
}

func TestRestartOnlyScriptFailureIsFatal(t *testing.T) {
	project := &domain.Project{
		ID: 1, Kind: domain.ProjectBackend,
		RestartOnlyScriptPath: "restart.sh",
	}
	fx := newFixture(t, project, 3)
	fx.exec.failOn = "restart.sh"

	fx.orch.run(deployment(1, domain.DeployRestartOnly))

	history := fx.deployments.history()
	assert.Equal(t, domain.StatusFailed, history[len(history)-1])
}

func TestUploadKindDeploysArtifactInPlace(t *testing.T) {
	project := &domain.Project{
		ID: 1, Kind: domain.ProjectJava,
		UploadPath: "/opt/app",
	}
	fx := newFixture(t, project, 3)

	jar := filepath.Join(t.TempDir(), "service.jar")
	require.NoError(t, os.WriteFile(jar, []byte("binary"), 0o644))
	d := deployment(1, domain.DeployUpload)
	require.NoError(t, fx.deployments.CreateArtifact(context.Background(), &domain.Artifact{
		DeploymentID: d.ID, FilePath: jar, FileSize: 6,
	}))

	fx.orch.run(d)

	history := fx.deployments.history()
	assert.Equal(t, []domain.DeploymentStatus{
		domain.StatusUploading, domain.StatusDeploying, domain.StatusSuccess,
	}, history)
	require.Len(t, fx.exec.uploads, 1)
	assert.Equal(t, "/opt/app/service.jar", fx.exec.uploads[0])
	// A .jar is placed as-is, never unzipped.
	for _, cmd := range fx.exec.commands {
		assert.NotContains(t, cmd, "unzip")
	}
}

func TestUploadKindMissingArtifactFails(t *testing.T) {
	project := &domain.Project{ID: 1, Kind: domain.ProjectJava, UploadPath: "/opt/app"}
	fx := newFixture(t, project, 3)

	fx.orch.run(deployment(1, domain.DeployUpload))

	history := fx.deployments.history()
	assert.Equal(t, domain.StatusFailed, history[len(history)-1])
}

func TestFrontendSwapBacksUpAndUnpacks(t *testing.T) {
	project := &domain.Project{
		ID: 1, Kind: domain.ProjectFrontend,
		UploadPath: "/var/www/site",
	}
	fx := newFixture(t, project, 3)
	fx.exec.dirs["/var/www/site"] = true // current version present

	zipPath := filepath.Join(t.TempDir(), "artifact_100.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("zip"), 0o644))
	d := deployment(1, domain.DeployUpload)
	require.NoError(t, fx.deployments.CreateArtifact(context.Background(), &domain.Artifact{
		DeploymentID: d.ID, FilePath: zipPath, FileSize: 3,
	}))

	fx.orch.run(d)

	history := fx.deployments.history()
	assert.Equal(t, domain.StatusSuccess, history[len(history)-1])
	assert.Contains(t, fx.exec.mkdirs, "/var/www")
	assert.Equal(t, []string{"/var/www/artifact_100.zip"}, fx.exec.uploads)

	joined := strings.Join(fx.exec.commands, "\n")
	assert.Regexp(t, `mv "/var/www/site" "/var/www/site-\d{4}-\d{6}"`, joined)
	assert.Contains(t, joined, `unzip -o "/var/www/artifact_100.zip" -d "/var/www/site"`)
	assert.Contains(t, joined, `rm -f "/var/www/artifact_100.zip"`)
}

func TestFrontendSwapRestoresBackupWhenUnzipFails(t *testing.T) {
	project := &domain.Project{
		ID: 1, Kind: domain.ProjectFrontend,
		UploadPath: "/var/www/site",
	}
	fx := newFixture(t, project, 3)
	fx.exec.dirs["/var/www/site"] = true
	fx.exec.failOn = "unzip"

	zipPath := filepath.Join(t.TempDir(), "artifact_100.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("zip"), 0o644))
	d := deployment(1, domain.DeployUpload)
	require.NoError(t, fx.deployments.CreateArtifact(context.Background(), &domain.Artifact{
		DeploymentID: d.ID, FilePath: zipPath, FileSize: 3,
	}))

	fx.orch.run(d)

	history := fx.deployments.history()
	assert.Equal(t, domain.StatusFailed, history[len(history)-1])

	// The backup move happened, and after the failed unzip the backup was
	// moved back.
	var moves []string
	for _, cmd := range fx.exec.commands {
		if strings.HasPrefix(cmd, "mv ") {
			moves = append(moves, cmd)
		}
	}
	require.Len(t, moves, 2)
	assert.Contains(t, moves[0], `mv "/var/www/site"`)
	assert.Contains(t, moves[1], `"/var/www/site"`)
}

func TestFrontendSwapRejectsRootUploadPath(t *testing.T) {
	project := &domain.Project{
		ID: 1, Kind: domain.ProjectFrontend,
		UploadPath: "/",
	}
	fx := newFixture(t, project, 3)

	zipPath := filepath.Join(t.TempDir(), "artifact_100.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("zip"), 0o644))
	d := deployment(1, domain.DeployUpload)
	require.NoError(t, fx.deployments.CreateArtifact(context.Background(), &domain.Artifact{
		DeploymentID: d.ID, FilePath: zipPath,
	}))

	fx.orch.run(d)

	history := fx.deployments.history()
	assert.Equal(t, domain.StatusFailed, history[len(history)-1])
	assert.Contains(t, fx.deployments.messages[domain.StatusFailed], "root")
}

func TestInactiveServersAreSkipped(t *testing.T) {
	project := &domain.Project{
		ID: 1, Kind: domain.ProjectBackend,
		RestartOnlyScriptPath: "restart.sh",
	}
	fx := newFixture(t, project, 3)
	fx.orch.servers = &fakeServers{groups: map[int64]*domain.ServerGroup{
		10: {ID: 10, Name: "web", Servers: []domain.Server{
			{ID: 1, Name: "web-1", Active: false},
			{ID: 2, Name: "web-2", Active: true},
		}},
	}}

	fx.orch.run(deployment(1, domain.DeployRestartOnly))

	history := fx.deployments.history()
	assert.Equal(t, domain.StatusSuccess, history[len(history)-1])
	assert.Len(t, fx.exec.commands, 1, "only the active server is touched")
}

func TestRollbackReplaysArtifactAndToleratesRestartFailure(t *testing.T) {
	project := &domain.Project{
		ID: 1, Kind: domain.ProjectBackend,
		UploadPath:        "/opt/app",
		RestartScriptPath: "/opt/app/restart.sh",
	}
	fx := newFixture(t, project, 3)
	fx.exec.failOn = "restart.sh"

	zipPath := filepath.Join(t.TempDir(), "artifact_50.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("zip"), 0o644))

	source := deployment(5, domain.DeployFull)
	require.NoError(t, fx.deployments.Create(context.Background(), source))
	require.NoError(t, fx.deployments.CreateArtifact(context.Background(), &domain.Artifact{
		DeploymentID: source.ID, FilePath: zipPath, FileSize: 3,
	}))

	d := deployment(6, domain.DeployFull)
	sourceID := source.ID
	d.RollbackFrom = &sourceID

	fx.orch.run(d)

	history := fx.deployments.history()
	assert.Equal(t, domain.StatusSuccess, history[len(history)-1],
		"restart failure must not fail a rollback")
	joined := strings.Join(fx.exec.commands, "\n")
	assert.Contains(t, joined, "unzip")
	assert.Contains(t, joined, "restart.sh")
}

func TestRollbackWithoutArtifactFails(t *testing.T) {
	project := &domain.Project{ID: 1, Kind: domain.ProjectBackend, UploadPath: "/opt/app"}
	fx := newFixture(t, project, 3)

	source := deployment(5, domain.DeployFull)
	require.NoError(t, fx.deployments.Create(context.Background(), source))

	d := deployment(6, domain.DeployFull)
	sourceID := source.ID
	d.RollbackFrom = &sourceID

	fx.orch.run(d)

	history := fx.deployments.history()
	assert.Equal(t, domain.StatusFailed, history[len(history)-1])
	assert.Contains(t, fx.deployments.messages[domain.StatusFailed], "artifact")
}

func TestCancelUnknownDeployment(t *testing.T) {
	fx := newFixture(t, &domain.Project{ID: 1}, 3)
	assert.False(t, fx.orch.Cancel(12345))
}

func TestDeriveScriptPaths(t *testing.T) {
	cases := []struct {
		in, workdir, script string
	}{
		{"/opt/app/restart.sh", "/opt/app", "restart.sh"},
		{"scripts/restart.sh", "scripts", "restart.sh"},
		{"restart.sh", ".", "restart.sh"},
	}
	for _, tc := range cases {
		workdir, script := deriveScriptPaths(tc.in)
		assert.Equal(t, tc.workdir, workdir, tc.in)
		assert.Equal(t, tc.script, script, tc.in)
	}
}

func TestCommitSummary(t *testing.T) {
	assert.Equal(t, "fix login", commitSummary("fix login\n\nlonger body\n"))
	assert.Equal(t, "one liner", commitSummary("one liner"))
}
