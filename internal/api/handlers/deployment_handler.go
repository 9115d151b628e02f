package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/irgordon/slipway/internal/api/middleware"
	"github.com/irgordon/slipway/internal/buildx"
	"github.com/irgordon/slipway/internal/config"
	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/orchestrator"
)

// maxUploadBytes caps operator artifact uploads at 1 GiB.
const maxUploadBytes = 1 << 30

type DeploymentHandler struct {
	Config      *config.Config
	Deployments domain.DeploymentRepository
	Projects    domain.ProjectRepository
	Servers     domain.ServerRepository
	Logs        domain.LogRepository
	Orch        *orchestrator.Orchestrator
	Audit       *AuditRecorder
	Logger      *slog.Logger
}

type createDeploymentRequest struct {
	ProjectID      int64                 `json:"project_id" validate:"required"`
	Branch         string                `json:"branch"`
	Kind           domain.DeploymentKind `json:"deployment_type" validate:"omitempty,oneof=full restart_only upload"`
	ServerGroupIDs []int64               `json:"server_group_ids" validate:"required,min=1"`
}

func (h *DeploymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDeploymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = domain.DeployFull
	}
	if req.Kind == domain.DeployUpload {
		writeError(w, http.StatusBadRequest, "upload deployments are created via /api/deployments/upload")
		return
	}

	project, err := h.Projects.GetByID(r.Context(), req.ProjectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	branch := req.Branch
	if req.Kind == domain.DeployRestartOnly {
		branch = domain.RestartOnlyBranch
	} else if branch == "" {
		writeError(w, http.StatusBadRequest, "branch is required")
		return
	}

	if err := h.checkGroupEnvironments(r, project, req.ServerGroupIDs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d := &domain.Deployment{
		ProjectID:      project.ID,
		Branch:         branch,
		Kind:           req.Kind,
		Status:         domain.StatusPending,
		ServerGroupIDs: req.ServerGroupIDs,
		Environment:    project.Environment,
		CreatedBy:      middleware.Claims(r).UserID,
	}
	if err := h.Deployments.Create(r.Context(), d); err != nil {
		writeDomainError(w, err)
		return
	}

	started := h.Orch.Launch(r.Context(), d)
	middleware.CountDeploymentStarted(string(d.Kind), !started)
	if !started {
		d.Status = domain.StatusQueued
		d.ErrorMessage = orchestrator.QueuedMessage
	}

	h.Audit.Record(r, domain.AuditDeploymentCreate, "deployment", &d.ID, map[string]any{
		"project_id": project.ID,
		"branch":     branch,
		"type":       d.Kind,
	})
	writeJSON(w, http.StatusCreated, d)
}

// Upload creates a deployment from an operator-supplied artifact instead of
// a git build. Frontend projects take a .zip, java projects a .jar.
func (h *DeploymentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	projectID, err := strconv.ParseInt(r.FormValue("project_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	groupIDs, err := parseGroupIDs(r.FormValue("server_group_ids"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, err := h.Projects.GetByID(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.checkGroupEnvironments(r, project, groupIDs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch project.Kind {
	case domain.ProjectFrontend:
		if ext != ".zip" {
			writeError(w, http.StatusBadRequest, "frontend projects require a .zip upload")
			return
		}
	case domain.ProjectJava:
		if ext != ".jar" {
			writeError(w, http.StatusBadRequest, "java projects require a .jar upload")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "upload deployments support frontend and java projects only")
		return
	}

	d := &domain.Deployment{
		ProjectID:      project.ID,
		Branch:         domain.RestartOnlyBranch,
		Kind:           domain.DeployUpload,
		Status:         domain.StatusPending,
		ServerGroupIDs: groupIDs,
		Environment:    project.Environment,
		CreatedBy:      middleware.Claims(r).UserID,
	}
	if err := h.Deployments.Create(r.Context(), d); err != nil {
		writeDomainError(w, err)
		return
	}

	artifactPath, size, err := h.saveUpload(d.ID, header.Filename, file)
	if err != nil {
		h.Logger.Error("failed to store uploaded artifact", "deployment_id", d.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not store uploaded file")
		return
	}
	checksum, err := buildx.Checksum(artifactPath)
	if err != nil {
		h.Logger.Error("failed to checksum uploaded artifact", "deployment_id", d.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not store uploaded file")
		return
	}
	if err := h.Deployments.CreateArtifact(r.Context(), &domain.Artifact{
		DeploymentID: d.ID,
		FilePath:     artifactPath,
		FileSize:     size,
		Checksum:     checksum,
	}); err != nil {
		writeDomainError(w, err)
		return
	}

	started := h.Orch.Launch(r.Context(), d)
	middleware.CountDeploymentStarted(string(d.Kind), !started)
	if !started {
		d.Status = domain.StatusQueued
		d.ErrorMessage = orchestrator.QueuedMessage
	}

	h.Audit.Record(r, domain.AuditDeploymentCreate, "deployment", &d.ID, map[string]any{
		"project_id": project.ID,
		"type":       d.Kind,
		"filename":   header.Filename,
	})
	writeJSON(w, http.StatusCreated, d)
}

func (h *DeploymentHandler) saveUpload(deploymentID int64, filename string, src io.Reader) (string, int64, error) {
	if err := os.MkdirAll(h.Config.ArtifactsDir, 0o755); err != nil {
		return "", 0, err
	}
	dest := filepath.Join(h.Config.ArtifactsDir,
		fmt.Sprintf("upload_%d_%s", deploymentID, filepath.Base(filename)))
	f, err := os.Create(dest)
	if err != nil {
		return "", 0, err
	}
	size, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return "", 0, err
	}
	return dest, size, nil
}

func (h *DeploymentHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := domain.DeploymentFilter{Limit: 100}
	if v := r.URL.Query().Get("project_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid project_id")
			return
		}
		filter.ProjectID = id
	}
	if v := r.URL.Query().Get("environment"); v != "" {
		filter.Environment = domain.Environment(v)
	}

	deployments, err := h.Deployments.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

// Get returns the deployment with its log tail. With since_id the response
// carries up to 100 entries after that id; otherwise the 500 most recent.
// Either way logs are in ascending id order and max_log_id marks the cursor
// for the next poll.
func (h *DeploymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}
	d, err := h.Deployments.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var entries []domain.LogEntry
	var maxLogID int64
	if v := r.URL.Query().Get("since_id"); v != "" {
		sinceID, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid since_id")
			return
		}
		entries, err = h.Logs.ListSince(r.Context(), id, sinceID, 100)
		// An empty page must not reset the caller's cursor to zero, or the
		// next poll would replay the whole history.
		maxLogID = sinceID
	} else {
		entries, err = h.Logs.ListRecent(r.Context(), id, 500)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if len(entries) > 0 {
		maxLogID = entries[len(entries)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deployment": d,
		"logs":       entries,
		"max_log_id": maxLogID,
	})
}

// Cancel requests cooperative cancellation. The deployment stops at its next
// stage boundary.
func (h *DeploymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}
	d, err := h.Deployments.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if d.Status.Terminal() {
		writeError(w, http.StatusBadRequest, "deployment already finished")
		return
	}

	if !h.Orch.Cancel(id) {
		// Not running in this process: PENDING or QUEUED, fail it directly.
		if err := h.Deployments.UpdateStatus(r.Context(), id, domain.StatusCancelled, "deployment cancelled"); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	h.Audit.Record(r, domain.AuditDeploymentCancel, "deployment", &id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"message": "cancellation requested"})
}

type rollbackRequest struct {
	ServerGroupIDs []int64 `json:"server_group_ids" validate:"required,min=1"`
}

// Rollback replays the source deployment's stored artifact onto the given
// server groups.
func (h *DeploymentHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	sourceID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}
	var req rollbackRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	source, err := h.Deployments.GetByID(r.Context(), sourceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := h.Deployments.GetArtifact(r.Context(), source.ID); err != nil {
		writeError(w, http.StatusBadRequest, "source deployment has no stored artifact")
		return
	}
	project, err := h.Projects.GetByID(r.Context(), source.ProjectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.checkGroupEnvironments(r, project, req.ServerGroupIDs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d := &domain.Deployment{
		ProjectID:      project.ID,
		Branch:         source.Branch,
		Kind:           source.Kind,
		Status:         domain.StatusPending,
		ServerGroupIDs: req.ServerGroupIDs,
		RollbackFrom:   &source.ID,
		Environment:    project.Environment,
		CreatedBy:      middleware.Claims(r).UserID,
	}
	if err := h.Deployments.Create(r.Context(), d); err != nil {
		writeDomainError(w, err)
		return
	}

	started := h.Orch.Launch(r.Context(), d)
	middleware.CountDeploymentStarted("rollback", !started)
	if !started {
		d.Status = domain.StatusQueued
		d.ErrorMessage = orchestrator.QueuedMessage
	}

	h.Audit.Record(r, domain.AuditDeploymentRollback, "deployment", &d.ID, map[string]any{
		"rollback_from": source.ID,
	})
	writeJSON(w, http.StatusCreated, d)
}

// checkGroupEnvironments rejects any selected group whose environment does
// not match the project's.
func (h *DeploymentHandler) checkGroupEnvironments(r *http.Request, project *domain.Project, groupIDs []int64) error {
	for _, id := range groupIDs {
		g, err := h.Servers.GetGroup(r.Context(), id)
		if err != nil {
			return fmt.Errorf("server group %d not found", id)
		}
		if g.Environment != project.Environment {
			return fmt.Errorf("server group %q is %s but project %q is %s",
				g.Name, g.Environment, project.Name, project.Environment)
		}
	}
	return nil
}

func parseGroupIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("server_group_ids is required")
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid server group id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
