package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/core/services"
	"github.com/irgordon/slipway/internal/gitx"
)

type ProjectHandler struct {
	Projects domain.ProjectRepository
	Secrets  *services.SecretService
	Audit    *AuditRecorder
	Logger   *slog.Logger
}

type projectRequest struct {
	Name        string             `json:"name" validate:"required,max=128"`
	Description string             `json:"description"`
	GitURL      string             `json:"git_url" validate:"required"`
	GitToken    string             `json:"git_token"`
	GitUsername string             `json:"git_username"`
	GitPassword string             `json:"git_password"`
	GitSSHKey   string             `json:"git_ssh_key"`
	Kind        domain.ProjectKind `json:"project_type" validate:"required,oneof=frontend backend java"`

	BuildCommand   string `json:"build_command"`
	InstallCommand string `json:"install_command"`
	AutoInstall    bool   `json:"auto_install"`
	OutputDir      string `json:"output_dir"`

	UploadPath            string `json:"upload_path"`
	RestartScriptPath     string `json:"restart_script_path"`
	RestartOnlyScriptPath string `json:"restart_only_script_path"`

	Environment domain.Environment       `json:"environment" validate:"required,oneof=development production"`
	HealthCheck domain.HealthCheckConfig `json:"health_check"`
}

// apply copies the request onto the project, sealing any credential fields
// the caller supplied. An empty credential field leaves the stored value
// untouched on update.
func (h *ProjectHandler) apply(req *projectRequest, p *domain.Project) error {
	p.Name = req.Name
	p.Description = req.Description
	p.GitURL = req.GitURL
	p.Kind = req.Kind
	p.BuildCommand = req.BuildCommand
	p.InstallCommand = req.InstallCommand
	p.AutoInstall = req.AutoInstall
	p.OutputDir = req.OutputDir
	p.UploadPath = req.UploadPath
	p.RestartScriptPath = req.RestartScriptPath
	p.RestartOnlyScriptPath = req.RestartOnlyScriptPath
	p.Environment = req.Environment
	p.HealthCheck = req.HealthCheck

	seal := func(plaintext string, target *string) error {
		if plaintext == "" {
			return nil
		}
		sealed, err := h.Secrets.SealProjectSecret(plaintext)
		if err != nil {
			return err
		}
		*target = sealed
		return nil
	}
	if err := seal(req.GitToken, &p.GitToken); err != nil {
		return err
	}
	if req.GitUsername != "" {
		p.GitUsername = req.GitUsername
	}
	if err := seal(req.GitPassword, &p.GitPassword); err != nil {
		return err
	}
	return seal(req.GitSSHKey, &p.GitSSHKey)
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var p domain.Project
	if err := h.apply(&req, &p); err != nil {
		h.Logger.Error("failed to seal project credentials", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := h.Projects.Create(r.Context(), &p); err != nil {
		writeDomainError(w, err)
		return
	}

	h.Audit.Record(r, domain.AuditProjectCreate, "project", &p.ID, map[string]string{"name": p.Name})
	writeJSON(w, http.StatusCreated, p)
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Projects.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.loadProject(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, err := h.loadProject(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req projectRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.apply(&req, p); err != nil {
		h.Logger.Error("failed to seal project credentials", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := h.Projects.Update(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}

	h.Audit.Record(r, domain.AuditProjectUpdate, "project", &p.ID, nil)
	writeJSON(w, http.StatusOK, p)
}

func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	if err := h.Projects.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	h.Audit.Record(r, domain.AuditProjectDelete, "project", &id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// Branches lists the branch names on the project's remote without cloning.
func (h *ProjectHandler) Branches(w http.ResponseWriter, r *http.Request) {
	p, err := h.loadProject(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	creds, err := h.Secrets.GitCredentials(p)
	if err != nil {
		h.Logger.Error("failed to resolve git credentials", "project_id", p.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	branches, err := gitx.ListBranches(r.Context(), p.GitURL, creds)
	if err != nil {
		message := "could not list branches"
		var ge *gitx.Error
		if errors.As(err, &ge) {
			message = ge.Hint()
		}
		writeError(w, http.StatusBadGateway, message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

func (h *ProjectHandler) loadProject(r *http.Request) (*domain.Project, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return h.Projects.GetByID(r.Context(), id)
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}
