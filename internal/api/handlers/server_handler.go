package handlers

import (
	"log/slog"
	"net/http"

	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/core/services"
	"github.com/irgordon/slipway/internal/orchestrator"
)

type ServerHandler struct {
	Servers domain.ServerRepository
	Secrets *services.SecretService
	Dial    orchestrator.Dialer
	Audit   *AuditRecorder
	Logger  *slog.Logger
}

type serverRequest struct {
	Name       string             `json:"name" validate:"required,max=128"`
	Host       string             `json:"host" validate:"required"`
	Port       int                `json:"port" validate:"min=0,max=65535"`
	Username   string             `json:"username" validate:"required"`
	AuthKind   domain.SSHAuthKind `json:"auth_type" validate:"required,oneof=password ssh_key"`
	AuthSecret string             `json:"auth_secret"`
	Active     *bool              `json:"is_active"`
}

func (h *ServerHandler) apply(req *serverRequest, s *domain.Server) error {
	s.Name = req.Name
	s.Host = req.Host
	s.Port = req.Port
	if s.Port == 0 {
		s.Port = 22
	}
	s.Username = req.Username
	s.AuthKind = req.AuthKind
	if req.Active != nil {
		s.Active = *req.Active
	}

	if req.AuthSecret != "" {
		sealed, err := h.Secrets.SealServerSecret(req.AuthSecret)
		if err != nil {
			return err
		}
		s.AuthSecret = sealed
	}
	return nil
}

func (h *ServerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AuthSecret == "" {
		writeError(w, http.StatusBadRequest, "auth_secret is required")
		return
	}

	s := domain.Server{Active: true, Reachability: domain.ReachabilityUntested}
	if err := h.apply(&req, &s); err != nil {
		h.Logger.Error("failed to seal server secret", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := h.Servers.Create(r.Context(), &s); err != nil {
		writeDomainError(w, err)
		return
	}

	h.Audit.Record(r, domain.AuditServerCreate, "server", &s.ID, map[string]string{"name": s.Name, "host": s.Host})
	writeJSON(w, http.StatusCreated, s)
}

func (h *ServerHandler) List(w http.ResponseWriter, r *http.Request) {
	servers, err := h.Servers.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (h *ServerHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.loadServer(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *ServerHandler) Update(w http.ResponseWriter, r *http.Request) {
	s, err := h.loadServer(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req serverRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.apply(&req, s); err != nil {
		h.Logger.Error("failed to seal server secret", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := h.Servers.Update(r.Context(), s); err != nil {
		writeDomainError(w, err)
		return
	}

	h.Audit.Record(r, domain.AuditServerUpdate, "server", &s.ID, nil)
	writeJSON(w, http.StatusOK, s)
}

func (h *ServerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}
	if err := h.Servers.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	h.Audit.Record(r, domain.AuditServerDelete, "server", &id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// Test opens an SSH session to the server and records the outcome as its
// reachability state.
func (h *ServerHandler) Test(w http.ResponseWriter, r *http.Request) {
	s, err := h.loadServer(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	auth, err := h.Secrets.ServerAuth(s)
	if err != nil {
		h.Logger.Error("failed to resolve server auth", "server_id", s.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	reachability := domain.ReachabilityOnline
	var detail string
	if exec, dialErr := h.Dial(s, auth); dialErr != nil {
		reachability = domain.ReachabilityOffline
		detail = dialErr.Error()
	} else {
		exec.Close()
	}

	if err := h.Servers.UpdateReachability(r.Context(), s.ID, reachability); err != nil {
		h.Logger.Error("failed to update reachability", "server_id", s.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reachability": reachability,
		"detail":       detail,
	})
}

type serverGroupRequest struct {
	Name        string             `json:"name" validate:"required,max=128"`
	Description string             `json:"description"`
	Environment domain.Environment `json:"environment" validate:"required,oneof=development production"`
	ServerIDs   []int64            `json:"server_ids" validate:"required,min=1"`
}

func (h *ServerHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req serverGroupRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	g := domain.ServerGroup{
		Name:        req.Name,
		Description: req.Description,
		Environment: req.Environment,
	}
	if err := h.Servers.CreateGroup(r.Context(), &g, req.ServerIDs); err != nil {
		writeDomainError(w, err)
		return
	}

	h.Audit.Record(r, domain.AuditServerGroupCreate, "server_group", &g.ID, map[string]string{"name": g.Name})
	writeJSON(w, http.StatusCreated, g)
}

func (h *ServerHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Servers.ListGroups(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *ServerHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	g, err := h.Servers.GetGroup(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *ServerHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	g, err := h.Servers.GetGroup(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req serverGroupRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g.Name = req.Name
	g.Description = req.Description
	g.Environment = req.Environment
	if err := h.Servers.UpdateGroup(r.Context(), g, req.ServerIDs); err != nil {
		writeDomainError(w, err)
		return
	}

	h.Audit.Record(r, domain.AuditServerGroupUpdate, "server_group", &g.ID, nil)
	writeJSON(w, http.StatusOK, g)
}

func (h *ServerHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	if err := h.Servers.DeleteGroup(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	h.Audit.Record(r, domain.AuditServerGroupDelete, "server_group", &id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ServerHandler) loadServer(r *http.Request) (*domain.Server, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return h.Servers.GetByID(r.Context(), id)
}
