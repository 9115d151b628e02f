package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/irgordon/slipway/internal/api/middleware"
	"github.com/irgordon/slipway/internal/core/domain"
)

// AuditRecorder appends audit rows for mutating API actions. Failures are
// logged, never surfaced; auditing must not fail the action it records.
type AuditRecorder struct {
	Repo   domain.AuditRepository
	Logger *slog.Logger
}

func (a *AuditRecorder) Record(r *http.Request, action domain.AuditAction, resourceType string, resourceID *int64, details any) {
	claims := middleware.Claims(r)
	if claims == nil {
		return
	}

	var raw json.RawMessage
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			raw = b
		}
	}

	entry := &domain.AuditLog{
		UserID:       claims.UserID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      raw,
		IPAddress:    r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	}
	if err := a.Repo.Create(r.Context(), entry); err != nil {
		a.Logger.Error("failed to write audit log", "action", action, "error", err)
	}
}

// AuditHandler serves the audit trail to administrators.
type AuditHandler struct {
	Repo domain.AuditRepository
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Repo.List(r.Context(), 100)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
