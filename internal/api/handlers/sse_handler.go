package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/logstream"
)

// keepaliveInterval is how long an SSE stream may stay silent before a
// comment frame is emitted to keep proxies from closing it.
const keepaliveInterval = 30 * time.Second

// SSEHandler streams deployment logs as server-sent events. A running
// deployment replays the in-memory ring then follows live output; a finished
// one replays the persisted tail and closes.
type SSEHandler struct {
	Registry    *logstream.Registry
	Deployments domain.DeploymentRepository
	Logs        domain.LogRepository
	Logger      *slog.Logger
}

func (h *SSEHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}
	if _, err := h.Deployments.GetByID(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)

	buffer, live := h.Registry.Lookup(id)
	if !live {
		h.replayFinished(w, rc, r, id)
		return
	}

	ch, cancel := buffer.Subscribe()
	defer cancel()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-ch:
			if !ok {
				// Buffer closed: deployment reached a terminal status.
				return
			}
			if err := writeEvent(w, rc, entry); err != nil {
				return
			}
			keepalive.Reset(keepaliveInterval)
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *SSEHandler) replayFinished(w http.ResponseWriter, rc *http.ResponseController, r *http.Request, id int64) {
	entries, err := h.Logs.ListRecent(r.Context(), id, 500)
	if err != nil {
		h.Logger.Error("failed to load persisted logs", "deployment_id", id, "error", err)
		return
	}
	for _, entry := range entries {
		if err := writeEvent(w, rc, entry); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, e domain.LogEntry) error {
	if _, err := fmt.Fprintf(w, "data: %s %s %s\n\n",
		e.Level, e.Timestamp.UTC().Format(time.RFC3339), e.Content); err != nil {
		return err
	}
	return rc.Flush()
}
