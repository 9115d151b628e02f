package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/logstream"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSHandler streams deployment logs over a websocket, one JSON log entry per
// message. Browser clients that cannot use EventSource (or want binary-safe
// framing) use this instead of the SSE endpoint.
type WSHandler struct {
	Registry       *logstream.Registry
	Deployments    domain.DeploymentRepository
	Logs           domain.LogRepository
	AllowedOrigins []string
	Logger         *slog.Logger
}

func (h *WSHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range h.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

func (h *WSHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}
	if _, err := h.Deployments.GetByID(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	up := h.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	// Reader goroutine: the client never sends data, but reads must be
	// serviced for close and pong frames to be processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(e domain.LogEntry) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(e)
	}

	buffer, live := h.Registry.Lookup(id)
	if !live {
		entries, err := h.Logs.ListRecent(r.Context(), id, 500)
		if err != nil {
			h.Logger.Error("failed to load persisted logs", "deployment_id", id, "error", err)
			return
		}
		for _, e := range entries {
			if send(e) != nil {
				return
			}
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "deployment finished"))
		return
	}

	ch, cancel := buffer.Subscribe()
	defer cancel()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "deployment finished"))
				return
			}
			if send(e) != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if conn.WriteMessage(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}
