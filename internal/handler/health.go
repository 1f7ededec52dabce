package handler

import (
	"net/http"

	"github.com/sakif/nearby/internal/backend"
)

// SessionCounter reports the number of live sessions.
type SessionCounter interface {
	Active() int
}

// HealthHandler reports which storage backend is serving requests. It is for
// operators: a degraded deployment still answers 200 here so that load
// balancers keep routing to it.
type HealthHandler struct {
	selection *backend.Selection
	sessions  SessionCounter
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(selection *backend.Selection, sessions SessionCounter) *HealthHandler {
	return &HealthHandler{selection: selection, sessions: sessions}
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Backend   string `json:"backend"`
	Requested string `json:"requested"`
	Degraded  bool   `json:"degraded"`
	Sessions  int    `json:"sessions"`
}

// HandleHealth answers GET /healthz.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if h.selection.Degraded {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Backend:   h.selection.Repo.Backend(),
		Requested: h.selection.Requested,
		Degraded:  h.selection.Degraded,
		Sessions:  h.sessions.Active(),
	})
}
