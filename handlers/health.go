package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/CrowderSoup/kanban-board/database"
	"github.com/CrowderSoup/kanban-board/services"
)

type HealthHandler struct {
	store *database.Store
	hub   *services.Hub
}

func NewHealthHandler(store *database.Store, hub *services.Hub) *HealthHandler {
	return &HealthHandler{store: store, hub: hub}
}

// Health reports database reachability and hub counters.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := map[string]any{"status": "ok"}
	if h.hub != nil {
		resp["realtime"] = h.hub.Metrics().Snapshot()
	}
	if err := h.store.Ping(ctx); err != nil {
		resp["status"] = "degraded"
		resp["database"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp["database"] = "ok"
	writeJSON(w, http.StatusOK, resp)
}
