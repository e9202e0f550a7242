package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/CrowderSoup/kanban-board/services"
)

func (h *BoardHandler) ListChecklist(w http.ResponseWriter, r *http.Request) {
	items, err := h.boardService.ListChecklist(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// AddChecklist accepts either a single {"text"} or a bulk {"items"} body.
func (h *BoardHandler) AddChecklist(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r)
	cardID := mux.Vars(r)["id"]
	var req struct {
		Text  string   `json:"text"`
		Items []string `json:"items"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if len(req.Items) > 0 {
		items, err := h.boardService.AddChecklistItems(r.Context(), userID, cardID, req.Items)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, items)
		return
	}

	item, err := h.boardService.AddChecklistItem(r.Context(), userID, cardID, req.Text)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *BoardHandler) ChecklistStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.boardService.ChecklistStats(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *BoardHandler) UpdateChecklistItem(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r)
	var patch services.ChecklistPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	item, err := h.boardService.UpdateChecklistItem(r.Context(), userID, mux.Vars(r)["id"], patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *BoardHandler) DeleteChecklistItem(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r)
	if err := h.boardService.DeleteChecklistItem(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
