package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/CrowderSoup/kanban-board/database"
)

// TrashView is a trash entry with the days left before auto-purge.
type TrashView struct {
	database.TrashEntry
	DaysLeft int `json:"days_until_purge"`
}

func (h *BoardHandler) trashView(e database.TrashEntry) TrashView {
	return TrashView{TrashEntry: e, DaysLeft: e.DaysUntilPurge(h.now())}
}

func (h *BoardHandler) ListTrash(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r)
	entries, err := h.boardService.ListTrash(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	views := make([]TrashView, 0, len(entries))
	for _, e := range entries {
		views = append(views, h.trashView(e))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *BoardHandler) RestoreTrash(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r)
	card, err := h.boardService.RestoreFromTrash(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *BoardHandler) DeleteTrash(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r)
	if err := h.boardService.DeleteFromTrash(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
