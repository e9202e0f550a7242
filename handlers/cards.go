package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/CrowderSoup/kanban-board/board"
	"github.com/CrowderSoup/kanban-board/database"
	"github.com/CrowderSoup/kanban-board/services"
)

// BoardHandler serves cards, checklists and the trash bin.
type BoardHandler struct {
	boardService *services.BoardService
	now          func() time.Time
}

func NewBoardHandler(boardService *services.BoardService) *BoardHandler {
	return &BoardHandler{boardService: boardService, now: time.Now}
}

// ListCards returns the board filtered by the all, priority, sort and q
// query parameters.
func (h *BoardHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r)
	q := r.URL.Query()
	showAll, _ := strconv.ParseBool(q.Get("all"))

	priority := database.Priority(q.Get("priority"))
	if priority != "" && !priority.Valid() {
		writeError(w, http.StatusBadRequest, "unknown priority")
		return
	}

	cards, err := h.boardService.ListCards(r.Context(), userID, showAll)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	view := board.View{
		CurrentUser: userID,
		ShowAll:     showAll,
		Priority:    priority,
		Sort:        board.ParseSort(q.Get("sort")),
		Query:       q.Get("q"),
	}
	writeJSON(w, http.StatusOK, view.Apply(cards))
}

func (h *BoardHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r)
	var in services.CardInput
	if !decodeJSON(w, r, &in) {
		return
	}
	card, err := h.boardService.CreateCard(r.Context(), userID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (h *BoardHandler) GetCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.boardService.GetCard(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *BoardHandler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r)
	var patch services.CardPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	card, err := h.boardService.UpdateCard(r.Context(), userID, mux.Vars(r)["id"], patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// MoveRequest places a card in a column.
type MoveRequest struct {
	ColumnID database.Column `json:"column_id"`
	Position int             `json:"position"`
}

func (h *BoardHandler) MoveCard(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r)
	var req MoveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	card, err := h.boardService.MoveCard(r.Context(), userID, mux.Vars(r)["id"], req.ColumnID, req.Position)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// TrashCard soft-deletes a card.
func (h *BoardHandler) TrashCard(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r)
	entry, err := h.boardService.TrashCard(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.trashView(*entry))
}

func (h *BoardHandler) BulkTrash(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r)
	var req struct {
		IDs []string `json:"ids"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.boardService.BulkTrash(r.Context(), userID, req.IDs))
}

// ImportCards migrates a local-storage board dump.
func (h *BoardHandler) ImportCards(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r)
	var req struct {
		Cards []database.LegacyCard `json:"cards"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	cards, err := h.boardService.ImportLegacy(r.Context(), userID, req.Cards)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"imported": len(cards),
		"cards":    cards,
	})
}

func (h *BoardHandler) ReorderColumn(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUser(r)
	var updates []database.PositionUpdate
	if !decodeJSON(w, r, &updates) {
		return
	}
	column := database.Column(mux.Vars(r)["column"])
	changed, err := h.boardService.ReorderColumn(r.Context(), userID, column, updates)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": changed})
}

// Owners lists the users that own at least one card.
func (h *BoardHandler) Owners(w http.ResponseWriter, r *http.Request) {
	ids, err := h.boardService.OwnerIDs(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}
