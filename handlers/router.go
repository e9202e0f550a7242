package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/CrowderSoup/kanban-board/database"
	"github.com/CrowderSoup/kanban-board/services"
)

// Dependencies wires the services behind the HTTP surface.
type Dependencies struct {
	Store           *database.Store
	Auth            *services.AuthService
	Board           *services.BoardService
	Profiles        *services.ProfileService
	Hub             *services.Hub
	BaseURL         string
	ExposeMagicLink bool
	AllowedOrigins  []string
	StaticDir       string
}

// NewRouter registers every API route.
func NewRouter(deps Dependencies) *mux.Router {
	authHandler := NewAuthHandler(deps.Auth, deps.Profiles, deps.Store, deps.BaseURL, deps.ExposeMagicLink)
	boardHandler := NewBoardHandler(deps.Board)
	profileHandler := NewProfileHandler(deps.Profiles)
	wsHandler := NewWebSocketHandler(deps.Hub, deps.AllowedOrigins)
	healthHandler := NewHealthHandler(deps.Store, deps.Hub)
	authMiddleware := NewAuthMiddleware(deps.Auth)

	r := mux.NewRouter()
	r.Use(RequestLogger)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", healthHandler.Health).Methods(http.MethodGet)

	// Auth routes
	api.HandleFunc("/auth/login", authHandler.Login).Methods(http.MethodPost)
	api.HandleFunc("/auth/magic-link", authHandler.HandleMagicLink).Methods(http.MethodGet)
	api.HandleFunc("/auth/exchange", authHandler.Exchange).Methods(http.MethodPost)

	// Protected routes
	p := api.NewRoute().Subrouter()
	p.Use(authMiddleware.Auth)

	p.HandleFunc("/auth/verify", authHandler.VerifyToken).Methods(http.MethodGet)

	p.HandleFunc("/cards", boardHandler.ListCards).Methods(http.MethodGet)
	p.HandleFunc("/cards", boardHandler.CreateCard).Methods(http.MethodPost)
	p.HandleFunc("/cards/import", boardHandler.ImportCards).Methods(http.MethodPost)
	p.HandleFunc("/cards/bulk-trash", boardHandler.BulkTrash).Methods(http.MethodPost)
	p.HandleFunc("/cards/{id}", boardHandler.GetCard).Methods(http.MethodGet)
	p.HandleFunc("/cards/{id}", boardHandler.UpdateCard).Methods(http.MethodPatch)
	p.HandleFunc("/cards/{id}", boardHandler.TrashCard).Methods(http.MethodDelete)
	p.HandleFunc("/cards/{id}/move", boardHandler.MoveCard).Methods(http.MethodPost)
	p.HandleFunc("/columns/{column}/positions", boardHandler.ReorderColumn).Methods(http.MethodPut)

	p.HandleFunc("/cards/{id}/checklist", boardHandler.ListChecklist).Methods(http.MethodGet)
	p.HandleFunc("/cards/{id}/checklist", boardHandler.AddChecklist).Methods(http.MethodPost)
	p.HandleFunc("/cards/{id}/checklist/stats", boardHandler.ChecklistStats).Methods(http.MethodGet)
	p.HandleFunc("/checklist/{id}", boardHandler.UpdateChecklistItem).Methods(http.MethodPatch)
	p.HandleFunc("/checklist/{id}", boardHandler.DeleteChecklistItem).Methods(http.MethodDelete)

	p.HandleFunc("/trash", boardHandler.ListTrash).Methods(http.MethodGet)
	p.HandleFunc("/trash/{id}/restore", boardHandler.RestoreTrash).Methods(http.MethodPost)
	p.HandleFunc("/trash/{id}", boardHandler.DeleteTrash).Methods(http.MethodDelete)

	p.HandleFunc("/users", boardHandler.Owners).Methods(http.MethodGet)

	p.HandleFunc("/profiles", profileHandler.List).Methods(http.MethodGet)
	p.HandleFunc("/profiles/me", profileHandler.Me).Methods(http.MethodGet)
	p.HandleFunc("/profiles/me", profileHandler.UpdateMe).Methods(http.MethodPut)
	p.HandleFunc("/profiles/availability", profileHandler.Availability).Methods(http.MethodGet)
	p.HandleFunc("/profiles/{userID}", profileHandler.Get).Methods(http.MethodGet)

	// WebSocket route for real-time updates
	p.HandleFunc("/ws", wsHandler.HandleWebSocket)

	if deps.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(deps.StaticDir)))
	}
	return r
}

// WithCORS wraps the router with the configured CORS policy.
func WithCORS(h http.Handler, allowedOrigins []string) http.Handler {
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: !allowAll,
	})
	return c.Handler(h)
}
