package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/CrowderSoup/kanban-board/database"
	"github.com/CrowderSoup/kanban-board/services"
)

// AuthHandler handles authentication-related endpoints
type AuthHandler struct {
	authService     *services.AuthService
	profileService  *services.ProfileService
	store           *database.Store
	baseURL         string
	exposeMagicLink bool
}

func NewAuthHandler(authService *services.AuthService, profileService *services.ProfileService, store *database.Store, baseURL string, exposeMagicLink bool) *AuthHandler {
	return &AuthHandler{
		authService:     authService,
		profileService:  profileService,
		store:           store,
		baseURL:         strings.TrimRight(baseURL, "/"),
		exposeMagicLink: exposeMagicLink,
	}
}

// SessionResponse is returned once a magic link token has been exchanged.
type SessionResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Nickname string `json:"nickname,omitempty"`
}

// Login handles the login request (sending a magic link)
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	baseURL := h.baseURL
	if baseURL == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, r.Host)
	}

	magicLink, err := h.authService.GenerateMagicLink(email, baseURL)
	if err != nil {
		slog.Error("failed to generate magic link", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate login link")
		return
	}

	resp := map[string]string{
		"status":  "success",
		"message": "Magic link has been sent",
	}
	if h.exposeMagicLink {
		resp["magic_link"] = magicLink
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMagicLink processes a magic link token and redirects to the frontend
func (h *AuthHandler) HandleMagicLink(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	session, err := h.startSession(r, token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or expired token")
		return
	}

	redirectURL := fmt.Sprintf("/?token=%s&email=%s", url.QueryEscape(session.Token), url.QueryEscape(session.Email))
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// Exchange trades a magic link token for a session token without a
// redirect, for non-browser clients.
func (h *AuthHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	session, err := h.startSession(r, req.Token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// startSession consumes a magic token, registers the user on first login
// and issues a JWT.
func (h *AuthHandler) startSession(r *http.Request, token string) (*SessionResponse, error) {
	email, err := h.authService.VerifyMagicLinkToken(token)
	if err != nil {
		return nil, err
	}

	user, created, err := h.store.EnsureUser(r.Context(), email)
	if err != nil {
		slog.Error("failed to register user", "email", email, "error", err)
		return nil, err
	}
	if created {
		slog.Info("registered new user", "user_id", user.ID)
	}

	profile, err := h.profileService.EnsureProfile(r.Context(), user)
	if err != nil {
		slog.Error("failed to create profile", "user_id", user.ID, "error", err)
		return nil, err
	}

	jwtToken, err := h.authService.CreateJWT(user.ID, user.Email)
	if err != nil {
		slog.Error("failed to create JWT", "error", err)
		return nil, err
	}

	return &SessionResponse{
		Token:    jwtToken,
		UserID:   user.ID,
		Email:    user.Email,
		Nickname: profile.Nickname,
	}, nil
}

// VerifyToken reports the identity behind a valid JWT.
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	userID, email := currentUser(r)
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"email":   email,
		"status":  "valid",
	})
}
