// Package client is a typed HTTP client for the board API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CrowderSoup/kanban-board/database"
	"github.com/CrowderSoup/kanban-board/services"
)

// ProbeTimeout bounds a connectivity check.
const ProbeTimeout = 5 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Client talks to the board server with a bearer token.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the session token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// WebSocketURL returns the realtime endpoint with the token attached.
func (c *Client) WebSocketURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/api/ws")
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", c.Token())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Health is the server's health report.
type Health struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Probe checks connectivity within ProbeTimeout.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	_, err := c.Health(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("server did not answer within %s: %w", ProbeTimeout, err)
	}
	return err
}

// LoginResponse acknowledges a magic link request. MagicLink is only set
// when the server exposes links for development.
type LoginResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	MagicLink string `json:"magic_link,omitempty"`
}

func (c *Client) Login(ctx context.Context, email string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{"email": email}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Session is an authenticated identity.
type Session struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Nickname string `json:"nickname,omitempty"`
}

// Exchange trades a magic link token for a session and keeps its token.
func (c *Client) Exchange(ctx context.Context, magicToken string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/api/auth/exchange", map[string]string{"token": magicToken}, &s); err != nil {
		return nil, err
	}
	c.SetToken(s.Token)
	return &s, nil
}

// Verify returns the identity behind the current token.
func (c *Client) Verify(ctx context.Context) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodGet, "/api/auth/verify", nil, &s); err != nil {
		return nil, err
	}
	s.Token = c.Token()
	return &s, nil
}

// ListOptions mirrors the board's filter query parameters.
type ListOptions struct {
	All      bool
	Priority string
	Sort     string
	Query    string
}

func (o ListOptions) encode() string {
	q := url.Values{}
	if o.All {
		q.Set("all", strconv.FormatBool(true))
	}
	if o.Priority != "" {
		q.Set("priority", o.Priority)
	}
	if o.Sort != "" {
		q.Set("sort", o.Sort)
	}
	if o.Query != "" {
		q.Set("q", o.Query)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) ListCards(ctx context.Context, opts ListOptions) ([]database.Card, error) {
	var cards []database.Card
	if err := c.do(ctx, http.MethodGet, "/api/cards"+opts.encode(), nil, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

func (c *Client) GetCard(ctx context.Context, id string) (*database.Card, error) {
	var card database.Card
	if err := c.do(ctx, http.MethodGet, "/api/cards/"+url.PathEscape(id), nil, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) CreateCard(ctx context.Context, in services.CardInput) (*database.Card, error) {
	var card database.Card
	if err := c.do(ctx, http.MethodPost, "/api/cards", in, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) UpdateCard(ctx context.Context, id string, patch services.CardPatch) (*database.Card, error) {
	var card database.Card
	if err := c.do(ctx, http.MethodPatch, "/api/cards/"+url.PathEscape(id), patch, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) MoveCard(ctx context.Context, id string, column database.Column, position int) (*database.Card, error) {
	body := map[string]any{"column_id": column, "position": position}
	var card database.Card
	if err := c.do(ctx, http.MethodPost, "/api/cards/"+url.PathEscape(id)+"/move", body, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) ReorderColumn(ctx context.Context, column database.Column, updates []database.PositionUpdate) (int, error) {
	var resp struct {
		Updated int `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/columns/"+url.PathEscape(string(column))+"/positions", updates, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// TrashEntry is a trash record as listed by the server.
type TrashEntry struct {
	database.TrashEntry
	DaysLeft int `json:"days_until_purge"`
}

// TrashCard moves a card to the trash.
func (c *Client) TrashCard(ctx context.Context, id string) (*TrashEntry, error) {
	var e TrashEntry
	if err := c.do(ctx, http.MethodDelete, "/api/cards/"+url.PathEscape(id), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) BulkTrash(ctx context.Context, ids []string) (*services.BulkResult, error) {
	var r services.BulkResult
	if err := c.do(ctx, http.MethodPost, "/api/cards/bulk-trash", map[string]any{"ids": ids}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ImportCards uploads legacy local-storage cards.
func (c *Client) ImportCards(ctx context.Context, legacy []database.LegacyCard) ([]database.Card, error) {
	var resp struct {
		Imported int             `json:"imported"`
		Cards    []database.Card `json:"cards"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/cards/import", map[string]any{"cards": legacy}, &resp); err != nil {
		return nil, err
	}
	return resp.Cards, nil
}

func (c *Client) ListChecklist(ctx context.Context, cardID string) ([]database.ChecklistItem, error) {
	var items []database.ChecklistItem
	if err := c.do(ctx, http.MethodGet, "/api/cards/"+url.PathEscape(cardID)+"/checklist", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) AddChecklistItem(ctx context.Context, cardID, text string) (*database.ChecklistItem, error) {
	var item database.ChecklistItem
	if err := c.do(ctx, http.MethodPost, "/api/cards/"+url.PathEscape(cardID)+"/checklist", map[string]string{"text": text}, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) AddChecklistItems(ctx context.Context, cardID string, texts []string) ([]database.ChecklistItem, error) {
	var items []database.ChecklistItem
	if err := c.do(ctx, http.MethodPost, "/api/cards/"+url.PathEscape(cardID)+"/checklist", map[string]any{"items": texts}, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) ChecklistStats(ctx context.Context, cardID string) (*database.ChecklistStats, error) {
	var stats database.ChecklistStats
	if err := c.do(ctx, http.MethodGet, "/api/cards/"+url.PathEscape(cardID)+"/checklist/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) UpdateChecklistItem(ctx context.Context, id string, patch services.ChecklistPatch) (*database.ChecklistItem, error) {
	var item database.ChecklistItem
	if err := c.do(ctx, http.MethodPatch, "/api/checklist/"+url.PathEscape(id), patch, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) DeleteChecklistItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/checklist/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListTrash(ctx context.Context) ([]TrashEntry, error) {
	var entries []TrashEntry
	if err := c.do(ctx, http.MethodGet, "/api/trash", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) RestoreTrash(ctx context.Context, id string) (*database.Card, error) {
	var card database.Card
	if err := c.do(ctx, http.MethodPost, "/api/trash/"+url.PathEscape(id)+"/restore", nil, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) DeleteTrash(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/trash/"+url.PathEscape(id), nil, nil)
}

// Owners lists the ids of users owning cards.
func (c *Client) Owners(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *Client) ListProfiles(ctx context.Context) ([]database.UserProfile, error) {
	var profiles []database.UserProfile
	if err := c.do(ctx, http.MethodGet, "/api/profiles", nil, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (c *Client) MyProfile(ctx context.Context) (*database.UserProfile, error) {
	var p database.UserProfile
	if err := c.do(ctx, http.MethodGet, "/api/profiles/me", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Profile(ctx context.Context, userID string) (*database.UserProfile, error) {
	var p database.UserProfile
	if err := c.do(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(userID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) UpdateNickname(ctx context.Context, nickname string) (*database.UserProfile, error) {
	var p database.UserProfile
	if err := c.do(ctx, http.MethodPut, "/api/profiles/me", map[string]string{"nickname": nickname}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) NicknameAvailable(ctx context.Context, nickname string) (bool, error) {
	var resp struct {
		Available bool `json:"available"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/profiles/availability?nickname="+url.QueryEscape(nickname), nil, &resp); err != nil {
		return false, err
	}
	return resp.Available, nil
}
