package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/kanban-board/database"
	"github.com/CrowderSoup/kanban-board/events"
	"github.com/CrowderSoup/kanban-board/services"
)

type testServer struct {
	*httptest.Server
	auth *services.AuthService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := database.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := services.NewHub()
	go hub.Run(ctx)

	auth := services.NewAuthService("test-secret", time.Hour, 15*time.Minute, services.SMTPConfig{})
	router := NewRouter(Dependencies{
		Store:           store,
		Auth:            auth,
		Board:           services.NewBoardService(store, hub, 30*24*time.Hour),
		Profiles:        services.NewProfileService(store, hub),
		Hub:             hub,
		ExposeMagicLink: true,
		AllowedOrigins:  []string{"*"},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, auth: auth}
}

// login runs the magic link flow and returns the session.
func (s *testServer) login(t *testing.T, email string) SessionResponse {
	t.Helper()
	var login map[string]string
	s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email}, http.StatusOK, &login)

	link, err := url.Parse(login["magic_link"])
	require.NoError(t, err)
	token := link.Query().Get("token")
	require.NotEmpty(t, token)

	var session SessionResponse
	s.do(t, http.MethodPost, "/api/auth/exchange", "", map[string]string{"token": token}, http.StatusOK, &session)
	require.NotEmpty(t, session.Token)
	return session
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, wantStatus int, out any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, wantStatus, resp.StatusCode, "%s %s", method, path)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	var resp map[string]any
	s.do(t, http.MethodGet, "/api/health", "", nil, http.StatusOK, &resp)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "ok", resp["database"])
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	session := s.login(t, "Ada@Example.com")
	assert.Equal(t, "ada@example.com", session.Email)
	assert.Equal(t, "ada", session.Nickname)

	var verify map[string]string
	s.do(t, http.MethodGet, "/api/auth/verify", session.Token, nil, http.StatusOK, &verify)
	assert.Equal(t, session.UserID, verify["user_id"])

	var errResp errorResponse
	s.do(t, http.MethodGet, "/api/cards", "", nil, http.StatusUnauthorized, &errResp)
	assert.NotEmpty(t, errResp.Error)
	s.do(t, http.MethodGet, "/api/cards", "garbage", nil, http.StatusUnauthorized, nil)
	s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "nope"}, http.StatusBadRequest, nil)
	s.do(t, http.MethodPost, "/api/auth/exchange", "", map[string]string{"token": "unknown"}, http.StatusUnauthorized, nil)
}

func TestMagicLinkRedirect(t *testing.T) {
	s := newTestServer(t)
	link, err := s.auth.GenerateMagicLink("redirect@example.com", s.URL)
	require.NoError(t, err)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(link)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "redirect@example.com", loc.Query().Get("email"))
	assert.NotEmpty(t, loc.Query().Get("token"))
}

func TestCardsLifecycle(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(t, "alice@example.com")
	bob := s.login(t, "bob@example.com")

	var card database.Card
	s.do(t, http.MethodPost, "/api/cards", alice.Token, map[string]any{
		"title": "Plan sprint", "priority": "high",
	}, http.StatusCreated, &card)
	assert.Equal(t, alice.UserID, card.UserID)
	assert.Equal(t, database.ColumnTodo, card.ColumnID)

	var bobCard database.Card
	s.do(t, http.MethodPost, "/api/cards", bob.Token, map[string]any{"title": "Bob's"}, http.StatusCreated, &bobCard)

	s.do(t, http.MethodPost, "/api/cards", alice.Token, map[string]any{"title": ""}, http.StatusBadRequest, nil)

	var own []database.Card
	s.do(t, http.MethodGet, "/api/cards", alice.Token, nil, http.StatusOK, &own)
	assert.Len(t, own, 1)

	var all []database.Card
	s.do(t, http.MethodGet, "/api/cards?all=true&sort=priority", alice.Token, nil, http.StatusOK, &all)
	require.Len(t, all, 2)
	assert.Equal(t, card.ID, all[0].ID)

	var searched []database.Card
	s.do(t, http.MethodGet, "/api/cards?all=1&q=SPRINT", alice.Token, nil, http.StatusOK, &searched)
	assert.Len(t, searched, 1)

	s.do(t, http.MethodGet, "/api/cards?priority=urgent", alice.Token, nil, http.StatusBadRequest, nil)

	s.do(t, http.MethodPatch, "/api/cards/"+card.ID, bob.Token, map[string]any{"title": "mine now"}, http.StatusForbidden, nil)
	s.do(t, http.MethodGet, "/api/cards/missing", alice.Token, nil, http.StatusNotFound, nil)

	var moved database.Card
	s.do(t, http.MethodPost, "/api/cards/"+card.ID+"/move", alice.Token, MoveRequest{ColumnID: database.ColumnDone, Position: 1}, http.StatusOK, &moved)
	assert.Equal(t, database.ColumnDone, moved.ColumnID)
	assert.NotNil(t, moved.CompletedAt)

	var reorder map[string]int
	s.do(t, http.MethodPut, "/api/columns/done/positions", alice.Token, []database.PositionUpdate{{ID: card.ID, Position: 4}}, http.StatusOK, &reorder)
	assert.Equal(t, 1, reorder["updated"])

	var owners []string
	s.do(t, http.MethodGet, "/api/users", alice.Token, nil, http.StatusOK, &owners)
	assert.ElementsMatch(t, []string{alice.UserID, bob.UserID}, owners)
}

func TestTrashEndpoints(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(t, "alice@example.com")
	bob := s.login(t, "bob@example.com")

	var card database.Card
	s.do(t, http.MethodPost, "/api/cards", alice.Token, map[string]any{"title": "Old"}, http.StatusCreated, &card)

	s.do(t, http.MethodDelete, "/api/cards/"+card.ID, bob.Token, nil, http.StatusForbidden, nil)

	var entry TrashView
	s.do(t, http.MethodDelete, "/api/cards/"+card.ID, alice.Token, nil, http.StatusOK, &entry)
	assert.Equal(t, card.ID, entry.CardID)
	assert.Equal(t, 30, entry.DaysLeft)

	var trash []TrashView
	s.do(t, http.MethodGet, "/api/trash", alice.Token, nil, http.StatusOK, &trash)
	require.Len(t, trash, 1)

	var restored database.Card
	s.do(t, http.MethodPost, "/api/trash/"+entry.ID+"/restore", alice.Token, nil, http.StatusOK, &restored)
	assert.Equal(t, card.ID, restored.ID)

	var bulk services.BulkResult
	s.do(t, http.MethodPost, "/api/cards/bulk-trash", alice.Token, map[string]any{"ids": []string{card.ID, "missing"}}, http.StatusOK, &bulk)
	assert.Equal(t, 1, bulk.Success)
	assert.Equal(t, 1, bulk.Failed)

	s.do(t, http.MethodGet, "/api/trash", alice.Token, nil, http.StatusOK, &trash)
	require.Len(t, trash, 1)
	s.do(t, http.MethodDelete, "/api/trash/"+trash[0].ID, alice.Token, nil, http.StatusNoContent, nil)
	s.do(t, http.MethodDelete, "/api/trash/"+trash[0].ID, alice.Token, nil, http.StatusNotFound, nil)
}

func TestChecklistEndpoints(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(t, "alice@example.com")

	var card database.Card
	s.do(t, http.MethodPost, "/api/cards", alice.Token, map[string]any{"title": "Lists"}, http.StatusCreated, &card)

	var item database.ChecklistItem
	s.do(t, http.MethodPost, "/api/cards/"+card.ID+"/checklist", alice.Token, map[string]any{"text": "first"}, http.StatusCreated, &item)
	assert.Equal(t, 0, item.Position)

	var items []database.ChecklistItem
	s.do(t, http.MethodPost, "/api/cards/"+card.ID+"/checklist", alice.Token, map[string]any{"items": []string{"second", "third"}}, http.StatusCreated, &items)
	assert.Len(t, items, 2)

	var updated database.ChecklistItem
	s.do(t, http.MethodPatch, "/api/checklist/"+item.ID, alice.Token, map[string]any{"is_completed": true}, http.StatusOK, &updated)
	assert.True(t, updated.IsCompleted)

	var stats database.ChecklistStats
	s.do(t, http.MethodGet, "/api/cards/"+card.ID+"/checklist/stats", alice.Token, nil, http.StatusOK, &stats)
	assert.Equal(t, database.ChecklistStats{Completed: 1, Total: 3}, stats)

	s.do(t, http.MethodDelete, "/api/checklist/"+item.ID, alice.Token, nil, http.StatusNoContent, nil)
	s.do(t, http.MethodGet, "/api/cards/"+card.ID+"/checklist", alice.Token, nil, http.StatusOK, &items)
	assert.Len(t, items, 2)

	s.do(t, http.MethodPost, "/api/cards/"+card.ID+"/checklist", alice.Token, map[string]any{"text": strings.Repeat("x", 201)}, http.StatusBadRequest, nil)
}

func TestProfileEndpoints(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(t, "alice@example.com")
	bob := s.login(t, "bob@example.com")

	var me database.UserProfile
	s.do(t, http.MethodGet, "/api/profiles/me", alice.Token, nil, http.StatusOK, &me)
	assert.Equal(t, "alice", me.Nickname)

	s.do(t, http.MethodPut, "/api/profiles/me", alice.Token, map[string]string{"nickname": "bob"}, http.StatusConflict, nil)
	s.do(t, http.MethodPut, "/api/profiles/me", alice.Token, map[string]string{"nickname": "no!"}, http.StatusBadRequest, nil)
	s.do(t, http.MethodPut, "/api/profiles/me", alice.Token, map[string]string{"nickname": "Alice W"}, http.StatusOK, &me)
	assert.Equal(t, "Alice W", me.Nickname)

	var avail map[string]any
	s.do(t, http.MethodGet, "/api/profiles/availability?nickname=Alice+W", bob.Token, nil, http.StatusOK, &avail)
	assert.Equal(t, false, avail["available"])

	var other database.UserProfile
	s.do(t, http.MethodGet, "/api/profiles/"+bob.UserID, alice.Token, nil, http.StatusOK, &other)
	assert.Equal(t, "bob", other.Nickname)

	var profiles []database.UserProfile
	s.do(t, http.MethodGet, "/api/profiles", alice.Token, nil, http.StatusOK, &profiles)
	assert.Len(t, profiles, 2)
}

func TestImportEndpoint(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(t, "alice@example.com")

	var resp struct {
		Imported int             `json:"imported"`
		Cards    []database.Card `json:"cards"`
	}
	s.do(t, http.MethodPost, "/api/cards/import", alice.Token, map[string]any{
		"cards": []database.LegacyCard{
			{ID: "1", Title: "Legacy", ColumnID: "inProgress", CreatedAt: time.Now().UnixMilli()},
		},
	}, http.StatusCreated, &resp)
	assert.Equal(t, 1, resp.Imported)
	assert.Equal(t, database.ColumnInProgress, resp.Cards[0].ColumnID)
}

func TestWebSocketReceivesChanges(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(t, "alice@example.com")

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/ws?token=" + url.QueryEscape(alice.Token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	sub, err := events.NewMessage(events.TypeSubscribe, events.SubscribeRequest{Table: events.TableCards})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(sub))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack events.Message
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, events.TypeSubscribed, ack.Type)

	var card database.Card
	s.do(t, http.MethodPost, "/api/cards", alice.Token, map[string]any{"title": "Live"}, http.StatusCreated, &card)

	var msg events.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, events.TypeChange, msg.Type)
	var ev events.ChangeEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, events.EventInsert, ev.Type)

	var got database.Card
	require.NoError(t, json.Unmarshal(ev.New, &got))
	assert.Equal(t, card.ID, got.ID)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+"/api/ws", nil)
	assert.Error(t, err)
}

func TestQueryTokenOnlyAuthenticatesWebSocket(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(t, "alice@example.com")

	resp, err := http.Get(s.URL + "/api/cards?token=" + url.QueryEscape(alice.Token))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/ws?token=" + url.QueryEscape(alice.Token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	conn.Close()
}
