package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/kanban-board/board"
	"github.com/CrowderSoup/kanban-board/client"
	"github.com/CrowderSoup/kanban-board/database"
	"github.com/CrowderSoup/kanban-board/handlers"
	"github.com/CrowderSoup/kanban-board/realtime"
	"github.com/CrowderSoup/kanban-board/services"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := database.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := services.NewHub()
	go hub.Run(ctx)

	router := handlers.NewRouter(handlers.Dependencies{
		Store:           store,
		Auth:            services.NewAuthService("test-secret", time.Hour, 15*time.Minute, services.SMTPConfig{}),
		Board:           services.NewBoardService(store, hub, 30*24*time.Hour),
		Profiles:        services.NewProfileService(store, hub),
		Hub:             hub,
		ExposeMagicLink: true,
		AllowedOrigins:  []string{"*"},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// login signs email in through the magic link flow.
func login(t *testing.T, baseURL, email string) (*client.Client, *client.Session) {
	t.Helper()
	ctx := context.Background()
	api := client.New(baseURL)

	resp, err := api.Login(ctx, email)
	require.NoError(t, err)
	link, err := url.Parse(resp.MagicLink)
	require.NoError(t, err)

	session, err := api.Exchange(ctx, link.Query().Get("token"))
	require.NoError(t, err)
	return api, session
}

type renderLog struct {
	mu     sync.Mutex
	passes [][]database.Column
}

func (r *renderLog) Render(columns []database.Column, _ map[database.Column][]database.Card) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, columns)
}

func newController(t *testing.T, api *client.Client, userID string, opts ...Option) *Controller {
	t.Helper()
	state := board.NewState(&renderLog{}, board.DefaultDebounce)
	t.Cleanup(state.Close)
	return NewController(api, state, userID, opts...)
}

func TestLoad_HonorsShowAll(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	alice, aliceSession := login(t, srv.URL, "alice@example.com")
	bob, _ := login(t, srv.URL, "bob@example.com")
	_, err := alice.CreateCard(ctx, services.CardInput{Title: "Alice task"})
	require.NoError(t, err)
	_, err = bob.CreateCard(ctx, services.CardInput{Title: "Bob task"})
	require.NoError(t, err)

	c := newController(t, alice, aliceSession.UserID)

	require.NoError(t, c.Load(ctx, false))
	assert.Equal(t, 1, c.State().Len())
	assert.Len(t, c.State().Visible(database.ColumnTodo), 1)

	require.NoError(t, c.Load(ctx, true))
	assert.Equal(t, 2, c.State().Len())
	assert.Len(t, c.State().Visible(database.ColumnTodo), 2)
	assert.True(t, c.State().View().ShowAll)
}

func TestCreateCard_ConfirmsPlaceholder(t *testing.T) {
	srv := newTestServer(t)
	api, session := login(t, srv.URL, "alice@example.com")
	c := newController(t, api, session.UserID)

	card, err := c.CreateCard(context.Background(), services.CardInput{Title: "Write tests", Priority: database.PriorityHigh})
	require.NoError(t, err)

	assert.Equal(t, 1, c.State().Len())
	stored, ok := c.State().Card(card.ID)
	require.True(t, ok)
	assert.Equal(t, session.UserID, stored.UserID)
	assert.Equal(t, database.PriorityHigh, stored.Priority)
}

func TestCreateCard_RollsBackOnFailure(t *testing.T) {
	srv := newTestServer(t)
	api, session := login(t, srv.URL, "alice@example.com")
	c := newController(t, api, session.UserID)

	_, err := c.CreateCard(context.Background(), services.CardInput{Title: "   "})
	require.Error(t, err)
	assert.True(t, client.IsStatus(err, http.StatusBadRequest))
	assert.Equal(t, 0, c.State().Len())
}

func TestUpdateCard_RestoresOnFailure(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	api, session := login(t, srv.URL, "alice@example.com")
	c := newController(t, api, session.UserID)

	card, err := c.CreateCard(ctx, services.CardInput{Title: "Original"})
	require.NoError(t, err)

	tooLong := strings.Repeat("x", services.MaxTitleLength+1)
	_, err = c.UpdateCard(ctx, card.ID, services.CardPatch{Title: &tooLong})
	require.Error(t, err)

	stored, ok := c.State().Card(card.ID)
	require.True(t, ok)
	assert.Equal(t, "Original", stored.Title)

	title := "Renamed"
	_, err = c.UpdateCard(ctx, card.ID, services.CardPatch{Title: &title})
	require.NoError(t, err)
	stored, _ = c.State().Card(card.ID)
	assert.Equal(t, "Renamed", stored.Title)
}

func TestMoveCard_SetsCompletion(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	api, session := login(t, srv.URL, "alice@example.com")
	c := newController(t, api, session.UserID)

	card, err := c.CreateCard(ctx, services.CardInput{Title: "Ship it"})
	require.NoError(t, err)

	moved, err := c.MoveCard(ctx, card.ID, database.ColumnDone, 0)
	require.NoError(t, err)
	assert.NotNil(t, moved.CompletedAt)

	stored, _ := c.State().Card(card.ID)
	assert.Equal(t, database.ColumnDone, stored.ColumnID)
	assert.NotNil(t, stored.CompletedAt)
}

func TestTrashCard_RestoresWhenForbidden(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	alice, aliceSession := login(t, srv.URL, "alice@example.com")
	bob, _ := login(t, srv.URL, "bob@example.com")

	bobCard, err := bob.CreateCard(ctx, services.CardInput{Title: "Bob task"})
	require.NoError(t, err)

	c := newController(t, alice, aliceSession.UserID)
	require.NoError(t, c.Load(ctx, true))

	_, err = c.TrashCard(ctx, bobCard.ID)
	require.Error(t, err)
	assert.True(t, client.IsStatus(err, http.StatusForbidden))
	_, ok := c.State().Card(bobCard.ID)
	assert.True(t, ok, "card should be back after the failed trash")
}

func TestTrashAndRestore(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	api, session := login(t, srv.URL, "alice@example.com")
	c := newController(t, api, session.UserID)

	card, err := c.CreateCard(ctx, services.CardInput{Title: "Temporary"})
	require.NoError(t, err)

	entry, err := c.TrashCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, c.State().Len())
	assert.Equal(t, 30, entry.DaysLeft)

	restored, err := c.RestoreTrash(ctx, entry.ID)
	require.NoError(t, err)
	_, ok := c.State().Card(restored.ID)
	assert.True(t, ok)
}

func TestRun_AppliesRemoteChanges(t *testing.T) {
	srv := newTestServer(t)
	api, session := login(t, srv.URL, "alice@example.com")
	other, _ := login(t, srv.URL, "alice@example.com")
	c := newController(t, api, session.UserID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return c.Status() == realtime.StatusSubscribed
	}, 2*time.Second, 10*time.Millisecond)

	card, err := other.CreateCard(context.Background(), services.CardInput{Title: "From another tab"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := c.State().Card(card.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, err = other.TrashCard(context.Background(), card.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := c.State().Card(card.ID)
		return !ok
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Empty(t, c.Warning())
}

func TestRun_GivingUpSetsWarning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	api := client.New(srv.URL, client.WithToken("token"))
	c := newController(t, api, "user-1", WithRealtime(realtime.Config{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
	}))

	err := c.Run(context.Background())
	require.ErrorIs(t, err, realtime.ErrGaveUp)
	assert.NotEmpty(t, c.Warning())
}

func TestMigrateLocal(t *testing.T) {
	srv := newTestServer(t)
	api, session := login(t, srv.URL, "alice@example.com")

	fs := afero.NewMemMapFs()
	dump := `{"kanbanCards": "[{\"id\":\"1\",\"title\":\"Old one\",\"columnId\":\"inProgress\",\"createdAt\":1700000000000},{\"id\":\"2\",\"title\":\"Old two\",\"columnId\":\"done\",\"priority\":\"high\",\"createdAt\":1700000000000}]"}`
	require.NoError(t, afero.WriteFile(fs, "board.json", []byte(dump), 0o644))

	c := newController(t, api, session.UserID, WithFs(fs))
	n, err := c.MigrateLocal(context.Background(), "board.json")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, c.State().Len())
	assert.Len(t, c.State().Visible(database.ColumnInProgress), 1)

	exists, err := afero.Exists(fs, "board.json")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.Exists(fs, "board.json.migrated")
	require.NoError(t, err)
	assert.True(t, exists)

	// Second run finds nothing to import.
	n, err = c.MigrateLocal(context.Background(), "board.json")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestParseLegacyDump(t *testing.T) {
	cards, err := parseLegacyDump([]byte(`{"kanbanCards":[{"id":"a","title":"Plain array","columnId":"todo"}]}`))
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "Plain array", cards[0].Title)

	cards, err = parseLegacyDump([]byte(`{"other":1}`))
	require.NoError(t, err)
	assert.Empty(t, cards)

	_, err = parseLegacyDump([]byte(`{"kanbanCards": 5}`))
	assert.Error(t, err)
}

type fakeNotifier struct {
	mu     sync.Mutex
	grant  bool
	block  bool
	titles []string
	bodies []string
}

func (n *fakeNotifier) RequestPermission(ctx context.Context) (bool, error) {
	if n.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return n.grant, nil
}

func (n *fakeNotifier) Notify(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	n.bodies = append(n.bodies, body)
	return nil
}

func TestEnableNotifications_Timeout(t *testing.T) {
	c := newController(t, client.New("http://localhost"), "user-1", WithNotifier(&fakeNotifier{block: true}))
	c.permissionTimeout = 20 * time.Millisecond

	granted, err := c.EnableNotifications(context.Background())
	assert.ErrorIs(t, err, ErrPermissionTimeout)
	assert.False(t, granted)
}

func TestCheckDeadlines(t *testing.T) {
	notifier := &fakeNotifier{grant: true}
	c := newController(t, client.New("http://localhost"), "user-1", WithNotifier(notifier))

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	yesterday := now.AddDate(0, 0, -1)
	tomorrow := now.AddDate(0, 0, 1)
	nextMonth := now.AddDate(0, 1, 0)

	state := c.State()
	state.ApplyLocal(database.Card{ID: "a", ColumnID: database.ColumnTodo, UserID: "user-1", StartDate: &yesterday, EndDate: &yesterday})
	state.ApplyLocal(database.Card{ID: "b", ColumnID: database.ColumnTodo, UserID: "user-1", StartDate: &yesterday, EndDate: &tomorrow})
	state.ApplyLocal(database.Card{ID: "c", ColumnID: database.ColumnTodo, UserID: "user-1", StartDate: &yesterday, EndDate: &nextMonth})
	state.ApplyLocal(database.Card{ID: "d", ColumnID: database.ColumnTodo, UserID: "someone-else", StartDate: &yesterday, EndDate: &yesterday})

	// Nothing is sent before permission is granted.
	summary, err := c.CheckDeadlines()
	require.NoError(t, err)
	assert.Equal(t, DeadlineSummary{Overdue: 1, Approaching: 1}, summary)
	assert.Empty(t, notifier.titles)

	granted, err := c.EnableNotifications(context.Background())
	require.NoError(t, err)
	require.True(t, granted)

	_, err = c.CheckDeadlines()
	require.NoError(t, err)
	require.Len(t, notifier.titles, 1)
	assert.Equal(t, "Tasks need attention", notifier.titles[0])
	assert.Equal(t, "Overdue: 1, due soon: 1", notifier.bodies[0])
}

func TestDeadlineMessage(t *testing.T) {
	title, body := deadlineMessage(DeadlineSummary{Overdue: 1})
	assert.Equal(t, "Overdue tasks", title)
	assert.Equal(t, "You have 1 overdue task", body)

	title, body = deadlineMessage(DeadlineSummary{Approaching: 3})
	assert.Equal(t, "Deadlines approaching", title)
	assert.Equal(t, "You have 3 tasks due soon", body)
}
