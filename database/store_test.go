package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestCard(owner string, column Column, title string) *Card {
	start := time.Now().UTC()
	return &Card{
		Title:     title,
		ColumnID:  column,
		Priority:  PriorityMedium,
		UserID:    owner,
		StartDate: &start,
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.migrate(ctx))

	var version int
	require.NoError(t, s.db.GetContext(ctx, &version, `SELECT MAX(version) FROM schema_version`))
	assert.Equal(t, len(migrations), version)
}

func TestEnsureUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1, created, err := s.EnsureUser(ctx, " Alice@Example.com ")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice@example.com", u1.Email)

	u2, created, err := s.EnsureUser(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u1.ID, u2.ID)

	got, err := s.GetUser(ctx, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, u1.Email, got.Email)

	_, err = s.GetUser(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestProfiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, _, err := s.EnsureUser(ctx, "alice@example.com")
	require.NoError(t, err)
	bob, _, err := s.EnsureUser(ctx, "bob@example.com")
	require.NoError(t, err)

	require.NoError(t, s.CreateProfile(ctx, &UserProfile{UserID: alice.ID, Nickname: "alice", Email: alice.Email}))
	require.NoError(t, s.CreateProfile(ctx, &UserProfile{UserID: bob.ID, Nickname: "bob", Email: bob.Email}))

	err = s.CreateProfile(ctx, &UserProfile{UserID: bob.ID, Nickname: "other", Email: bob.Email})
	assert.True(t, errors.Is(err, ErrConflict), "second profile for the same user")

	taken, err := s.NicknameTaken(ctx, "alice", bob.ID)
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = s.NicknameTaken(ctx, "alice", alice.ID)
	require.NoError(t, err)
	assert.False(t, taken, "own nickname is not taken")

	_, err = s.UpdateNickname(ctx, bob.ID, "alice")
	assert.True(t, errors.Is(err, ErrConflict))

	updated, err := s.UpdateNickname(ctx, bob.ID, "bobby")
	require.NoError(t, err)
	assert.Equal(t, "bobby", updated.Nickname)

	profiles, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
}

func TestCreateCard_AppendsToColumn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := newTestCard("u1", ColumnTodo, "first")
	second := newTestCard("u1", ColumnTodo, "second")
	other := newTestCard("u1", ColumnDone, "other")

	require.NoError(t, s.CreateCard(ctx, first))
	require.NoError(t, s.CreateCard(ctx, second))
	require.NoError(t, s.CreateCard(ctx, other))

	assert.Equal(t, 1, first.Position)
	assert.Equal(t, 2, second.Position)
	assert.Equal(t, 1, other.Position)
	assert.NotEmpty(t, first.ID)

	got, err := s.GetCard(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Title)
	assert.Equal(t, PriorityMedium, got.Priority)
	require.NotNil(t, got.StartDate)
	assert.Nil(t, got.EndDate)
}

func TestCreateCard_ClientSuppliedIDConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newTestCard("u1", ColumnTodo, "a")
	c.ID = "fixed-id"
	require.NoError(t, s.CreateCard(ctx, c))

	dup := newTestCard("u1", ColumnTodo, "b")
	dup.ID = "fixed-id"
	err := s.CreateCard(ctx, dup)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestListCards_FilterByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCard(ctx, newTestCard("u1", ColumnTodo, "mine")))
	require.NoError(t, s.CreateCard(ctx, newTestCard("u2", ColumnTodo, "theirs")))

	all, err := s.ListCards(ctx, CardFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := s.ListCards(ctx, CardFilter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "mine", mine[0].Title)

	owners, err := s.OwnerIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, owners)
}

func TestUpdateCard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newTestCard("u1", ColumnTodo, "before")
	require.NoError(t, s.CreateCard(ctx, c))

	c.Title = "after"
	c.ColumnID = ColumnDone
	done := time.Now().UTC()
	c.CompletedAt = &done
	require.NoError(t, s.UpdateCard(ctx, c))

	got, err := s.GetCard(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Title)
	assert.Equal(t, ColumnDone, got.ColumnID)
	assert.NotNil(t, got.CompletedAt)

	missing := newTestCard("u1", ColumnTodo, "ghost")
	missing.ID = "nope"
	assert.True(t, errors.Is(s.UpdateCard(ctx, missing), ErrNotFound))
}

func TestUpdatePositions_OnlyOwnerCards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newTestCard("u1", ColumnTodo, "a")
	b := newTestCard("u2", ColumnTodo, "b")
	require.NoError(t, s.CreateCard(ctx, a))
	require.NoError(t, s.CreateCard(ctx, b))

	changed, err := s.UpdatePositions(ctx, "u1", ColumnTodo, []PositionUpdate{
		{ID: a.ID, Position: 10},
		{ID: b.ID, Position: 11},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	gotA, _ := s.GetCard(ctx, a.ID)
	gotB, _ := s.GetCard(ctx, b.ID)
	assert.Equal(t, 10, gotA.Position)
	assert.Equal(t, b.Position, gotB.Position)
}

func TestImportCards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cards := []Card{
		*newTestCard("u1", ColumnTodo, "one"),
		*newTestCard("u1", ColumnInProgress, "two"),
	}
	cards[0].Position = 0
	cards[1].Position = 1

	require.NoError(t, s.ImportCards(ctx, cards))

	all, err := s.ListCards(ctx, CardFilter{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestChecklist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newTestCard("u1", ColumnTodo, "with checklist")
	require.NoError(t, s.CreateCard(ctx, c))

	first := &ChecklistItem{CardID: c.ID, Text: "one"}
	second := &ChecklistItem{CardID: c.ID, Text: "two"}
	require.NoError(t, s.AddChecklistItem(ctx, first))
	require.NoError(t, s.AddChecklistItem(ctx, second))
	assert.Equal(t, 0, first.Position)
	assert.Equal(t, 1, second.Position)

	first.IsCompleted = true
	require.NoError(t, s.UpdateChecklistItem(ctx, first))

	stats, err := s.ChecklistStats(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ChecklistStats{Completed: 1, Total: 2}, stats)

	bulk, err := s.AddChecklistItems(ctx, c.ID, []ChecklistItem{{Text: "three", Position: 5}})
	require.NoError(t, err)
	assert.Len(t, bulk, 1)

	items, err := s.ListChecklistItems(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "one", items[0].Text)
	assert.True(t, items[0].IsCompleted)
	assert.Equal(t, "three", items[2].Text)

	require.NoError(t, s.DeleteChecklistItem(ctx, second.ID))
	assert.True(t, errors.Is(s.DeleteChecklistItem(ctx, second.ID), ErrNotFound))
}

func TestTrash_MoveRestoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newTestCard("u1", ColumnInProgress, "trash me")
	c.Description = "details"
	require.NoError(t, s.CreateCard(ctx, c))
	require.NoError(t, s.AddChecklistItem(ctx, &ChecklistItem{CardID: c.ID, Text: "step", IsCompleted: true}))

	now := time.Now().UTC()
	entry, err := s.MoveCardToTrash(ctx, c.ID, "u1", now, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, c.ID, entry.CardID)
	assert.Len(t, entry.Checklist, 1)
	assert.Equal(t, 30, entry.DaysUntilPurge(now))

	_, err = s.GetCard(ctx, c.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	items, err := s.ListChecklistItems(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	listed, err := s.ListTrash(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "step", listed[0].Checklist[0].Text)

	restored, err := s.RestoreFromTrash(ctx, entry.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, c.ID, restored.ID)
	assert.Equal(t, 0, restored.Position)

	got, err := s.GetCard(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "details", got.Description)

	items, err = s.ListChecklistItems(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].IsCompleted)

	_, err = s.GetTrash(ctx, entry.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTrash_MissingCard(t *testing.T) {
	s := newTestStore(t)

	_, err := s.MoveCardToTrash(context.Background(), "missing", "u1", time.Now(), time.Hour)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPurgeExpiredTrash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := newTestCard("u1", ColumnTodo, "old")
	fresh := newTestCard("u1", ColumnTodo, "fresh")
	require.NoError(t, s.CreateCard(ctx, old))
	require.NoError(t, s.CreateCard(ctx, fresh))

	now := time.Now().UTC()
	_, err := s.MoveCardToTrash(ctx, old.ID, "u1", now.Add(-31*24*time.Hour), 30*24*time.Hour)
	require.NoError(t, err)
	_, err = s.MoveCardToTrash(ctx, fresh.ID, "u1", now, 30*24*time.Hour)
	require.NoError(t, err)

	purged, err := s.PurgeExpiredTrash(ctx, now)
	require.NoError(t, err)
	require.Len(t, purged, 1)
	assert.Equal(t, old.ID, purged[0].CardID)

	left, err := s.ListTrash(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, fresh.ID, left[0].CardID)
}
