package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both SQLite drivers must behave the same for conflicts and time ranges.
func TestSQLiteDrivers(t *testing.T) {
	for _, driver := range []string{"sqlite3", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			s, err := Open(driver, ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			ctx := context.Background()

			c := newTestCard("u1", ColumnTodo, "first")
			c.ID = "same-id"
			require.NoError(t, s.CreateCard(ctx, c))
			dup := newTestCard("u1", ColumnTodo, "second")
			dup.ID = "same-id"
			assert.True(t, errors.Is(s.CreateCard(ctx, dup), ErrConflict))

			got, err := s.GetCard(ctx, "same-id")
			require.NoError(t, err)
			require.NotNil(t, got.StartDate)
			assert.WithinDuration(t, *c.StartDate, *got.StartDate, time.Millisecond)

			now := time.Now().UTC()
			_, err = s.MoveCardToTrash(ctx, "same-id", "u1", now.Add(-2*time.Hour), time.Hour)
			require.NoError(t, err)
			purged, err := s.PurgeExpiredTrash(ctx, now)
			require.NoError(t, err)
			assert.Len(t, purged, 1)
		})
	}
}

func TestWithTimeFormat(t *testing.T) {
	assert.Equal(t, "kanban.db?_time_format=sqlite", withTimeFormat("kanban.db"))
	assert.Equal(t, "file:kanban.db?mode=rwc&_time_format=sqlite", withTimeFormat("file:kanban.db?mode=rwc"))
	assert.Equal(t, "kanban.db?_time_format=sqlite", withTimeFormat("kanban.db?_time_format=sqlite"))
}
