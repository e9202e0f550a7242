package board

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/CrowderSoup/kanban-board/database"
)

func ids(cards []database.Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.ID
	}
	return out
}

func at(day int) *time.Time {
	t := time.Date(2025, 6, day, 12, 0, 0, 0, time.UTC)
	return &t
}

func TestSortCards_Deadline(t *testing.T) {
	cards := []database.Card{
		{ID: "none", EndDate: nil},
		{ID: "late", EndDate: at(20)},
		{ID: "soon", EndDate: at(2)},
	}

	SortCards(cards, SortDeadlineAsc)
	assert.Equal(t, []string{"soon", "late", "none"}, ids(cards))

	SortCards(cards, SortDeadlineDesc)
	assert.Equal(t, []string{"late", "soon", "none"}, ids(cards))
}

func TestSortCards_Priority(t *testing.T) {
	cards := []database.Card{
		{ID: "l", Priority: database.PriorityLow},
		{ID: "x", Priority: "weird"},
		{ID: "h", Priority: database.PriorityHigh},
		{ID: "m", Priority: database.PriorityMedium},
	}
	SortCards(cards, SortPriority)
	assert.Equal(t, []string{"h", "m", "l", "x"}, ids(cards))
}

func TestSortCards_DefaultByPosition(t *testing.T) {
	cards := []database.Card{{ID: "b", Position: 2}, {ID: "a", Position: 1}}
	SortCards(cards, ParseSort("bogus"))
	assert.Equal(t, []string{"a", "b"}, ids(cards))
}

func TestView_Apply(t *testing.T) {
	cards := []database.Card{
		{ID: "1", UserID: "alice", Title: "Fix Login", Priority: database.PriorityHigh},
		{ID: "2", UserID: "bob", Title: "Docs", Description: "login page copy", Priority: database.PriorityLow},
		{ID: "3", UserID: "alice", Title: "Deploy", Priority: database.PriorityLow},
	}

	assert.Equal(t, []string{"1", "3"}, ids(View{CurrentUser: "alice"}.Apply(cards)))
	assert.Equal(t, []string{"1", "2"}, ids(View{ShowAll: true, Query: "LOGIN"}.Apply(cards)))
	assert.Equal(t, []string{"3"}, ids(View{CurrentUser: "alice", Priority: database.PriorityLow}.Apply(cards)))
	assert.Len(t, cards, 3)
}
