package board

import (
	"sort"
	"strings"

	"github.com/CrowderSoup/kanban-board/database"
)

// SortMode orders cards within a column.
type SortMode string

const (
	SortNone         SortMode = ""
	SortDeadlineAsc  SortMode = "deadline-asc"
	SortDeadlineDesc SortMode = "deadline-desc"
	SortPriority     SortMode = "priority"
)

// ParseSort accepts the known sort modes; anything else means no sorting.
func ParseSort(s string) SortMode {
	switch m := SortMode(s); m {
	case SortDeadlineAsc, SortDeadlineDesc, SortPriority:
		return m
	}
	return SortNone
}

// View selects and orders the cards shown on the board.
type View struct {
	CurrentUser string
	ShowAll     bool
	Priority    database.Priority
	Sort        SortMode
	Query       string
}

// Apply filters cards by owner, priority and search query, then sorts
// them. The input slice is not modified.
func (v View) Apply(cards []database.Card) []database.Card {
	out := make([]database.Card, 0, len(cards))
	for _, c := range cards {
		if !v.ShowAll && v.CurrentUser != "" && c.UserID != v.CurrentUser {
			continue
		}
		if v.Priority != "" && c.Priority != v.Priority {
			continue
		}
		if !MatchesQuery(c, v.Query) {
			continue
		}
		out = append(out, c)
	}
	SortCards(out, v.Sort)
	return out
}

// MatchesQuery reports whether the card's title or description contains
// query, ignoring case. An empty query matches everything.
func MatchesQuery(c database.Card, query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.Title), query) ||
		strings.Contains(strings.ToLower(c.Description), query)
}

// SortCards orders cards in place. SortNone keeps board position order.
// Cards without a deadline always come last in deadline modes.
func SortCards(cards []database.Card, mode SortMode) {
	switch mode {
	case SortDeadlineAsc, SortDeadlineDesc:
		sort.SliceStable(cards, func(i, j int) bool {
			a, b := cards[i].EndDate, cards[j].EndDate
			switch {
			case a == nil:
				return false
			case b == nil:
				return true
			case mode == SortDeadlineAsc:
				return a.Before(*b)
			default:
				return b.Before(*a)
			}
		})
	case SortPriority:
		sort.SliceStable(cards, func(i, j int) bool {
			return cards[i].Priority.Rank() < cards[j].Priority.Rank()
		})
	default:
		sort.SliceStable(cards, func(i, j int) bool {
			if cards[i].Position != cards[j].Position {
				return cards[i].Position < cards[j].Position
			}
			return cards[i].CreatedAt.Before(cards[j].CreatedAt)
		})
	}
}
