package services

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/CrowderSoup/kanban-board/database"
)

const (
	MaxTitleLength         = 100
	MaxDescriptionLength   = 500
	MaxChecklistTextLength = 200
)

// CardInput carries the user-editable fields of a new card.
type CardInput struct {
	ID          string            `json:"id,omitempty"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	ColumnID    database.Column   `json:"column_id"`
	Priority    database.Priority `json:"priority"`
	StartDate   *time.Time        `json:"start_date,omitempty"`
	EndDate     *time.Time        `json:"end_date,omitempty"`
}

// CardPatch carries a partial card update. Nil fields are left untouched;
// ClearEndDate removes the deadline.
type CardPatch struct {
	Title        *string            `json:"title,omitempty"`
	Description  *string            `json:"description,omitempty"`
	ColumnID     *database.Column   `json:"column_id,omitempty"`
	Priority     *database.Priority `json:"priority,omitempty"`
	StartDate    *time.Time         `json:"start_date,omitempty"`
	EndDate      *time.Time         `json:"end_date,omitempty"`
	ClearEndDate bool               `json:"clear_end_date,omitempty"`
	Position     *int               `json:"position,omitempty"`
}

// ChecklistPatch carries a partial checklist item update.
type ChecklistPatch struct {
	Text        *string `json:"text,omitempty"`
	IsCompleted *bool   `json:"is_completed,omitempty"`
}

func validateCard(c *database.Card) error {
	c.Title = strings.TrimSpace(c.Title)
	c.Description = strings.TrimSpace(c.Description)

	if c.Title == "" {
		return invalid("title", "must not be empty")
	}
	if utf8.RuneCountInString(c.Title) > MaxTitleLength {
		return invalid("title", "must be at most %d characters", MaxTitleLength)
	}
	if utf8.RuneCountInString(c.Description) > MaxDescriptionLength {
		return invalid("description", "must be at most %d characters", MaxDescriptionLength)
	}
	column, ok := database.ParseColumn(string(c.ColumnID))
	if !ok {
		return invalid("column_id", "unknown column %q", c.ColumnID)
	}
	c.ColumnID = column
	if !c.Priority.Valid() {
		return invalid("priority", "unknown priority %q", c.Priority)
	}
	if c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate) {
		return invalid("end_date", "must not be before start_date")
	}
	return nil
}

func validateChecklistText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", invalid("text", "must not be empty")
	}
	if utf8.RuneCountInString(text) > MaxChecklistTextLength {
		return "", invalid("text", "must be at most %d characters", MaxChecklistTextLength)
	}
	return text, nil
}

// applyCompletion stamps completed_at when a card enters done and clears
// it when the card leaves.
func applyCompletion(c *database.Card, previous database.Column, now time.Time) {
	switch {
	case c.ColumnID != database.ColumnDone:
		c.CompletedAt = nil
	case previous != database.ColumnDone || c.CompletedAt == nil:
		t := now.UTC()
		c.CompletedAt = &t
	}
}
