package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Column is one of the three fixed board stages.
type Column string

const (
	ColumnTodo       Column = "todo"
	ColumnInProgress Column = "in-progress"
	ColumnDone       Column = "done"
)

// Columns lists the board stages in display order.
var Columns = []Column{ColumnTodo, ColumnInProgress, ColumnDone}

// ParseColumn normalizes a column id, accepting the legacy camelCase form.
func ParseColumn(s string) (Column, bool) {
	switch s {
	case "todo":
		return ColumnTodo, true
	case "in-progress", "inProgress":
		return ColumnInProgress, true
	case "done":
		return ColumnDone, true
	}
	return "", false
}

// Index returns the column's position in the board, or -1.
func (c Column) Index() int {
	for i, col := range Columns {
		if col == c {
			return i
		}
	}
	return -1
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// Rank orders priorities from most to least urgent; unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type UserProfile struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Nickname  string    `db:"nickname" json:"nickname"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Card is a task on the board.
type Card struct {
	ID          string     `db:"id" json:"id"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	ColumnID    Column     `db:"column_id" json:"column_id"`
	Priority    Priority   `db:"priority" json:"priority"`
	UserID      string     `db:"user_id" json:"user_id"`
	StartDate   *time.Time `db:"start_date" json:"start_date"`
	EndDate     *time.Time `db:"end_date" json:"end_date"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at"`
	Position    int        `db:"position" json:"position"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

type ChecklistItem struct {
	ID          string    `db:"id" json:"id"`
	CardID      string    `db:"card_id" json:"card_id"`
	Text        string    `db:"text" json:"text"`
	IsCompleted bool      `db:"is_completed" json:"is_completed"`
	Position    int       `db:"position" json:"position"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type ChecklistStats struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// ChecklistSnapshot is a card's checklist frozen into a trash entry.
type ChecklistSnapshot []ChecklistItem

func (s ChecklistSnapshot) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]ChecklistItem(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *ChecklistSnapshot) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported checklist snapshot type %T", src)
	}
	return json.Unmarshal(raw, (*[]ChecklistItem)(s))
}

// TrashEntry is a soft-deleted card awaiting restore or purge.
type TrashEntry struct {
	ID            string            `db:"id" json:"id"`
	CardID        string            `db:"card_id" json:"card_id"`
	Title         string            `db:"title" json:"title"`
	Description   string            `db:"description" json:"description"`
	ColumnID      Column            `db:"column_id" json:"column_id"`
	Priority      Priority          `db:"priority" json:"priority"`
	UserID        string            `db:"user_id" json:"user_id"`
	StartDate     *time.Time        `db:"start_date" json:"start_date"`
	EndDate       *time.Time        `db:"end_date" json:"end_date"`
	CompletedAt   *time.Time        `db:"completed_at" json:"completed_at"`
	CardCreatedAt time.Time         `db:"card_created_at" json:"card_created_at"`
	Checklist     ChecklistSnapshot `db:"checklist" json:"checklist"`
	DeletedBy     string            `db:"deleted_by" json:"deleted_by"`
	DeletedAt     time.Time         `db:"deleted_at" json:"deleted_at"`
	AutoDeleteAt  time.Time         `db:"auto_delete_at" json:"auto_delete_at"`
}

// DaysUntilPurge returns the whole days left before auto-purge, never negative.
func (t TrashEntry) DaysUntilPurge(now time.Time) int {
	left := t.AutoDeleteAt.Sub(now)
	if left <= 0 {
		return 0
	}
	days := int(left / (24 * time.Hour))
	if left%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// LegacyCard is the record format of the old local-storage board.
type LegacyCard struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ColumnID    string `json:"columnId"`
	Priority    string `json:"priority,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

type CardFilter struct {
	OwnerID string // empty means every owner
}

type PositionUpdate struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}
