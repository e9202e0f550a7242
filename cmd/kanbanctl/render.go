package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/CrowderSoup/kanban-board/board"
	"github.com/CrowderSoup/kanban-board/database"
)

var (
	columnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	highStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	lowStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	overdueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	deadlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	warningStyle  = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Background(lipgloss.Color("52")).
			Padding(0, 1)
)

var columnTitles = map[database.Column]string{
	database.ColumnTodo:       "To Do",
	database.ColumnInProgress: "In Progress",
	database.ColumnDone:       "Done",
}

// printer writes render passes to a terminal.
type printer struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, now: time.Now}
}

func (p *printer) Render(columns []database.Column, cards map[database.Column][]database.Card) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, col := range columns {
		fmt.Fprintln(p.out, p.column(col, cards[col]))
	}
}

func (p *printer) column(col database.Column, cards []database.Card) string {
	var b strings.Builder
	b.WriteString(columnStyle.Render(fmt.Sprintf("%s (%d)", columnTitles[col], len(cards))))
	for _, c := range cards {
		b.WriteString("\n  ")
		b.WriteString(p.card(c))
	}
	return b.String()
}

func (p *printer) card(c database.Card) string {
	line := fmt.Sprintf("%s  %s", shortID(c.ID), c.Title)
	switch c.Priority {
	case database.PriorityHigh:
		line = highStyle.Render("! ") + line
	case database.PriorityLow:
		line = lowStyle.Render("- ") + line
	default:
		line = "  " + line
	}

	now := p.now()
	if status := board.DeadlineStatus(c, now); status != "" {
		style := deadlineStyle
		if board.IsOverdue(c, now) {
			style = overdueStyle
		}
		line += " " + style.Render("["+status+"]")
	}
	return line
}

func (p *printer) warn(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, warningStyle.Render(msg))
}

// RequestPermission always grants; reminders are printed inline.
func (p *printer) RequestPermission(context.Context) (bool, error) {
	return true, nil
}

func (p *printer) Notify(title, body string) error {
	p.warn(title + ": " + body)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
