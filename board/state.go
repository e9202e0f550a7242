// Package board holds the client's in-memory copy of the board and
// reconciles local optimistic edits, server responses and realtime
// notifications into it.
package board

import (
	"sync"
	"time"

	"github.com/CrowderSoup/kanban-board/database"
)

// Renderer draws board columns. Render receives the affected columns and
// the visible cards of each of them. Calls are serialized and must not
// change the State.
type Renderer interface {
	Render(columns []database.Column, cards map[database.Column][]database.Card)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(columns []database.Column, cards map[database.Column][]database.Card)

func (f RendererFunc) Render(columns []database.Column, cards map[database.Column][]database.Card) {
	f(columns, cards)
}

// State owns the cards known to the client.
type State struct {
	mu    sync.Mutex
	cards map[string]database.Card
	view  View

	// renderMu orders render passes so a stale snapshot never lands last.
	renderMu sync.Mutex
	renderer Renderer
	deletes  *Debouncer
}

// NewState creates an empty board. Delete notifications are re-rendered
// through a debouncer with the given window.
func NewState(renderer Renderer, window time.Duration) *State {
	s := &State{
		cards:    make(map[string]database.Card),
		renderer: renderer,
	}
	s.deletes = NewDebouncer(window, s.render)
	return s
}

// Close stops the delete debouncer after flushing it.
func (s *State) Close() {
	s.deletes.Close()
}

// SetView changes filters and re-renders every column.
func (s *State) SetView(v View) {
	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
	s.render(database.Columns)
}

func (s *State) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Replace swaps in a freshly loaded card set and re-renders everything.
func (s *State) Replace(cards []database.Card) {
	s.mu.Lock()
	s.cards = make(map[string]database.Card, len(cards))
	for _, c := range cards {
		s.cards[c.ID] = c
	}
	s.mu.Unlock()
	s.render(database.Columns)
}

// Card returns a card by id.
func (s *State) Card(id string) (database.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	return c, ok
}

// Cards returns every known card in board order.
func (s *State) Cards() []database.Card {
	s.mu.Lock()
	out := make([]database.Card, 0, len(s.cards))
	for _, c := range s.cards {
		out = append(out, c)
	}
	s.mu.Unlock()
	SortCards(out, SortNone)
	return out
}

// Visible returns the cards of one column after applying the view.
func (s *State) Visible(col database.Column) []database.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleLocked(col)
}

// Len returns the number of known cards.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cards)
}

// ApplyLocal inserts or overwrites a card from an optimistic local edit.
func (s *State) ApplyLocal(c database.Card) {
	s.render(s.put(c))
}

// RemoveLocal drops a card optimistically and returns what was removed.
func (s *State) RemoveLocal(id string) (database.Card, bool) {
	s.mu.Lock()
	c, ok := s.cards[id]
	delete(s.cards, id)
	s.mu.Unlock()
	if ok {
		s.render([]database.Column{c.ColumnID})
	}
	return c, ok
}

// Restore puts back a card captured before a failed optimistic edit.
func (s *State) Restore(c database.Card) {
	s.render(s.put(c))
}

// Confirm replaces the optimistic placeholder localID with the card the
// server stored. When the ids match the record is overwritten; otherwise
// the placeholder is dropped and the server card takes its place.
func (s *State) Confirm(localID string, c database.Card) {
	s.mu.Lock()
	cols := make([]database.Column, 0, 3)
	if localID != c.ID {
		if placeholder, ok := s.cards[localID]; ok {
			delete(s.cards, localID)
			cols = append(cols, placeholder.ColumnID)
		}
	}
	cols = append(cols, s.putLocked(c)...)
	s.mu.Unlock()
	s.render(cols)
}

// ApplyInsert handles a realtime insert. A card already present, such as
// the echo of our own create, is overwritten rather than duplicated.
func (s *State) ApplyInsert(c database.Card) {
	s.render(s.put(c))
}

// ApplyUpdate handles a realtime update; the last write wins.
func (s *State) ApplyUpdate(c database.Card) {
	s.render(s.put(c))
}

// ApplyDelete handles a realtime delete. The re-render is debounced so a
// burst of deletes is drawn in one pass.
func (s *State) ApplyDelete(id string) {
	s.mu.Lock()
	c, ok := s.cards[id]
	delete(s.cards, id)
	s.mu.Unlock()
	if ok {
		s.deletes.Add(c.ColumnID)
	}
}

func (s *State) put(c database.Card) []database.Column {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(c)
}

// putLocked stores c and returns the columns whose contents changed.
func (s *State) putLocked(c database.Card) []database.Column {
	cols := []database.Column{c.ColumnID}
	if prev, ok := s.cards[c.ID]; ok && prev.ColumnID != c.ColumnID {
		cols = append(cols, prev.ColumnID)
	}
	s.cards[c.ID] = c
	return cols
}

func (s *State) visibleLocked(col database.Column) []database.Card {
	cards := make([]database.Card, 0)
	for _, c := range s.cards {
		if c.ColumnID == col {
			cards = append(cards, c)
		}
	}
	return s.view.Apply(cards)
}

// render snapshots the affected columns under the state lock and draws
// them under renderMu only.
func (s *State) render(cols []database.Column) {
	if s.renderer == nil || len(cols) == 0 {
		return
	}
	cols = normalizeColumns(cols)

	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	s.mu.Lock()
	snapshot := make(map[database.Column][]database.Card, len(cols))
	for _, col := range cols {
		snapshot[col] = s.visibleLocked(col)
	}
	s.mu.Unlock()

	s.renderer.Render(cols, snapshot)
}

// normalizeColumns dedups columns and orders them as on the board.
func normalizeColumns(cols []database.Column) []database.Column {
	seen := make(map[database.Column]bool, len(cols))
	out := make([]database.Column, 0, len(cols))
	for _, board := range database.Columns {
		for _, col := range cols {
			if col == board && !seen[col] {
				seen[col] = true
				out = append(out, col)
			}
		}
	}
	return out
}
