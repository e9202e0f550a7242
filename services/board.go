package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CrowderSoup/kanban-board/database"
	"github.com/CrowderSoup/kanban-board/events"
)

// BoardService applies the board rules on top of the store and announces
// every successful mutation on the change feed.
type BoardService struct {
	store     *database.Store
	publisher Publisher
	retention time.Duration
	now       func() time.Time
}

func NewBoardService(store *database.Store, publisher Publisher, retention time.Duration) *BoardService {
	return &BoardService{
		store:     store,
		publisher: publisher,
		retention: retention,
		now:       time.Now,
	}
}

// BulkError names a card that could not be processed in a bulk request.
type BulkError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkResult summarizes a bulk operation.
type BulkResult struct {
	Success int         `json:"success"`
	Failed  int         `json:"failed"`
	Errors  []BulkError `json:"errors"`
}

// ListCards returns the caller's cards, or every card when showAll is set.
func (s *BoardService) ListCards(ctx context.Context, userID string, showAll bool) ([]database.Card, error) {
	filter := database.CardFilter{}
	if !showAll {
		filter.OwnerID = userID
	}
	return s.store.ListCards(ctx, filter)
}

func (s *BoardService) GetCard(ctx context.Context, id string) (*database.Card, error) {
	return s.store.GetCard(ctx, id)
}

// CreateCard validates and stores a new card owned by userID at the end of
// its column.
func (s *BoardService) CreateCard(ctx context.Context, userID string, in CardInput) (*database.Card, error) {
	now := s.now().UTC()
	card := &database.Card{
		ID:          in.ID,
		Title:       in.Title,
		Description: in.Description,
		ColumnID:    in.ColumnID,
		Priority:    in.Priority,
		UserID:      userID,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
	}
	if card.ColumnID == "" {
		card.ColumnID = database.ColumnTodo
	}
	if card.Priority == "" {
		card.Priority = database.PriorityMedium
	}
	if card.StartDate == nil {
		card.StartDate = &now
	}
	if err := validateCard(card); err != nil {
		return nil, err
	}
	applyCompletion(card, "", now)

	if err := s.store.CreateCard(ctx, card); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TableCards, events.EventInsert, userID, card, nil)
	return card, nil
}

// UpdateCard applies a partial update to a card owned by userID.
func (s *BoardService) UpdateCard(ctx context.Context, userID, id string, patch CardPatch) (*database.Card, error) {
	card, err := s.ownedCard(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	old := *card

	if patch.Title != nil {
		card.Title = *patch.Title
	}
	if patch.Description != nil {
		card.Description = *patch.Description
	}
	if patch.ColumnID != nil {
		card.ColumnID = *patch.ColumnID
	}
	if patch.Priority != nil {
		card.Priority = *patch.Priority
	}
	if patch.StartDate != nil {
		card.StartDate = patch.StartDate
	}
	if patch.ClearEndDate {
		card.EndDate = nil
	} else if patch.EndDate != nil {
		card.EndDate = patch.EndDate
	}
	if patch.Position != nil {
		card.Position = *patch.Position
	}

	if err := validateCard(card); err != nil {
		return nil, err
	}
	applyCompletion(card, old.ColumnID, s.now())

	if err := s.store.UpdateCard(ctx, card); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TableCards, events.EventUpdate, userID, card, &old)
	return card, nil
}

// MoveCard places a card in a column at the given position.
func (s *BoardService) MoveCard(ctx context.Context, userID, id string, column database.Column, position int) (*database.Card, error) {
	return s.UpdateCard(ctx, userID, id, CardPatch{ColumnID: &column, Position: &position})
}

// ReorderColumn rewrites the positions of the caller's cards in column.
// Cards of other owners are left untouched.
func (s *BoardService) ReorderColumn(ctx context.Context, userID string, column database.Column, updates []database.PositionUpdate) (int, error) {
	parsed, ok := database.ParseColumn(string(column))
	if !ok {
		return 0, invalid("column", "unknown column %q", column)
	}
	changed, err := s.store.UpdatePositions(ctx, userID, parsed, updates)
	if err != nil {
		return 0, err
	}
	for _, u := range updates {
		card, err := s.store.GetCard(ctx, u.ID)
		if err != nil || card.UserID != userID {
			continue
		}
		s.publish(ctx, events.TableCards, events.EventUpdate, userID, card, nil)
	}
	return changed, nil
}

// TrashCard moves a card owned by userID into the trash.
func (s *BoardService) TrashCard(ctx context.Context, userID, id string) (*database.TrashEntry, error) {
	card, err := s.ownedCard(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	entry, err := s.store.MoveCardToTrash(ctx, id, userID, s.now().UTC(), s.retention)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TableCards, events.EventDelete, userID, nil, card)
	s.publish(ctx, events.TableTrash, events.EventInsert, userID, entry, nil)
	return entry, nil
}

// BulkTrash trashes every listed card it can and reports the rest.
func (s *BoardService) BulkTrash(ctx context.Context, userID string, ids []string) BulkResult {
	result := BulkResult{Errors: []BulkError{}}
	for _, id := range ids {
		if _, err := s.TrashCard(ctx, userID, id); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkError{ID: id, Error: err.Error()})
			continue
		}
		result.Success++
	}
	return result
}

// ListTrash returns the entries the caller owns or deleted, newest first.
func (s *BoardService) ListTrash(ctx context.Context, userID string) ([]database.TrashEntry, error) {
	all, err := s.store.ListTrash(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]database.TrashEntry, 0, len(all))
	for _, e := range all {
		if e.UserID == userID || e.DeletedBy == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// RestoreFromTrash puts a trashed card back at the top of its column.
func (s *BoardService) RestoreFromTrash(ctx context.Context, userID, trashID string) (*database.Card, error) {
	entry, err := s.trashEntry(ctx, userID, trashID)
	if err != nil {
		return nil, err
	}
	card, err := s.store.RestoreFromTrash(ctx, trashID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TableTrash, events.EventDelete, userID, nil, entry)
	s.publish(ctx, events.TableCards, events.EventInsert, userID, card, nil)
	return card, nil
}

// DeleteFromTrash permanently removes a trash entry.
func (s *BoardService) DeleteFromTrash(ctx context.Context, userID, trashID string) error {
	entry, err := s.trashEntry(ctx, userID, trashID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTrash(ctx, trashID); err != nil {
		return err
	}
	s.publish(ctx, events.TableTrash, events.EventDelete, userID, nil, entry)
	return nil
}

// ImportLegacy converts records of the old local-storage board into cards
// owned by userID and stores them in one transaction.
func (s *BoardService) ImportLegacy(ctx context.Context, userID string, legacy []database.LegacyCard) ([]database.Card, error) {
	cards := make([]database.Card, 0, len(legacy))
	for i, l := range legacy {
		column, ok := database.ParseColumn(l.ColumnID)
		if !ok {
			column = database.ColumnTodo
		}
		priority := database.Priority(l.Priority)
		if !priority.Valid() {
			priority = database.PriorityMedium
		}
		card := database.Card{
			Title:       l.Title,
			Description: l.Description,
			ColumnID:    column,
			Priority:    priority,
			UserID:      userID,
			Position:    i,
		}
		if l.CreatedAt > 0 {
			created := time.UnixMilli(l.CreatedAt).UTC()
			card.StartDate = &created
			card.CreatedAt = created
		}
		if err := validateCard(&card); err != nil {
			return nil, fmt.Errorf("card %d: %w", i, err)
		}
		applyCompletion(&card, "", s.now())
		cards = append(cards, card)
	}

	if err := s.store.ImportCards(ctx, cards); err != nil {
		return nil, err
	}
	for i := range cards {
		s.publish(ctx, events.TableCards, events.EventInsert, userID, cards[i], nil)
	}
	return cards, nil
}

// OwnerIDs lists every user that owns at least one card.
func (s *BoardService) OwnerIDs(ctx context.Context) ([]string, error) {
	return s.store.OwnerIDs(ctx)
}

func (s *BoardService) ListChecklist(ctx context.Context, cardID string) ([]database.ChecklistItem, error) {
	if _, err := s.store.GetCard(ctx, cardID); err != nil {
		return nil, err
	}
	return s.store.ListChecklistItems(ctx, cardID)
}

func (s *BoardService) ChecklistStats(ctx context.Context, cardID string) (database.ChecklistStats, error) {
	if _, err := s.store.GetCard(ctx, cardID); err != nil {
		return database.ChecklistStats{}, err
	}
	return s.store.ChecklistStats(ctx, cardID)
}

// AddChecklistItem appends an item to a card owned by userID.
func (s *BoardService) AddChecklistItem(ctx context.Context, userID, cardID, text string) (*database.ChecklistItem, error) {
	if _, err := s.ownedCard(ctx, userID, cardID); err != nil {
		return nil, err
	}
	text, err := validateChecklistText(text)
	if err != nil {
		return nil, err
	}
	item := &database.ChecklistItem{CardID: cardID, Text: text}
	if err := s.store.AddChecklistItem(ctx, item); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TableChecklist, events.EventInsert, userID, item, nil)
	return item, nil
}

// AddChecklistItems appends several items after the card's last one.
func (s *BoardService) AddChecklistItems(ctx context.Context, userID, cardID string, texts []string) ([]database.ChecklistItem, error) {
	if _, err := s.ownedCard(ctx, userID, cardID); err != nil {
		return nil, err
	}
	existing, err := s.store.ListChecklistItems(ctx, cardID)
	if err != nil {
		return nil, err
	}
	next := 0
	for _, it := range existing {
		if it.Position >= next {
			next = it.Position + 1
		}
	}

	items := make([]database.ChecklistItem, 0, len(texts))
	for i, t := range texts {
		text, err := validateChecklistText(t)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, database.ChecklistItem{Text: text, Position: next + i})
	}

	items, err = s.store.AddChecklistItems(ctx, cardID, items)
	if err != nil {
		return nil, err
	}
	for i := range items {
		s.publish(ctx, events.TableChecklist, events.EventInsert, userID, items[i], nil)
	}
	return items, nil
}

// UpdateChecklistItem edits the text or completion of an item.
func (s *BoardService) UpdateChecklistItem(ctx context.Context, userID, itemID string, patch ChecklistPatch) (*database.ChecklistItem, error) {
	item, err := s.ownedChecklistItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	old := *item
	if patch.Text != nil {
		text, err := validateChecklistText(*patch.Text)
		if err != nil {
			return nil, err
		}
		item.Text = text
	}
	if patch.IsCompleted != nil {
		item.IsCompleted = *patch.IsCompleted
	}
	if err := s.store.UpdateChecklistItem(ctx, item); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TableChecklist, events.EventUpdate, userID, item, &old)
	return item, nil
}

func (s *BoardService) DeleteChecklistItem(ctx context.Context, userID, itemID string) error {
	item, err := s.ownedChecklistItem(ctx, userID, itemID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteChecklistItem(ctx, itemID); err != nil {
		return err
	}
	s.publish(ctx, events.TableChecklist, events.EventDelete, userID, nil, item)
	return nil
}

func (s *BoardService) ownedCard(ctx context.Context, userID, id string) (*database.Card, error) {
	card, err := s.store.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}
	if card.UserID != userID {
		return nil, fmt.Errorf("card %s: %w", id, ErrForbidden)
	}
	return card, nil
}

func (s *BoardService) ownedChecklistItem(ctx context.Context, userID, id string) (*database.ChecklistItem, error) {
	item, err := s.store.GetChecklistItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedCard(ctx, userID, item.CardID); err != nil {
		return nil, err
	}
	return item, nil
}

// trashEntry loads an entry the caller may restore or delete: its owner
// or whoever trashed it.
func (s *BoardService) trashEntry(ctx context.Context, userID, trashID string) (*database.TrashEntry, error) {
	entry, err := s.store.GetTrash(ctx, trashID)
	if err != nil {
		return nil, err
	}
	if entry.UserID != userID && entry.DeletedBy != userID {
		return nil, fmt.Errorf("trash entry %s: %w", trashID, ErrForbidden)
	}
	return entry, nil
}

func (s *BoardService) publish(ctx context.Context, table events.Table, typ events.EventType, actor string, newRecord, oldRecord any) {
	if s.publisher == nil {
		return
	}
	ev, err := events.NewChangeEvent(table, typ, actor, newRecord, oldRecord)
	if err != nil {
		slog.Error("failed to encode change event", "table", table, "type", typ, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		warnPublishFailed(table, typ, err)
	}
}

func warnPublishFailed(table events.Table, typ events.EventType, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	slog.Warn("failed to publish change event", "table", table, "type", typ, "error", err)
}
