package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const checklistColumns = `id, card_id, text, is_completed, position, created_at`

// ListChecklistItems returns a card's checklist ordered by position.
func (s *Store) ListChecklistItems(ctx context.Context, cardID string) ([]ChecklistItem, error) {
	return listChecklistItems(ctx, s.db, cardID)
}

func listChecklistItems(ctx context.Context, q sqlx.ExtContext, cardID string) ([]ChecklistItem, error) {
	items := []ChecklistItem{}
	err := sqlx.SelectContext(ctx, q, &items,
		q.Rebind(`SELECT `+checklistColumns+` FROM checklist_items WHERE card_id = ? ORDER BY position ASC`), cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checklist items: %w", err)
	}
	return items, nil
}

// GetChecklistItem returns a single checklist item.
func (s *Store) GetChecklistItem(ctx context.Context, id string) (*ChecklistItem, error) {
	var item ChecklistItem
	err := s.db.GetContext(ctx, &item, s.db.Rebind(`SELECT `+checklistColumns+` FROM checklist_items WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checklist item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query checklist item %s: %w", id, err)
	}
	return &item, nil
}

// AddChecklistItem appends an item after the card's last one.
func (s *Store) AddChecklistItem(ctx context.Context, item *ChecklistItem) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var max int
		if err := tx.GetContext(ctx, &max,
			tx.Rebind(`SELECT COALESCE(MAX(position), -1) FROM checklist_items WHERE card_id = ?`), item.CardID); err != nil {
			return fmt.Errorf("failed to read max checklist position: %w", err)
		}
		item.Position = max + 1
		return insertChecklistItem(ctx, tx, item)
	})
}

// AddChecklistItems inserts several items keeping their given positions.
func (s *Store) AddChecklistItems(ctx context.Context, cardID string, items []ChecklistItem) ([]ChecklistItem, error) {
	if len(items) == 0 {
		return []ChecklistItem{}, nil
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for i := range items {
			items[i].CardID = cardID
			if err := insertChecklistItem(ctx, tx, &items[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func insertChecklistItem(ctx context.Context, e sqlx.ExtContext, item *ChecklistItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := e.ExecContext(ctx, e.Rebind(`
		INSERT INTO checklist_items (`+checklistColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`),
		item.ID, item.CardID, item.Text, item.IsCompleted, item.Position, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("checklist item %s: %w", item.ID, ErrConflict)
		}
		return fmt.Errorf("failed to insert checklist item: %w", err)
	}
	return nil
}

// UpdateChecklistItem writes the text and completion flag of an item.
func (s *Store) UpdateChecklistItem(ctx context.Context, item *ChecklistItem) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE checklist_items SET text = ?, is_completed = ? WHERE id = ?`),
		item.Text, item.IsCompleted, item.ID)
	if err != nil {
		return fmt.Errorf("failed to update checklist item %s: %w", item.ID, err)
	}
	rows, _ := res.RowsAffected()
	return notFoundIfNoRows(rows, "checklist item", item.ID)
}

// DeleteChecklistItem removes an item.
func (s *Store) DeleteChecklistItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM checklist_items WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete checklist item %s: %w", id, err)
	}
	rows, _ := res.RowsAffected()
	return notFoundIfNoRows(rows, "checklist item", id)
}

// ChecklistStats counts completed and total items of a card.
func (s *Store) ChecklistStats(ctx context.Context, cardID string) (ChecklistStats, error) {
	var stats ChecklistStats
	row := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_completed THEN 1 ELSE 0 END), 0)
		FROM checklist_items WHERE card_id = ?`), cardID)
	if err := row.Scan(&stats.Total, &stats.Completed); err != nil {
		return ChecklistStats{}, fmt.Errorf("failed to count checklist items: %w", err)
	}
	return stats, nil
}
