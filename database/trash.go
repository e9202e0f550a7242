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

const trashColumns = `id, card_id, title, description, column_id, priority, user_id,
	start_date, end_date, completed_at, card_created_at, checklist,
	deleted_by, deleted_at, auto_delete_at`

// MoveCardToTrash snapshots a card and its checklist into the trash and
// removes the originals, all in one transaction.
func (s *Store) MoveCardToTrash(ctx context.Context, cardID, deletedBy string, now time.Time, retention time.Duration) (*TrashEntry, error) {
	var entry *TrashEntry
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		card, err := getCard(ctx, tx, cardID)
		if err != nil {
			return err
		}
		items, err := listChecklistItems(ctx, tx, cardID)
		if err != nil {
			return err
		}

		entry = &TrashEntry{
			ID:            uuid.NewString(),
			CardID:        card.ID,
			Title:         card.Title,
			Description:   card.Description,
			ColumnID:      card.ColumnID,
			Priority:      card.Priority,
			UserID:        card.UserID,
			StartDate:     card.StartDate,
			EndDate:       card.EndDate,
			CompletedAt:   card.CompletedAt,
			CardCreatedAt: card.CreatedAt,
			Checklist:     items,
			DeletedBy:     deletedBy,
			DeletedAt:     now.UTC(),
			AutoDeleteAt:  now.UTC().Add(retention),
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO trash (`+trashColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			entry.ID, entry.CardID, entry.Title, entry.Description, entry.ColumnID, entry.Priority, entry.UserID,
			entry.StartDate, entry.EndDate, entry.CompletedAt, entry.CardCreatedAt, entry.Checklist,
			entry.DeletedBy, entry.DeletedAt, entry.AutoDeleteAt)
		if err != nil {
			return fmt.Errorf("failed to insert trash entry: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM checklist_items WHERE card_id = ?`), cardID); err != nil {
			return fmt.Errorf("failed to delete checklist of %s: %w", cardID, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM cards WHERE id = ?`), cardID); err != nil {
			return fmt.Errorf("failed to delete card %s: %w", cardID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// RestoreFromTrash puts a trashed card back at the top of its column with
// its original id and checklist, then removes the trash entry.
func (s *Store) RestoreFromTrash(ctx context.Context, trashID string, now time.Time) (*Card, error) {
	var card *Card
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		entry, err := getTrash(ctx, tx, trashID)
		if err != nil {
			return err
		}

		card = &Card{
			ID:          entry.CardID,
			Title:       entry.Title,
			Description: entry.Description,
			ColumnID:    entry.ColumnID,
			Priority:    entry.Priority,
			UserID:      entry.UserID,
			StartDate:   entry.StartDate,
			EndDate:     entry.EndDate,
			CompletedAt: entry.CompletedAt,
			Position:    0,
			CreatedAt:   entry.CardCreatedAt,
			UpdatedAt:   now.UTC(),
		}
		if err := insertCard(ctx, tx, card); err != nil {
			return err
		}

		for i := range entry.Checklist {
			item := entry.Checklist[i]
			item.CardID = card.ID
			if err := insertChecklistItem(ctx, tx, &item); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM trash WHERE id = ?`), trashID); err != nil {
			return fmt.Errorf("failed to delete trash entry %s: %w", trashID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// ListTrash returns trash entries, most recently deleted first.
func (s *Store) ListTrash(ctx context.Context) ([]TrashEntry, error) {
	entries := []TrashEntry{}
	if err := s.db.SelectContext(ctx, &entries,
		`SELECT `+trashColumns+` FROM trash ORDER BY deleted_at DESC`); err != nil {
		return nil, fmt.Errorf("failed to list trash: %w", err)
	}
	return entries, nil
}

// GetTrash returns one trash entry.
func (s *Store) GetTrash(ctx context.Context, id string) (*TrashEntry, error) {
	return getTrash(ctx, s.db, id)
}

func getTrash(ctx context.Context, q sqlx.ExtContext, id string) (*TrashEntry, error) {
	var entry TrashEntry
	err := sqlx.GetContext(ctx, q, &entry, q.Rebind(`SELECT `+trashColumns+` FROM trash WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trash entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query trash entry %s: %w", id, err)
	}
	return &entry, nil
}

// DeleteTrash permanently removes a trash entry.
func (s *Store) DeleteTrash(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM trash WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete trash entry %s: %w", id, err)
	}
	rows, _ := res.RowsAffected()
	return notFoundIfNoRows(rows, "trash entry", id)
}

// PurgeExpiredTrash deletes entries whose auto-delete time has passed and
// returns what was removed.
func (s *Store) PurgeExpiredTrash(ctx context.Context, now time.Time) ([]TrashEntry, error) {
	var purged []TrashEntry
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &purged,
			tx.Rebind(`SELECT `+trashColumns+` FROM trash WHERE auto_delete_at <= ?`), now.UTC()); err != nil {
			return fmt.Errorf("failed to find expired trash: %w", err)
		}
		if len(purged) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM trash WHERE auto_delete_at <= ?`), now.UTC()); err != nil {
			return fmt.Errorf("failed to purge expired trash: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purged, nil
}
