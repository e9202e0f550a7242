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

const cardColumns = `id, title, description, column_id, priority, user_id,
	start_date, end_date, completed_at, position, created_at, updated_at`

// ListCards returns cards ordered by position, optionally limited to one owner.
func (s *Store) ListCards(ctx context.Context, filter CardFilter) ([]Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards`
	var args []any
	if filter.OwnerID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, filter.OwnerID)
	}
	query += ` ORDER BY position ASC, created_at ASC`

	cards := []Card{}
	if err := s.db.SelectContext(ctx, &cards, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return cards, nil
}

// GetCard returns one card by id.
func (s *Store) GetCard(ctx context.Context, id string) (*Card, error) {
	return getCard(ctx, s.db, id)
}

func getCard(ctx context.Context, q sqlx.ExtContext, id string) (*Card, error) {
	var c Card
	err := sqlx.GetContext(ctx, q, &c, q.Rebind(`SELECT `+cardColumns+` FROM cards WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query card %s: %w", id, err)
	}
	return &c, nil
}

// MaxPosition returns the highest position used in a column, or 0.
func (s *Store) MaxPosition(ctx context.Context, column Column) (int, error) {
	var max int
	err := s.db.GetContext(ctx, &max, s.db.Rebind(`SELECT COALESCE(MAX(position), 0) FROM cards WHERE column_id = ?`), column)
	if err != nil {
		return 0, fmt.Errorf("failed to read max position: %w", err)
	}
	return max, nil
}

// CreateCard inserts a card at the end of its column. An empty ID is
// replaced with a fresh UUID; timestamps are set here.
func (s *Store) CreateCard(ctx context.Context, c *Card) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var max int
		if err := tx.GetContext(ctx, &max, tx.Rebind(`SELECT COALESCE(MAX(position), 0) FROM cards WHERE column_id = ?`), c.ColumnID); err != nil {
			return fmt.Errorf("failed to read max position: %w", err)
		}
		c.Position = max + 1
		return insertCard(ctx, tx, c)
	})
}

func insertCard(ctx context.Context, e sqlx.ExtContext, c *Card) error {
	_, err := e.ExecContext(ctx, e.Rebind(`
		INSERT INTO cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Title, c.Description, c.ColumnID, c.Priority, c.UserID,
		c.StartDate, c.EndDate, c.CompletedAt, c.Position, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("card %s: %w", c.ID, ErrConflict)
		}
		return fmt.Errorf("failed to insert card: %w", err)
	}
	return nil
}

// UpdateCard writes every mutable field of c and bumps updated_at.
func (s *Store) UpdateCard(ctx context.Context, c *Card) error {
	c.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE cards SET
			title = ?, description = ?, column_id = ?, priority = ?,
			start_date = ?, end_date = ?, completed_at = ?, position = ?,
			updated_at = ?
		WHERE id = ?`),
		c.Title, c.Description, c.ColumnID, c.Priority,
		c.StartDate, c.EndDate, c.CompletedAt, c.Position,
		c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update card %s: %w", c.ID, err)
	}
	rows, _ := res.RowsAffected()
	return notFoundIfNoRows(rows, "card", c.ID)
}

// UpdatePositions rewrites positions of the owner's cards in one
// transaction and returns how many rows changed. Cards owned by someone
// else are skipped.
func (s *Store) UpdatePositions(ctx context.Context, ownerID string, column Column, updates []PositionUpdate) (int, error) {
	var changed int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		stmt := tx.Rebind(`UPDATE cards SET position = ?, updated_at = ? WHERE id = ? AND user_id = ? AND column_id = ?`)
		now := time.Now().UTC()
		for _, u := range updates {
			res, err := tx.ExecContext(ctx, stmt, u.Position, now, u.ID, ownerID, column)
			if err != nil {
				return fmt.Errorf("failed to update position of %s: %w", u.ID, err)
			}
			rows, _ := res.RowsAffected()
			changed += int(rows)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// OwnerIDs returns the distinct owners of all cards.
func (s *Store) OwnerIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	if err := s.db.SelectContext(ctx, &ids, `SELECT DISTINCT user_id FROM cards ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("failed to list card owners: %w", err)
	}
	return ids, nil
}

// ImportCards inserts a batch of cards atomically, keeping their positions.
func (s *Store) ImportCards(ctx context.Context, cards []Card) error {
	if len(cards) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		for i := range cards {
			if cards[i].ID == "" {
				cards[i].ID = uuid.NewString()
			}
			if cards[i].CreatedAt.IsZero() {
				cards[i].CreatedAt = now
			}
			cards[i].UpdatedAt = now
			if err := insertCard(ctx, tx, &cards[i]); err != nil {
				return err
			}
		}
		return nil
	})
}
