package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/CrowderSoup/kanban-board/database"
	"github.com/CrowderSoup/kanban-board/events"
)

// TrashPurger permanently deletes trash entries past their auto-delete time.
type TrashPurger struct {
	store     *database.Store
	publisher Publisher
	interval  time.Duration
	now       func() time.Time
}

func NewTrashPurger(store *database.Store, publisher Publisher, interval time.Duration) *TrashPurger {
	return &TrashPurger{
		store:     store,
		publisher: publisher,
		interval:  interval,
		now:       time.Now,
	}
}

// Run purges once immediately and then on every tick until ctx is done.
func (p *TrashPurger) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.PurgeOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("trash purge failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PurgeOnce deletes expired entries and announces each removal.
func (p *TrashPurger) PurgeOnce(ctx context.Context) (int, error) {
	purged, err := p.store.PurgeExpiredTrash(ctx, p.now().UTC())
	if err != nil {
		return 0, err
	}
	for i := range purged {
		ev, err := events.NewChangeEvent(events.TableTrash, events.EventDelete, "", nil, purged[i])
		if err != nil {
			slog.Error("failed to encode purge event", "trash_id", purged[i].ID, "error", err)
			continue
		}
		if err := p.publisher.Publish(ctx, ev); err != nil {
			slog.Warn("failed to publish purge event", "trash_id", purged[i].ID, "error", err)
		}
	}
	if len(purged) > 0 {
		slog.Info("purged expired trash", "count", len(purged))
	}
	return len(purged), nil
}
