package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/CrowderSoup/kanban-board/database"
	"github.com/CrowderSoup/kanban-board/events"
)

// ChangeChannel is the Postgres NOTIFY channel carrying change events.
const ChangeChannel = "kanban_changes"

// maxNotifyPayload is the Postgres limit on a NOTIFY payload, in bytes.
const maxNotifyPayload = 8000

// Publisher distributes change events to realtime subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev events.ChangeEvent) error
}

// PostgresFeed shares one change stream between server instances. Events
// are published with pg_notify and every instance relays what its
// listener receives into its local hub.
type PostgresFeed struct {
	store *database.Store
	dsn   string
	hub   *Hub

	listener *pq.Listener

	minReconnect  time.Duration
	maxReconnect  time.Duration
	pingInterval  time.Duration
	listenTimeout time.Duration
}

func NewPostgresFeed(store *database.Store, dsn string, hub *Hub) *PostgresFeed {
	return &PostgresFeed{
		store:         store,
		dsn:           dsn,
		hub:           hub,
		minReconnect:  10 * time.Second,
		maxReconnect:  time.Minute,
		pingInterval:  90 * time.Second,
		listenTimeout: 10 * time.Second,
	}
}

// Publish sends ev through NOTIFY. The local hub receives it back through
// the listener like every other instance.
func (f *PostgresFeed) Publish(ctx context.Context, ev events.ChangeEvent) error {
	payload, err := encodeNotification(ev)
	if err != nil {
		return err
	}
	if _, err := f.store.DB().ExecContext(ctx, `SELECT pg_notify($1, $2)`, ChangeChannel, payload); err != nil {
		return fmt.Errorf("failed to notify %s: %w", ChangeChannel, err)
	}
	return nil
}

// encodeNotification marshals ev for NOTIFY. Events too large for a
// payload are sent with key-only row images for the listener to reload.
func encodeNotification(ev events.ChangeEvent) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to encode change event: %w", err)
	}
	if len(payload) < maxNotifyPayload {
		return string(payload), nil
	}

	keyed := ev
	keyed.Partial = true
	if keyed.New, err = rowKeys(ev.Table, ev.New); err != nil {
		return "", err
	}
	if keyed.Old, err = rowKeys(ev.Table, ev.Old); err != nil {
		return "", err
	}
	payload, err = json.Marshal(keyed)
	if err != nil {
		return "", fmt.Errorf("failed to encode change event: %w", err)
	}
	if len(payload) >= maxNotifyPayload {
		return "", fmt.Errorf("change event for %s exceeds %d bytes", ev.Table, maxNotifyPayload)
	}
	return string(payload), nil
}

// rowKeys reduces a row image to the columns that identify it.
func rowKeys(table events.Table, raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var keys struct {
		ID     string `json:"id,omitempty"`
		CardID string `json:"card_id,omitempty"`
		UserID string `json:"user_id,omitempty"`
	}
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("failed to decode %s row: %w", table, err)
	}
	if table != events.TableChecklist {
		keys.CardID = ""
	}
	out, err := json.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s keys: %w", table, err)
	}
	return out, nil
}

// Listen connects the listener and subscribes to the change channel. It
// fails when no connection is established within the listen timeout.
func (f *PostgresFeed) Listen() error {
	listener := pq.NewListener(f.dsn, f.minReconnect, f.maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			slog.Warn("change feed listener connection problem", "event", ev, "error", err)
		case pq.ListenerEventReconnected:
			slog.Info("change feed listener reconnected")
		}
	})

	done := make(chan error, 1)
	go func() { done <- listener.Listen(ChangeChannel) }()

	timer := time.NewTimer(f.listenTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to listen on %s: %w", ChangeChannel, err)
		}
	case <-timer.C:
		listener.Close()
		return fmt.Errorf("failed to listen on %s: no connection after %s", ChangeChannel, f.listenTimeout)
	}

	f.listener = listener
	slog.Info("change feed listening", "channel", ChangeChannel)
	return nil
}

// Run relays notifications into the hub until ctx is cancelled. Listen
// must have succeeded first.
func (f *PostgresFeed) Run(ctx context.Context) error {
	if f.listener == nil {
		return errors.New("change feed is not listening")
	}
	defer f.listener.Close()

	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-f.listener.Notify:
			if n == nil {
				// Connection was re-established; notifications in between are lost.
				continue
			}
			f.relay(ctx, n.Extra)
		case <-ticker.C:
			go func() {
				if err := f.listener.Ping(); err != nil {
					slog.Warn("change feed listener ping failed", "error", err)
				}
			}()
		}
	}
}

func (f *PostgresFeed) relay(ctx context.Context, payload string) {
	var ev events.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		slog.Warn("dropping malformed change notification", "error", err)
		return
	}
	ev, ok := f.expand(ctx, ev)
	if !ok {
		return
	}
	if err := f.hub.Publish(ctx, ev); err != nil {
		slog.Warn("failed to relay change notification", "table", ev.Table, "error", err)
	}
}

// expand reloads the new row image of a partial event. Deletes keep their
// key-only old image. It reports false when the row can no longer be read.
func (f *PostgresFeed) expand(ctx context.Context, ev events.ChangeEvent) (events.ChangeEvent, bool) {
	if !ev.Partial || len(ev.New) == 0 {
		return ev, true
	}
	var keys struct {
		ID     string `json:"id"`
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(ev.New, &keys); err != nil {
		slog.Warn("dropping partial change notification", "table", ev.Table, "error", err)
		return ev, false
	}

	var (
		row any
		err error
	)
	switch ev.Table {
	case events.TableCards:
		row, err = f.store.GetCard(ctx, keys.ID)
	case events.TableChecklist:
		row, err = f.store.GetChecklistItem(ctx, keys.ID)
	case events.TableTrash:
		row, err = f.store.GetTrash(ctx, keys.ID)
	case events.TableProfiles:
		row, err = f.store.GetProfile(ctx, keys.UserID)
	default:
		err = fmt.Errorf("unknown table %q", ev.Table)
	}
	if err != nil {
		slog.Warn("dropping partial change notification", "table", ev.Table, "error", err)
		return ev, false
	}

	raw, err := json.Marshal(row)
	if err != nil {
		slog.Warn("dropping partial change notification", "table", ev.Table, "error", err)
		return ev, false
	}
	ev.New = raw
	ev.Partial = len(ev.Old) > 0
	return ev, true
}

// StartPublisher returns a running PostgresFeed for Postgres stores. It
// falls back to the hub when the store is not Postgres or the feed
// cannot listen, so events still reach this instance's subscribers.
func StartPublisher(ctx context.Context, store *database.Store, dsn string, hub *Hub) Publisher {
	if store.Driver() != "postgres" {
		return hub
	}
	return startFeed(ctx, NewPostgresFeed(store, dsn, hub), hub)
}

func startFeed(ctx context.Context, feed *PostgresFeed, hub *Hub) Publisher {
	if err := feed.Listen(); err != nil {
		slog.Error("change feed unavailable, publishing to local subscribers only", "error", err)
		return hub
	}
	go func() {
		if err := feed.Run(ctx); err != nil {
			slog.Error("change feed stopped", "error", err)
		}
	}()
	return feed
}
