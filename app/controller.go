// Package app ties the REST client, the realtime subscriber and the
// in-memory board together behind the operations a front end calls.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/CrowderSoup/kanban-board/board"
	"github.com/CrowderSoup/kanban-board/client"
	"github.com/CrowderSoup/kanban-board/database"
	"github.com/CrowderSoup/kanban-board/events"
	"github.com/CrowderSoup/kanban-board/realtime"
	"github.com/CrowderSoup/kanban-board/services"
)

// PermissionTimeout bounds how long EnableNotifications waits for an answer.
const PermissionTimeout = 3 * time.Second

// LegacyStorageKey is the key the old local-storage board saved cards under.
const LegacyStorageKey = "kanbanCards"

var ErrPermissionTimeout = errors.New("notification permission request timed out")

// Notifier shows desktop notifications.
type Notifier interface {
	RequestPermission(ctx context.Context) (bool, error)
	Notify(title, body string) error
}

type Controller struct {
	api    *client.Client
	state  *board.State
	userID string

	fs       afero.Fs
	notifier Notifier
	realtime realtime.Config
	now      func() time.Time

	permissionTimeout time.Duration

	mu            sync.Mutex
	status        realtime.Status
	warning       string
	notifications bool
}

type Option func(*Controller)

// WithFs sets the filesystem MigrateLocal reads from.
func WithFs(fs afero.Fs) Option {
	return func(c *Controller) { c.fs = fs }
}

func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithRealtime overrides the reconnect and timeout settings of the
// subscriber. URL and Table are always set by the controller.
func WithRealtime(cfg realtime.Config) Option {
	return func(c *Controller) { c.realtime = cfg }
}

func NewController(api *client.Client, state *board.State, userID string, opts ...Option) *Controller {
	c := &Controller{
		api:    api,
		state:  state,
		userID: userID,
		fs:     afero.NewOsFs(),
		now:    time.Now,

		permissionTimeout: PermissionTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) State() *board.State {
	return c.state
}

// Warning returns the persistent connection warning, if any.
func (c *Controller) Warning() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warning
}

// Status returns the last realtime connection status.
func (c *Controller) Status() realtime.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Load fetches the board and replaces the local copy. With showAll every
// user's cards are loaded, otherwise only the current user's.
func (c *Controller) Load(ctx context.Context, showAll bool) error {
	var cards []database.Card
	err := client.Retry(ctx, func(ctx context.Context) error {
		var err error
		cards, err = c.api.ListCards(ctx, client.ListOptions{All: showAll})
		return err
	})
	if err != nil {
		return fmt.Errorf("loading cards: %w", err)
	}

	view := c.state.View()
	view.CurrentUser = c.userID
	view.ShowAll = showAll
	c.state.Replace(cards)
	c.state.SetView(view)

	slog.Debug("board loaded", "cards", len(cards), "show_all", showAll)
	return nil
}

// CreateCard shows the card immediately under a client generated id and
// confirms it with the stored record once the server answers.
func (c *Controller) CreateCard(ctx context.Context, in services.CardInput) (*database.Card, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := c.now().UTC()

	local := database.Card{
		ID:          in.ID,
		Title:       in.Title,
		Description: in.Description,
		ColumnID:    in.ColumnID,
		Priority:    in.Priority,
		UserID:      c.userID,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if local.ColumnID == "" {
		local.ColumnID = database.ColumnTodo
	}
	if local.Priority == "" {
		local.Priority = database.PriorityMedium
	}
	if local.StartDate == nil {
		local.StartDate = &now
	}
	c.state.ApplyLocal(local)

	card, err := c.api.CreateCard(ctx, in)
	if err != nil {
		c.state.RemoveLocal(in.ID)
		return nil, fmt.Errorf("creating card: %w", err)
	}
	c.state.Confirm(in.ID, *card)
	return card, nil
}

// UpdateCard applies patch locally, then on the server. A failed call puts
// the previous version back.
func (c *Controller) UpdateCard(ctx context.Context, id string, patch services.CardPatch) (*database.Card, error) {
	prev, ok := c.state.Card(id)
	if ok {
		c.state.ApplyLocal(applyPatch(prev, patch, c.now().UTC()))
	}

	card, err := c.api.UpdateCard(ctx, id, patch)
	if err != nil {
		if ok {
			c.state.Restore(prev)
		}
		return nil, fmt.Errorf("updating card %s: %w", id, err)
	}
	c.state.Confirm(id, *card)
	return card, nil
}

// MoveCard moves a card to another column or position.
func (c *Controller) MoveCard(ctx context.Context, id string, column database.Column, position int) (*database.Card, error) {
	prev, ok := c.state.Card(id)
	if ok {
		moved := prev
		moved.ColumnID = column
		moved.Position = position
		c.state.ApplyLocal(moved)
	}

	card, err := c.api.MoveCard(ctx, id, column, position)
	if err != nil {
		if ok {
			c.state.Restore(prev)
		}
		return nil, fmt.Errorf("moving card %s: %w", id, err)
	}
	c.state.Confirm(id, *card)
	return card, nil
}

// TrashCard removes the card from the board and moves it to the trash.
func (c *Controller) TrashCard(ctx context.Context, id string) (*client.TrashEntry, error) {
	prev, ok := c.state.RemoveLocal(id)

	entry, err := c.api.TrashCard(ctx, id)
	if err != nil {
		if ok {
			c.state.Restore(prev)
		}
		return nil, fmt.Errorf("trashing card %s: %w", id, err)
	}
	return entry, nil
}

// RestoreTrash brings a trashed card back onto the board.
func (c *Controller) RestoreTrash(ctx context.Context, trashID string) (*database.Card, error) {
	card, err := c.api.RestoreTrash(ctx, trashID)
	if err != nil {
		return nil, fmt.Errorf("restoring %s: %w", trashID, err)
	}
	c.state.ApplyInsert(*card)
	return card, nil
}

func applyPatch(card database.Card, p services.CardPatch, now time.Time) database.Card {
	if p.Title != nil {
		card.Title = *p.Title
	}
	if p.Description != nil {
		card.Description = *p.Description
	}
	if p.ColumnID != nil {
		card.ColumnID = *p.ColumnID
	}
	if p.Priority != nil {
		card.Priority = *p.Priority
	}
	if p.StartDate != nil {
		card.StartDate = p.StartDate
	}
	if p.EndDate != nil {
		card.EndDate = p.EndDate
	}
	if p.ClearEndDate {
		card.EndDate = nil
	}
	if p.Position != nil {
		card.Position = *p.Position
	}
	card.UpdatedAt = now
	return card
}

// Run keeps the board in sync with realtime card changes until ctx ends or
// the subscriber gives up.
func (c *Controller) Run(ctx context.Context) error {
	cfg := c.realtime
	cfg.URL = c.api.WebSocketURL
	cfg.Table = events.TableCards

	sub := realtime.NewSubscriber(cfg, realtime.Handlers{
		OnInsert: func(newRecord json.RawMessage) {
			if card, ok := decodeCard(newRecord); ok {
				c.state.ApplyInsert(card)
			}
		},
		OnUpdate: func(newRecord, _ json.RawMessage) {
			if card, ok := decodeCard(newRecord); ok {
				c.state.ApplyUpdate(card)
			}
		},
		OnDelete: func(oldRecord json.RawMessage) {
			var old struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(oldRecord, &old); err != nil || old.ID == "" {
				slog.Warn("ignoring delete without id", "error", err)
				return
			}
			c.state.ApplyDelete(old.ID)
		},
		OnStatus: c.onStatus,
	})
	return sub.Run(ctx)
}

func (c *Controller) onStatus(status realtime.Status, err error) {
	c.mu.Lock()
	c.status = status
	if status == realtime.StatusGaveUp {
		c.warning = "Live updates are unavailable. Reload to reconnect."
	}
	c.mu.Unlock()

	switch status {
	case realtime.StatusGaveUp:
		slog.Error("realtime gave up", "error", err)
	case realtime.StatusChannelError, realtime.StatusTimedOut:
		slog.Warn("realtime channel problem", "status", status, "error", err)
	default:
		slog.Debug("realtime status", "status", status)
	}
}

func decodeCard(raw json.RawMessage) (database.Card, bool) {
	var card database.Card
	if err := json.Unmarshal(raw, &card); err != nil || card.ID == "" {
		slog.Warn("ignoring malformed card change", "error", err)
		return database.Card{}, false
	}
	return card, true
}

// MigrateLocal imports the cards of an old local-storage dump and renames
// the file so it is imported only once. A missing file imports nothing.
func (c *Controller) MigrateLocal(ctx context.Context, path string) (int, error) {
	raw, err := afero.ReadFile(c.fs, path)
	if errors.Is(err, afero.ErrFileNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	legacy, err := parseLegacyDump(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}

	imported := 0
	if len(legacy) > 0 {
		cards, err := c.api.ImportCards(ctx, legacy)
		if err != nil {
			return 0, fmt.Errorf("importing cards: %w", err)
		}
		for _, card := range cards {
			c.state.ApplyInsert(card)
		}
		imported = len(cards)
	}

	if err := c.fs.Rename(path, path+".migrated"); err != nil {
		return imported, fmt.Errorf("marking %s migrated: %w", path, err)
	}
	slog.Info("local board migrated", "path", path, "cards", imported)
	return imported, nil
}

// parseLegacyDump accepts the cards either as a JSON array or as the
// string the browser stored, which itself holds a JSON array.
func parseLegacyDump(raw []byte) ([]database.LegacyCard, error) {
	var dump map[string]json.RawMessage
	if err := json.Unmarshal(raw, &dump); err != nil {
		return nil, err
	}
	value, ok := dump[LegacyStorageKey]
	if !ok || string(value) == "null" {
		return nil, nil
	}

	var encoded string
	if err := json.Unmarshal(value, &encoded); err == nil {
		value = json.RawMessage(encoded)
	}

	var cards []database.LegacyCard
	if err := json.Unmarshal(value, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// EnableNotifications asks the notifier for permission. An answer that
// does not arrive within PermissionTimeout counts as a refusal.
func (c *Controller) EnableNotifications(ctx context.Context) (bool, error) {
	if c.notifier == nil {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.permissionTimeout)
	defer cancel()

	type answer struct {
		granted bool
		err     error
	}
	result := make(chan answer, 1)
	go func() {
		granted, err := c.notifier.RequestPermission(ctx)
		result <- answer{granted, err}
	}()

	var granted bool
	select {
	case a := <-result:
		if a.err != nil {
			return false, fmt.Errorf("requesting notification permission: %w", a.err)
		}
		granted = a.granted
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, ErrPermissionTimeout
		}
		return false, ctx.Err()
	}

	c.mu.Lock()
	c.notifications = granted
	c.mu.Unlock()
	return granted, nil
}

// DeadlineSummary counts the current user's urgent cards.
type DeadlineSummary struct {
	Overdue     int
	Approaching int
}

func (s DeadlineSummary) Total() int {
	return s.Overdue + s.Approaching
}

// CheckDeadlines counts the current user's overdue and approaching cards
// and, when notifications are enabled, sends one notification about them.
func (c *Controller) CheckDeadlines() (DeadlineSummary, error) {
	now := c.now()

	var own []database.Card
	for _, card := range c.state.Cards() {
		if card.UserID == c.userID {
			own = append(own, card)
		}
	}

	var summary DeadlineSummary
	for _, card := range board.UrgentCards(own, now) {
		if board.IsOverdue(card, now) {
			summary.Overdue++
		} else {
			summary.Approaching++
		}
	}

	c.mu.Lock()
	enabled := c.notifications
	c.mu.Unlock()
	if !enabled || c.notifier == nil || summary.Total() == 0 {
		return summary, nil
	}

	title, body := deadlineMessage(summary)
	if err := c.notifier.Notify(title, body); err != nil {
		return summary, fmt.Errorf("sending deadline notification: %w", err)
	}
	return summary, nil
}

func deadlineMessage(s DeadlineSummary) (title, body string) {
	switch {
	case s.Overdue > 0 && s.Approaching > 0:
		return "Tasks need attention", fmt.Sprintf("Overdue: %d, due soon: %d", s.Overdue, s.Approaching)
	case s.Overdue > 0:
		return "Overdue tasks", fmt.Sprintf("You have %d overdue %s", s.Overdue, plural(s.Overdue, "task", "tasks"))
	default:
		return "Deadlines approaching", fmt.Sprintf("You have %d %s due soon", s.Approaching, plural(s.Approaching, "task", "tasks"))
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
