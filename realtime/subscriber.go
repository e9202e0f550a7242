// Package realtime subscribes to the server's change feed over a
// WebSocket and keeps the subscription alive with bounded reconnects.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CrowderSoup/kanban-board/events"
)

// Status is the state of the subscription channel.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusSubscribed   Status = "subscribed"
	StatusClosed       Status = "closed"
	StatusChannelError Status = "channel_error"
	StatusTimedOut     Status = "timed_out"
	StatusGaveUp       Status = "gave_up"
)

// ErrGaveUp is returned by Run once every reconnect attempt has failed.
var ErrGaveUp = errors.New("realtime: gave up reconnecting")

var errSubscribeTimeout = errors.New("subscribe acknowledgement timed out")

const (
	DefaultMaxRetries       = 5
	DefaultBaseDelay        = time.Second
	DefaultSubscribeTimeout = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second

	writeWait = 10 * time.Second
)

// Config describes where and how to subscribe.
type Config struct {
	// URL returns the WebSocket endpoint; it is called before every dial
	// so a refreshed token is picked up.
	URL   func() (string, error)
	Table events.Table

	MaxRetries       int
	BaseDelay        time.Duration
	SubscribeTimeout time.Duration
	PingInterval     time.Duration
	Dialer           *websocket.Dialer
}

// Handlers receive decoded change events and status transitions. Any of
// them may be nil.
type Handlers struct {
	OnInsert func(newRecord json.RawMessage)
	OnUpdate func(newRecord, oldRecord json.RawMessage)
	OnDelete func(oldRecord json.RawMessage)
	OnStatus func(status Status, err error)
}

// Subscriber maintains one table subscription.
type Subscriber struct {
	cfg      Config
	handlers Handlers

	mu     sync.Mutex
	status Status

	sleep func(ctx context.Context, d time.Duration) error
}

func NewSubscriber(cfg Config, handlers Handlers) *Subscriber {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Subscriber{cfg: cfg, handlers: handlers, sleep: sleepContext}
}

// Status returns the last reported status.
func (s *Subscriber) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Subscriber) setStatus(status Status, err error) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	if s.handlers.OnStatus != nil {
		s.handlers.OnStatus(status, err)
	}
}

// Run subscribes and keeps reconnecting until ctx ends or the retries are
// exhausted. Reconnects wait BaseDelay doubled per consecutive failure; a
// successful subscription resets the count.
func (s *Subscriber) Run(ctx context.Context) error {
	attempt := 0
	for {
		s.setStatus(StatusConnecting, nil)
		subscribed, err := s.session(ctx)
		if ctx.Err() != nil {
			s.setStatus(StatusClosed, nil)
			return nil
		}
		if subscribed {
			attempt = 0
		}
		if attempt >= s.cfg.MaxRetries {
			slog.Warn("realtime subscription gave up", "table", s.cfg.Table, "attempts", attempt, "error", err)
			s.setStatus(StatusGaveUp, err)
			return fmt.Errorf("%w after %d attempts: %v", ErrGaveUp, attempt, err)
		}

		delay := s.cfg.BaseDelay * (1 << attempt)
		attempt++
		slog.Info("realtime reconnecting", "table", s.cfg.Table, "attempt", attempt, "max_attempts", s.cfg.MaxRetries, "delay", delay)

		if err := s.sleep(ctx, delay); err != nil {
			s.setStatus(StatusClosed, nil)
			return nil
		}
	}
}

// sleepContext waits for d or until ctx ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// session runs one connection. subscribed reports whether the server
// acknowledged the subscription before the connection ended.
func (s *Subscriber) session(ctx context.Context) (subscribed bool, err error) {
	url, err := s.cfg.URL()
	if err != nil {
		s.setStatus(StatusChannelError, err)
		return false, err
	}

	conn, _, err := s.cfg.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		s.setStatus(StatusChannelError, err)
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(typ string, data any) error {
		msg, err := events.NewMessage(typ, data)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := write(events.TypeSubscribe, events.SubscribeRequest{Table: s.cfg.Table}); err != nil {
		s.setStatus(StatusChannelError, err)
		return false, fmt.Errorf("subscribe: %w", err)
	}

	if err := s.awaitAck(conn); err != nil {
		if errors.Is(err, errSubscribeTimeout) {
			s.setStatus(StatusTimedOut, err)
		} else {
			s.setStatus(StatusChannelError, err)
		}
		return false, err
	}
	s.setStatus(StatusSubscribed, nil)

	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := write(events.TypePing, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
		var msg events.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setStatus(StatusClosed, err)
			} else {
				s.setStatus(StatusChannelError, err)
			}
			return true, err
		}

		switch msg.Type {
		case events.TypeChange:
			s.dispatch(msg.Data)
		case events.TypePing:
			if err := write(events.TypePong, nil); err != nil {
				s.setStatus(StatusChannelError, err)
				return true, err
			}
		case events.TypeError:
			slog.Warn("realtime server reported an error", "table", s.cfg.Table, "data", string(msg.Data))
		}
	}
}

// awaitAck reads until the subscribed acknowledgement or the timeout.
func (s *Subscriber) awaitAck(conn *websocket.Conn) error {
	deadline := time.Now().Add(s.cfg.SubscribeTimeout)
	conn.SetReadDeadline(deadline)
	for {
		var msg events.Message
		if err := conn.ReadJSON(&msg); err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return errSubscribeTimeout
			}
			return fmt.Errorf("awaiting subscribe acknowledgement: %w", err)
		}
		switch msg.Type {
		case events.TypeSubscribed:
			var req events.SubscribeRequest
			if err := json.Unmarshal(msg.Data, &req); err == nil && req.Table == s.cfg.Table {
				return nil
			}
		case events.TypeError:
			return fmt.Errorf("subscription rejected: %s", string(msg.Data))
		}
	}
}

func (s *Subscriber) dispatch(data json.RawMessage) {
	var ev events.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Warn("dropping malformed change event", "error", err)
		return
	}
	if ev.Table != s.cfg.Table {
		return
	}
	switch ev.Type {
	case events.EventInsert:
		if s.handlers.OnInsert != nil {
			s.handlers.OnInsert(ev.New)
		}
	case events.EventUpdate:
		if s.handlers.OnUpdate != nil {
			s.handlers.OnUpdate(ev.New, ev.Old)
		}
	case events.EventDelete:
		if s.handlers.OnDelete != nil {
			s.handlers.OnDelete(ev.Old)
		}
	}
}
