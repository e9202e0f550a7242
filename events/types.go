// Package events defines the realtime change feed wire format shared by
// the server hub and the sync client.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Table names a stream of row changes.
type Table string

const (
	TableCards     Table = "cards"
	TableChecklist Table = "checklist_items"
	TableTrash     Table = "trash"
	TableProfiles  Table = "profiles"
)

// Valid reports whether t is a table the feed publishes.
func (t Table) Valid() bool {
	switch t {
	case TableCards, TableChecklist, TableTrash, TableProfiles:
		return true
	}
	return false
}

// EventType indicates what kind of change occurred
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent describes one row change. New is set for inserts and
// updates, Old for updates and deletes. Partial marks row images reduced
// to their key columns.
type ChangeEvent struct {
	Table      Table           `json:"table"`
	Type       EventType       `json:"type"`
	New        json.RawMessage `json:"new,omitempty"`
	Old        json.RawMessage `json:"old,omitempty"`
	Actor      string          `json:"actor,omitempty"`
	CommitTime time.Time       `json:"commit_timestamp"`
	Partial    bool            `json:"partial,omitempty"`
}

// NewChangeEvent encodes the row images of a change. Nil records are omitted.
func NewChangeEvent(table Table, typ EventType, actor string, newRecord, oldRecord any) (ChangeEvent, error) {
	ev := ChangeEvent{
		Table:      table,
		Type:       typ,
		Actor:      actor,
		CommitTime: time.Now().UTC(),
	}
	if newRecord != nil {
		raw, err := json.Marshal(newRecord)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("encoding new record: %w", err)
		}
		ev.New = raw
	}
	if oldRecord != nil {
		raw, err := json.Marshal(oldRecord)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("encoding old record: %w", err)
		}
		ev.Old = raw
	}
	return ev, nil
}

// Message types on the WebSocket.
const (
	TypeSubscribe   = "subscribe"
	TypeSubscribed  = "subscribed"
	TypeUnsubscribe = "unsubscribe"
	TypeChange      = "change"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeError       = "error"
)

// Message is the envelope for every WebSocket frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	User string          `json:"user,omitempty"`
}

// SubscribeRequest selects the table a connection receives changes for.
type SubscribeRequest struct {
	Table Table `json:"table"`
}

// NewMessage wraps a payload in an envelope.
func NewMessage(typ string, data any) (Message, error) {
	msg := Message{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("encoding %s payload: %w", typ, err)
		}
		msg.Data = raw
	}
	return msg, nil
}
