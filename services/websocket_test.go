package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/kanban-board/events"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub()
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, "user-1", "user@example.com")
		hub.Register(client)
		go client.WritePump()
		client.ReadPump()
	}))
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	msg, err := events.NewMessage(typ, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func receive(t *testing.T, conn *websocket.Conn) events.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg events.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_PingPong(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	send(t, conn, events.TypePing, nil)
	assert.Equal(t, events.TypePong, receive(t, conn).Type)
}

func TestHub_DeliversOnlySubscribedTables(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	ctx := context.Background()

	send(t, conn, events.TypeSubscribe, events.SubscribeRequest{Table: events.TableCards})
	ack := receive(t, conn)
	require.Equal(t, events.TypeSubscribed, ack.Type)
	var req events.SubscribeRequest
	require.NoError(t, json.Unmarshal(ack.Data, &req))
	assert.Equal(t, events.TableCards, req.Table)

	trashEv, err := events.NewChangeEvent(events.TableTrash, events.EventInsert, "user-2", map[string]string{"id": "t1"}, nil)
	require.NoError(t, err)
	require.NoError(t, hub.Publish(ctx, trashEv))

	cardEv, err := events.NewChangeEvent(events.TableCards, events.EventInsert, "user-2", map[string]string{"id": "c1"}, nil)
	require.NoError(t, err)
	require.NoError(t, hub.Publish(ctx, cardEv))

	msg := receive(t, conn)
	require.Equal(t, events.TypeChange, msg.Type)
	assert.Equal(t, "user-2", msg.User)

	var got events.ChangeEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, events.TableCards, got.Table)
	assert.Equal(t, events.EventInsert, got.Type)
	assert.JSONEq(t, `{"id":"c1"}`, string(got.New))

	assert.Equal(t, int64(2), hub.Metrics().Snapshot().EventsPublished)
}

func TestHub_RejectsUnknownTable(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	send(t, conn, events.TypeSubscribe, events.SubscribeRequest{Table: "secrets"})
	assert.Equal(t, events.TypeError, receive(t, conn).Type)
}

func TestHub_PublishAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	// Fill the buffer so Publish has to observe the stopped hub.
	var err error
	for i := 0; i < 100 && err == nil; i++ {
		err = hub.Publish(context.Background(), events.ChangeEvent{Table: events.TableCards})
	}
	assert.ErrorIs(t, err, ErrHubStopped)
}
