package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerdash/backend/internal/metrics"
	"github.com/powerdash/backend/internal/utils"
)

func startHub(t *testing.T) (*NotificationService, *websocket.Conn, *Client) {
	t.Helper()

	hub := NewNotificationService(utils.NewNopLogger(), metrics.New())
	t.Cleanup(hub.Close)

	clients := make(chan *Client, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		clients <- hub.RegisterClient(conn)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var client *Client
	select {
	case client = <-clients:
	case <-time.After(2 * time.Second):
		t.Fatal("client was not registered")
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	return hub, conn, client
}

func readMessage(t *testing.T, conn *websocket.Conn) NotificationMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg NotificationMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestNotifyReachesClientsWithoutSubscriptions(t *testing.T) {
	hub, conn, _ := startHub(t)

	hub.Notify(NotificationTypeBill, map[string]float64{"total": 107})

	msg := readMessage(t, conn)
	assert.Equal(t, NotificationTypeBill, msg.Type)
	assert.Equal(t, "bill", msg.Topic)
	assert.Equal(t, map[string]interface{}{"total": 107.0}, msg.Payload)
}

func TestSubscribedClientOnlyGetsItsTopics(t *testing.T) {
	hub, conn, client := startHub(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "topic": "relay"}))
	require.Eventually(t, func() bool { return !client.wants("bill") }, time.Second, 5*time.Millisecond)

	hub.Notify(NotificationTypeBill, "ignored")
	hub.Notify(NotificationTypeRelay, "delivered")

	msg := readMessage(t, conn)
	assert.Equal(t, NotificationTypeRelay, msg.Type)
	assert.Equal(t, "delivered", msg.Payload)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "unsubscribe", "topic": "relay"}))
	require.Eventually(t, func() bool { return client.wants("bill") }, time.Second, 5*time.Millisecond)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub, conn, _ := startHub(t)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCloseDisconnectsClients(t *testing.T) {
	hub, conn, _ := startHub(t)

	hub.Close()
	hub.Notify(NotificationTypeSnapshot, "after close")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
