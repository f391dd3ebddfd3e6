package services

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/powerdash/backend/internal/metrics"
	"github.com/powerdash/backend/internal/utils"
)

// Client represents a websocket client connection
type Client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	topics map[string]bool
}

// wants reports whether the client receives topic. A client without
// subscriptions receives everything.
func (c *Client) wants(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.topics) == 0 || c.topics[topic]
}

// NotificationType defines types of notification messages
type NotificationType string

const (
	NotificationTypeSnapshot   NotificationType = "snapshot"
	NotificationTypeBill       NotificationType = "bill"
	NotificationTypeEfficiency NotificationType = "efficiency"
	NotificationTypeLoadState  NotificationType = "load_state"
	NotificationTypeForecast   NotificationType = "forecast"
	NotificationTypeRelay      NotificationType = "relay"
)

// NotificationMessage represents a message sent to clients
type NotificationMessage struct {
	Type      NotificationType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Topic     string           `json:"topic"`
	Payload   interface{}      `json:"payload"`
}

// NotificationService manages websocket connections and fans dashboard
// updates out to them. Notify never blocks the caller.
type NotificationService struct {
	logger  *utils.Logger
	metrics *metrics.Metrics

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *NotificationMessage
	done       chan struct{}
	closeOnce  sync.Once
	count      atomic.Int64
}

// NewNotificationService creates a new notification service
func NewNotificationService(logger *utils.Logger, m *metrics.Metrics) *NotificationService {
	service := &NotificationService{
		logger:     logger.Named("notification_service"),
		metrics:    m,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *NotificationMessage, 256),
		done:       make(chan struct{}),
	}

	go service.run()
	return service
}

// RegisterClient adds a new websocket client
func (s *NotificationService) RegisterClient(conn *websocket.Conn) *Client {
	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		topics: make(map[string]bool),
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return client
	}

	// Start goroutines for reading and writing
	go s.readPump(client)
	go s.writePump(client)

	return client
}

// SubscribeToTopic subscribes a client to a specific topic
func (s *NotificationService) SubscribeToTopic(client *Client, topic string) {
	client.mu.Lock()
	client.topics[topic] = true
	client.mu.Unlock()

	s.logger.Debug("Client subscribed to topic", utils.String("topic", topic))
}

// UnsubscribeFromTopic unsubscribes a client from a specific topic
func (s *NotificationService) UnsubscribeFromTopic(client *Client, topic string) {
	client.mu.Lock()
	delete(client.topics, topic)
	client.mu.Unlock()

	s.logger.Debug("Client unsubscribed from topic", utils.String("topic", topic))
}

// Notify queues a notification for every interested client. The topic is the
// notification type.
func (s *NotificationService) Notify(notificationType NotificationType, payload interface{}) {
	message := &NotificationMessage{
		Type:      notificationType,
		Timestamp: time.Now(),
		Topic:     string(notificationType),
		Payload:   payload,
	}

	select {
	case <-s.done:
	case s.broadcast <- message:
	default:
		s.logger.Warn("Notification queue full, dropping message",
			utils.String("type", string(notificationType)))
	}
}

// ClientCount returns the number of connected clients
func (s *NotificationService) ClientCount() int {
	return int(s.count.Load())
}

// Close disconnects every client and stops the hub
func (s *NotificationService) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// run owns the client set
func (s *NotificationService) run() {
	for {
		select {
		case client := <-s.register:
			s.clients[client] = true
			s.updateCount()
			s.logger.Debug("Client registered", utils.Int("clients", len(s.clients)))

		case client := <-s.unregister:
			s.remove(client)
			s.logger.Debug("Client unregistered", utils.Int("clients", len(s.clients)))

		case message := <-s.broadcast:
			s.dispatch(message)

		case <-s.done:
			for client := range s.clients {
				s.remove(client)
			}
			s.logger.Info("Notification service stopped")
			return
		}
	}
}

func (s *NotificationService) dispatch(message *NotificationMessage) {
	jsonMessage, err := json.Marshal(message)
	if err != nil {
		s.logger.Error("Failed to marshal notification message",
			utils.Error(err),
			utils.String("type", string(message.Type)))
		return
	}

	for client := range s.clients {
		if !client.wants(message.Topic) {
			continue
		}
		select {
		case client.send <- jsonMessage:
		default:
			// Client's send buffer is full
			s.remove(client)
			s.logger.Warn("Client buffer full, connection closed")
		}
	}
}

func (s *NotificationService) remove(client *Client) {
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	close(client.send)
	s.updateCount()
}

func (s *NotificationService) updateCount() {
	s.count.Store(int64(len(s.clients)))
	s.metrics.WebsocketClients(len(s.clients))
}

// readPump reads subscription requests from the client
func (s *NotificationService) readPump(client *Client) {
	defer func() {
		select {
		case s.unregister <- client:
		case <-s.done:
		}
		client.conn.Close()
	}()

	// Set limits on websocket connection
	client.conn.SetReadLimit(4096) // 4KB max message size
	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				s.logger.Warn("Unexpected websocket close", utils.Error(err))
			}
			break
		}

		var clientMsg struct {
			Action string `json:"action"`
			Topic  string `json:"topic"`
		}

		if err := json.Unmarshal(message, &clientMsg); err != nil {
			s.logger.Warn("Invalid client message", utils.Error(err))
			continue
		}

		switch clientMsg.Action {
		case "subscribe":
			if clientMsg.Topic != "" {
				s.SubscribeToTopic(client, clientMsg.Topic)
			}
		case "unsubscribe":
			if clientMsg.Topic != "" {
				s.UnsubscribeFromTopic(client, clientMsg.Topic)
			}
		}
	}
}

// writePump writes messages to the client
func (s *NotificationService) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Channel closed
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
