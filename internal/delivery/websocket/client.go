package websocket

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"improv-server/internal/speech"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

// Client - одно WebSocket соединение.
type Client struct {
	ID   uuid.UUID
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	topics map[string]bool
}

// command - сообщение от клиента серверу.
type command struct {
	Action string       `json:"action"`
	Topic  string       `json:"topic,omitempty"`
	Event  speech.Event `json:"event,omitempty"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.New(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		topics: make(map[string]bool),
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket read error", zap.String("clientID", c.ID.String()), zap.Error(err))
			}
			return
		}
		c.handle(message)
	}
}

func (c *Client) handle(message []byte) {
	var cmd command
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.hub.logger.Debug("Unparseable client command", zap.String("clientID", c.ID.String()), zap.Error(err))
		return
	}
	switch strings.ToLower(cmd.Action) {
	case "subscribe":
		c.Subscribe(cmd.Topic)
	case "unsubscribe":
		c.Unsubscribe(cmd.Topic)
	case "voice":
		if !speech.ValidEventKind(cmd.Event.Kind) {
			c.hub.logger.Debug("Unknown voice event kind", zap.String("kind", string(cmd.Event.Kind)))
			return
		}
		if strings.TrimSpace(cmd.Event.SceneID) == "" {
			c.hub.logger.Debug("Voice event without scene", zap.String("clientID", c.ID.String()))
			return
		}
		c.hub.publishVoice(cmd.Event)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// одно JSON сообщение на фрейм
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) Subscribe(topic string) {
	if topic == "" {
		return
	}
	c.mu.Lock()
	c.topics[topic] = true
	c.mu.Unlock()
}

func (c *Client) Unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

func (c *Client) IsSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}
