// Package websocket стримит события сцены в браузер и принимает голосовые события клиентов.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"improv-server/internal/domain"
	"improv-server/internal/orchestrator"
	"improv-server/internal/speech"
)

// Типы сообщений, отправляемых клиентам.
const (
	TypeSceneState    = "scene_state"
	TypeSceneDecision = "scene_decision"
	TypeSceneLine     = "scene_line"
	TypeSpeech        = "speech"
	TypeSpeechStop    = "speech_stop"

	broadcastQueueSize = 256
	sendQueueSize      = 256
)

// Message - конверт каждого сообщения от сервера.
type Message struct {
	Type    string      `json:"type"`
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// SceneTopic - топик с событиями одной сцены.
func SceneTopic(sceneID string) string {
	return "scene:" + sceneID
}

// VoicePublisher принимает голосовые события от клиентов.
type VoicePublisher interface {
	Publish(e speech.Event)
}

// Hub рассылает сообщения подписанным клиентам. Реализует orchestrator.Observer,
// speech.Sink и taskmanager.Notifier.
type Hub struct {
	clients    map[uuid.UUID]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	done       chan struct{}
	stopOnce   sync.Once

	upgrader websocket.Upgrader
	voice    VoicePublisher
	logger   *zap.Logger
}

var (
	_ orchestrator.Observer = (*Hub)(nil)
	_ speech.Sink           = (*Hub)(nil)
	_ speech.Stopper        = (*Hub)(nil)
)

// NewHub создает хаб. allowedOrigins со значением "*" (или пустой) принимает любой origin.
func NewHub(voice VoicePublisher, allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, broadcastQueueSize),
		done:       make(chan struct{}),
		voice:      voice,
		logger:     logger.Named("WebSocketHub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Run обрабатывает регистрации и рассылки, пока не завершится ctx или не вызван Stop.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	defer h.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case c := <-h.register:
			h.clients[c.ID] = c
			h.logger.Debug("Client connected", zap.String("clientID", c.ID.String()))
		case c := <-h.unregister:
			if _, ok := h.clients[c.ID]; ok {
				delete(h.clients, c.ID)
				close(c.send)
				h.logger.Debug("Client disconnected", zap.String("clientID", c.ID.String()))
			}
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Stop завершает Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) deliver(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	for id, c := range h.clients {
		if !c.IsSubscribed(msg.Topic) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// медленный клиент
			delete(h.clients, id)
			close(c.send)
			h.logger.Warn("Dropping slow client", zap.String("clientID", id.String()))
		}
	}
}

func (h *Hub) closeAll() {
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

// Broadcast ставит сообщение в очередь каждому клиенту, подписанному на topic. Не блокирует,
// при переполненной очереди сообщения отбрасываются.
func (h *Hub) Broadcast(messageType, topic string, payload interface{}) {
	select {
	case h.broadcast <- Message{Type: messageType, Topic: topic, Payload: payload}:
	default:
		h.logger.Warn("Broadcast queue full, message dropped", zap.String("type", messageType), zap.String("topic", topic))
	}
}

type scenePayload struct {
	SceneID  string                  `json:"sceneId"`
	Status   orchestrator.Status     `json:"status,omitempty"`
	Decision *domain.SpeakerDecision `json:"decision,omitempty"`
	Line     *domain.DialogueLine    `json:"line,omitempty"`
	Snapshot *domain.SceneSnapshot   `json:"snapshot,omitempty"`
}

func (h *Hub) SceneStateChanged(sceneID string, status orchestrator.Status, snap domain.SceneSnapshot) {
	h.Broadcast(TypeSceneState, SceneTopic(sceneID), scenePayload{SceneID: sceneID, Status: status, Snapshot: &snap})
}

func (h *Hub) SpeakerChosen(sceneID string, decision domain.SpeakerDecision) {
	h.Broadcast(TypeSceneDecision, SceneTopic(sceneID), scenePayload{SceneID: sceneID, Decision: &decision})
}

func (h *Hub) LineCommitted(sceneID string, line domain.DialogueLine, snap domain.SceneSnapshot) {
	h.Broadcast(TypeSceneLine, SceneTopic(sceneID), scenePayload{SceneID: sceneID, Line: &line, Snapshot: &snap})
}

// Play отправляет клип подписчикам сцены; воспроизведение происходит в браузере.
func (h *Hub) Play(ctx context.Context, clip speech.Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.Broadcast(TypeSpeech, SceneTopic(clip.SceneID), clip)
	return nil
}

func (h *Hub) StopPlayback(sceneID string) {
	h.Broadcast(TypeSpeechStop, SceneTopic(sceneID), map[string]string{"sceneId": sceneID})
}

// ServeHTTP апгрейдит соединение и регистрирует клиента.
// Клиент может передать ?scene=<id>, чтобы сразу подписаться.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	c := newClient(h, conn)
	c.Subscribe("tasks")
	if scene := strings.TrimSpace(r.URL.Query().Get("scene")); scene != "" {
		c.Subscribe(SceneTopic(scene))
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) publishVoice(e speech.Event) {
	if h.voice == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	h.voice.Publish(e)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
