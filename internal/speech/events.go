package speech

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventKind - тип голосового события.
type EventKind string

const (
	EventTranscript      EventKind = "transcript"
	EventFinalTranscript EventKind = "final_transcript"
	EventSpeechStart     EventKind = "speech_start"
	EventSpeechEnd       EventKind = "speech_end"
	EventError           EventKind = "error"
	EventStatus          EventKind = "status"
)

// ValidEventKind сообщает, известен ли тип k.
func ValidEventKind(k EventKind) bool {
	switch k {
	case EventTranscript, EventFinalTranscript, EventSpeechStart, EventSpeechEnd, EventError, EventStatus:
		return true
	}
	return false
}

// Event - событие распознавания речи от клиента.
// События без SceneID не попадают ни в одну сцену.
type Event struct {
	Kind      EventKind `json:"kind"`
	SceneID   string    `json:"sceneId,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler принимает опубликованные события.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// EventBus доставляет каждое событие один раз всем текущим подписчикам его типа.
type EventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventKind][]subscription
	logger *zap.Logger
}

func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subs:   make(map[EventKind][]subscription),
		logger: logger.Named("VoiceEventBus"),
	}
}

// Subscribe регистрирует h для kind. Возвращаемая функция отписывает, повторный вызов безопасен.
func (b *EventBus) Subscribe(kind EventKind, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[kind]
			for i, s := range list {
				if s.id == id {
					b.subs[kind] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish вызывает обработчики синхронно. Паника в одном обработчике не останавливает остальные.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Kind]))
	for _, s := range b.subs[e.Kind] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, e)
	}
}

func (b *EventBus) dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Voice event handler panicked", zap.String("kind", string(e.Kind)), zap.Any("panic", r))
		}
	}()
	h(e)
}
