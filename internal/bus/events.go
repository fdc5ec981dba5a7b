package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Activity event types.
const (
	EventConversationStarted = "conversation.started"
	EventConversationEnded   = "conversation.ended"
	EventMessageAnswered     = "message.answered"
	EventMessageFallback     = "message.fallback"
	EventIndexPublished      = "index.published"
	EventIndexRejected       = "index.rejected"
)

const defaultMaxHistory = 1000

// Event is one entry of the activity feed.
type Event struct {
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe feed with a bounded replay
// history. "*" subscribes to every type.
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	nextID     uint64
	logger     *slog.Logger
	history    []Event
	maxHistory int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

// NewEventBus keeps up to maxHistory events for Replay; <= 0 uses 1000.
func NewEventBus(maxHistory int, logger *slog.Logger) *EventBus {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: maxHistory,
	}
}

// On registers a handler and returns its ID for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.FormatUint(eb.nextID, 10)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit records the event and calls matching handlers synchronously. A
// panicking handler is logged and does not stop the others.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = append(eb.history[:0:0], eb.history[len(eb.history)-eb.maxHistory+1:]...)
	}
	eb.history = append(eb.history, event)

	var handlers []namedHandler
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns recorded events of eventType ("*" for all) at or after
// since, oldest first, keeping at most the newest limit (0 = no limit).
func (eb *EventBus) Replay(eventType string, since time.Time, limit int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	result := []Event{}
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}

func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}
