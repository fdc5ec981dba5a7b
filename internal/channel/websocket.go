package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"faqbot/internal/domain"
)

const (
	wsChannelName    = "websocket"
	wsWriteTimeout   = 10 * time.Second
	wsMaxMessageSize = 64 << 10
)

// WSMessage is the JSON frame exchanged with WebSocket clients.
type WSMessage struct {
	Type    string `json:"type"` // "message" | "status" | "error"
	Content string `json:"content,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

// WebSocket carries chat over long-lived connections mounted on the web
// router. Inbound frames go through the bus, so chat commands and per-chat
// rate limits apply as they do on Telegram.
type WebSocket struct {
	bus      domain.MessageBus
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn   *websocket.Conn
	chatID string
	mu     sync.Mutex
}

func NewWebSocket(logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		logger: logger,
		// nil CheckOrigin: only same-host origins may connect.
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		clients:  make(map[*wsClient]struct{}),
	}
}

func (ws *WebSocket) Name() string { return wsChannelName }

// Attach registers the outbound handler. It must be called before clients
// connect.
func (ws *WebSocket) Attach(bus domain.MessageBus) {
	ws.mu.Lock()
	ws.bus = bus
	ws.mu.Unlock()
	bus.OnOutbound(wsChannelName, func(msg domain.OutboundMessage) {
		ws.sendToChat(msg.ChatID, WSMessage{Type: "message", Content: msg.Content, ChatID: msg.ChatID})
	})
}

// ServeHTTP upgrades the request. The chat is taken from ?chat_id= so a
// reconnecting client resumes its conversation; otherwise a new one starts.
func (ws *WebSocket) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ws.mu.RLock()
	bus := ws.bus
	ws.mu.RUnlock()
	if bus == nil {
		http.Error(rw, "websocket channel not started", http.StatusServiceUnavailable)
		return
	}

	conn, err := ws.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		ws.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(wsMaxMessageSize)

	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		chatID = uuid.NewString()
	}
	client := &wsClient{conn: conn, chatID: chatID}

	ws.mu.Lock()
	ws.clients[client] = struct{}{}
	ws.mu.Unlock()
	ws.logger.Debug("websocket client connected", "chat_id", chatID)

	defer func() {
		ws.mu.Lock()
		delete(ws.clients, client)
		ws.mu.Unlock()
		conn.Close()
		ws.logger.Debug("websocket client disconnected", "chat_id", chatID)
	}()

	client.send(WSMessage{Type: "status", Content: "connected", ChatID: chatID})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Warn("websocket read error", "chat_id", chatID, "err", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "message" {
			client.send(WSMessage{Type: "error", Content: `expected {"type":"message","content":"..."}`})
			continue
		}

		ctx, cancel := context.WithTimeout(r.Context(), wsWriteTimeout)
		err = bus.Publish(ctx, domain.InboundMessage{
			Channel:   wsChannelName,
			ChatID:    chatID,
			SenderID:  chatID,
			Content:   msg.Content,
			Timestamp: time.Now(),
		})
		cancel()
		if err != nil {
			ws.logger.Warn("websocket message dropped", "chat_id", chatID, "err", err)
			client.send(WSMessage{Type: "error", Content: "Sorry, I'm busy right now. Please try again in a moment."})
		}
	}
}

func (ws *WebSocket) sendToChat(chatID string, msg WSMessage) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	for c := range ws.clients {
		if c.chatID == chatID {
			if err := c.send(msg); err != nil {
				ws.logger.Debug("websocket write failed", "chat_id", chatID, "err", err)
			}
		}
	}
}

// CloseAll drops every connection. Hijacked connections are not closed by
// http.Server.Shutdown.
func (ws *WebSocket) CloseAll() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for c := range ws.clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
		delete(ws.clients, c)
	}
}

func (c *wsClient) send(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
