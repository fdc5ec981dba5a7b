package channel

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"faqbot/internal/bus"
	"faqbot/internal/chat"
)

func startWebSocket(t *testing.T) *httptest.Server {
	t.Helper()
	f := newWebFixture(t, nil, WebAuth{})
	b := bus.New(16, testLogger())
	ws := NewWebSocket(testLogger())
	ws.Attach(b)

	loop := chat.NewLoop(chat.LoopConfig{Service: f.service, Bus: b, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()

	srv := httptest.NewServer(ws)
	t.Cleanup(func() {
		ws.CloseAll()
		srv.Close()
		cancel()
		<-done
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestWebSocket_AnswersThroughLoop(t *testing.T) {
	srv := startWebSocket(t)
	conn := dial(t, srv, "?chat_id=room1")

	if status := readFrame(t, conn); status.Type != "status" || status.ChatID != "room1" {
		t.Fatalf("unexpected greeting %+v", status)
	}

	if err := conn.WriteJSON(WSMessage{Type: "message", Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	reply := readFrame(t, conn)
	if reply.Type != "message" || reply.Content != "Hi there" {
		t.Errorf("unexpected reply %+v", reply)
	}
}

func TestWebSocket_RepliesOnlyToOwnChat(t *testing.T) {
	srv := startWebSocket(t)
	a := dial(t, srv, "?chat_id=a")
	b := dial(t, srv, "?chat_id=b")
	readFrame(t, a)
	readFrame(t, b)

	a.WriteJSON(WSMessage{Type: "message", Content: "hello"})
	if reply := readFrame(t, a); reply.Content != "Hi there" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	b.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := b.ReadMessage(); err == nil {
		t.Error("chat b should not receive chat a's reply")
	}
}

func TestWebSocket_GeneratesChatID(t *testing.T) {
	srv := startWebSocket(t)
	conn := dial(t, srv, "")
	if status := readFrame(t, conn); status.ChatID == "" {
		t.Error("expected a generated chat id")
	}
}

func TestWebSocket_BadFrame(t *testing.T) {
	srv := startWebSocket(t)
	conn := dial(t, srv, "?chat_id=x")
	readFrame(t, conn)

	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	if msg := readFrame(t, conn); msg.Type != "error" {
		t.Errorf("expected error frame, got %+v", msg)
	}
}
