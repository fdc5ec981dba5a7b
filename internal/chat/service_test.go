package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"faqbot/internal/bus"
	"faqbot/internal/conversation"
	"faqbot/internal/domain"
	"faqbot/internal/faq"
	"faqbot/internal/nlp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedRand struct{}

func (fixedRand) Intn(int) int { return 0 }

func newEngine(t *testing.T) *faq.Engine {
	t.Helper()
	h := faq.NewHolder(nlp.NewNormalizer(), testLogger())
	if _, err := h.Rebuild([]domain.FAQItem{
		{Question: "Hello", Answer: "Hi there"},
		{Question: "What is your refund policy?", Answer: "Refunds within 30 days."},
	}); err != nil {
		t.Fatal(err)
	}
	e, err := faq.NewEngine(faq.EngineConfig{Index: h, Rand: fixedRand{}, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func newService(t *testing.T, store domain.ConversationStore, events *bus.EventBus) *Service {
	t.Helper()
	n := 0
	s, err := NewService(ServiceConfig{
		Matcher:   newEngine(t),
		Store:     store,
		Threshold: faq.DefaultThreshold,
		Events:    events,
		NewID: func() string {
			n++
			return "generated-" + string(rune('0'+n))
		},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func memoryStore(t *testing.T) domain.ConversationStore {
	s := conversation.NewMemoryStore(conversation.MemoryConfig{PurgeInterval: -1, Logger: testLogger()})
	t.Cleanup(func() { s.Close() })
	return s
}

// brokenStore fails every call as an unreachable backend would.
type brokenStore struct{ appends int }

func (b *brokenStore) Create(context.Context, string) error { return domain.ErrStoreUnavailable }
func (b *brokenStore) Append(context.Context, string, domain.Role, string) error {
	b.appends++
	return domain.ErrStoreUnavailable
}
func (b *brokenStore) Get(context.Context, string) (*domain.Conversation, error) {
	return nil, domain.ErrStoreUnavailable
}
func (b *brokenStore) Delete(context.Context, string) error { return domain.ErrStoreUnavailable }
func (b *brokenStore) Close() error                         { return nil }

func TestReply_RecordsBothSides(t *testing.T) {
	store := memoryStore(t)
	s := newService(t, store, nil)
	ctx := context.Background()

	reply, err := s.Reply(ctx, "c1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Message != "Hi there" || reply.MatchedQuestion != "Hello" || reply.Fallback || reply.ConversationID != "c1" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	conv, err := s.History(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != domain.RoleUser || conv.Messages[0].Content != "hello" {
		t.Errorf("user message = %+v", conv.Messages[0])
	}
	if conv.Messages[1].Role != domain.RoleBot || conv.Messages[1].Content != "Hi there" {
		t.Errorf("bot message = %+v", conv.Messages[1])
	}
}

func TestReply_StoresMessageAsSent(t *testing.T) {
	s := newService(t, memoryStore(t), nil)
	ctx := context.Background()

	const sent = "  hello \n"
	reply, err := s.Reply(ctx, "c1", sent)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Message != "Hi there" {
		t.Fatalf("padding should not change the match, got %+v", reply)
	}
	conv, err := s.History(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got := conv.Messages[0].Content; got != sent {
		t.Fatalf("stored user message = %q, want %q", got, sent)
	}
}

func TestReply_GeneratesConversationID(t *testing.T) {
	s := newService(t, memoryStore(t), nil)
	reply, err := s.Reply(context.Background(), "", "refund policy")
	if err != nil {
		t.Fatal(err)
	}
	if reply.ConversationID != "generated-1" {
		t.Fatalf("expected generated id, got %q", reply.ConversationID)
	}
	if reply.Message != "Refunds within 30 days." {
		t.Fatalf("unexpected answer %q", reply.Message)
	}
}

func TestReply_Fallback(t *testing.T) {
	s := newService(t, memoryStore(t), nil)
	reply, err := s.Reply(context.Background(), "c", "zzqx gibberish")
	if err != nil {
		t.Fatal(err)
	}
	if !reply.Fallback || reply.Message != faq.DefaultFallbacks[0] || reply.MatchedQuestion != "" {
		t.Fatalf("expected fallback reply, got %+v", reply)
	}
}

func TestReply_EmptyMessage(t *testing.T) {
	store := memoryStore(t)
	s := newService(t, store, nil)
	if _, err := s.Reply(context.Background(), "c", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := store.Get(context.Background(), "c"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("empty message must not be stored")
	}
}

func TestReply_StoreUnavailableSurfaces(t *testing.T) {
	store := &brokenStore{}
	s := newService(t, store, nil)
	reply, err := s.Reply(context.Background(), "c", "hello")
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if reply.Message != "" {
		t.Fatalf("no answer should be returned on store failure, got %q", reply.Message)
	}
	if store.appends != 1 {
		t.Fatalf("expected to stop after the failed user append, got %d appends", store.appends)
	}
}

func TestConversationLifecycle(t *testing.T) {
	events := bus.NewEventBus(0, testLogger())
	s := newService(t, memoryStore(t), events)
	ctx := context.Background()

	id, err := s.StartConversation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	conv, err := s.History(ctx, id)
	if err != nil || len(conv.Messages) != 0 {
		t.Fatalf("expected empty conversation, got %+v, %v", conv, err)
	}
	if _, err := s.Reply(ctx, id, "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Reply(ctx, id, "qqq"); err != nil {
		t.Fatal(err)
	}
	if err := s.EndConversation(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.History(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after end, got %v", err)
	}

	var types []string
	for _, e := range events.Replay("*", time.Time{}, 0) {
		types = append(types, e.Type)
	}
	want := []string{
		bus.EventConversationStarted,
		bus.EventMessageAnswered,
		bus.EventMessageFallback,
		bus.EventConversationEnded,
	}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
}

func TestNewService_Validation(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatal("expected error without matcher and store")
	}
	_, err := NewService(ServiceConfig{Matcher: newEngine(t), Store: memoryStore(t), Threshold: 1.5})
	if !errors.Is(err, faq.ErrInvalidThreshold) {
		t.Fatalf("expected ErrInvalidThreshold, got %v", err)
	}
}
