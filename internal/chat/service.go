// Package chat turns user utterances into FAQ answers and records both sides
// of the exchange in the conversation store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"faqbot/internal/bus"
	"faqbot/internal/domain"
	"faqbot/internal/faq"
)

// ErrEmptyMessage rejects blank utterances before anything is stored.
var ErrEmptyMessage = errors.New("message cannot be empty")

// Matcher answers a query. *faq.Engine implements it.
type Matcher interface {
	Match(query string, threshold float64) (domain.MatchResult, error)
}

type ServiceConfig struct {
	Matcher   Matcher
	Store     domain.ConversationStore
	Threshold float64       // within [0, 1]; faq.DefaultThreshold is the usual choice
	Events    *bus.EventBus // optional activity feed
	NewID     func() string // default uuid.NewString
	Logger    *slog.Logger
}

// Reply is the outcome of one exchange.
type Reply struct {
	ConversationID  string  `json:"conversation_id"`
	Message         string  `json:"message"`
	MatchedQuestion string  `json:"matched_question,omitempty"`
	Score           float64 `json:"score"`
	Fallback        bool    `json:"fallback"`
}

type Service struct {
	matcher   Matcher
	store     domain.ConversationStore
	threshold float64
	events    *bus.EventBus
	newID     func() string
	logger    *slog.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Matcher == nil || cfg.Store == nil {
		return nil, fmt.Errorf("chat service: matcher and store are required")
	}
	if math.IsNaN(cfg.Threshold) || cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("chat service: %w: got %v", faq.ErrInvalidThreshold, cfg.Threshold)
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		matcher:   cfg.Matcher,
		store:     cfg.Store,
		threshold: cfg.Threshold,
		events:    cfg.Events,
		newID:     cfg.NewID,
		logger:    cfg.Logger,
	}, nil
}

// Reply answers text within conversationID, generating a new ID when it is
// empty. The user message is stored as sent before matching and the answer
// after; a store failure is returned and no answer is given.
func (s *Service) Reply(ctx context.Context, conversationID, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}
	if conversationID == "" {
		conversationID = s.newID()
	}

	if err := s.store.Append(ctx, conversationID, domain.RoleUser, text); err != nil {
		return Reply{}, fmt.Errorf("store user message: %w", err)
	}

	res, err := s.matcher.Match(text, s.threshold)
	if err != nil {
		return Reply{}, err
	}

	if err := s.store.Append(ctx, conversationID, domain.RoleBot, res.Answer); err != nil {
		return Reply{}, fmt.Errorf("store bot message: %w", err)
	}

	event := bus.EventMessageAnswered
	if res.Fallback {
		event = bus.EventMessageFallback
	}
	s.emit(event, map[string]any{
		"conversation": conversationID,
		"question":     res.MatchedQuestion,
		"score":        res.Score,
	})
	s.logger.Debug("reply sent", "conversation", conversationID, "score", res.Score, "fallback", res.Fallback)

	return Reply{
		ConversationID:  conversationID,
		Message:         res.Answer,
		MatchedQuestion: res.MatchedQuestion,
		Score:           res.Score,
		Fallback:        res.Fallback,
	}, nil
}

// StartConversation creates an empty conversation under a fresh ID.
func (s *Service) StartConversation(ctx context.Context) (string, error) {
	id := s.newID()
	if err := s.ResetConversation(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

// ResetConversation empties the conversation, creating it if needed.
func (s *Service) ResetConversation(ctx context.Context, id string) error {
	if err := s.store.Create(ctx, id); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	s.emit(bus.EventConversationStarted, map[string]any{"conversation": id})
	return nil
}

func (s *Service) History(ctx context.Context, id string) (*domain.Conversation, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) EndConversation(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	s.emit(bus.EventConversationEnded, map[string]any{"conversation": id})
	return nil
}

func (s *Service) emit(eventType string, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Emit(bus.Event{Type: eventType, Source: "chat", Payload: payload})
}
