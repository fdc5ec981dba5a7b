package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"faqbot/internal/domain"
)

const (
	defaultConcurrency = 8
	defaultRateBurst   = 5
	defaultRatePerMin  = 30.0

	unavailableReply = "Sorry, I can't answer right now. Please try again in a moment."
	throttledReply   = "You're sending messages too quickly. Please wait a moment."
)

type LoopConfig struct {
	Service       *Service
	Bus           domain.MessageBus
	Concurrency   int           // max messages handled at once, default 8
	RateBurst     int           // per-chat burst, default 5
	RatePerMinute float64       // per-chat refill, default 30
	OpTimeout     time.Duration // bound on one message, 0 = none
	Logger        *slog.Logger
}

// Loop answers messages arriving on the bus from chat channels. Each
// channel chat maps to the conversation "<channel>:<chatID>".
type Loop struct {
	service     *Service
	bus         domain.MessageBus
	concurrency int
	limiter     *RateLimiter
	opTimeout   time.Duration
	logger      *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = defaultRatePerMin
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		service:     cfg.Service,
		bus:         cfg.Bus,
		concurrency: cfg.Concurrency,
		limiter:     NewRateLimiter(cfg.RateBurst, cfg.RatePerMinute),
		opTimeout:   cfg.OpTimeout,
		logger:      cfg.Logger,
	}
}

// ConversationID is the conversation used for a channel chat.
func ConversationID(channel, chatID string) string {
	return channel + ":" + chatID
}

// Run consumes inbound messages with bounded concurrency until ctx is done
// or the bus closes. It waits for in-flight messages before returning.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("chat loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()
	prune := time.NewTicker(10 * time.Minute)
	defer prune.Stop()

	defer func() {
		for i := 0; i < cap(sem); i++ {
			sem <- struct{}{}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("chat loop stopping")
			return nil
		case <-prune.C:
			l.limiter.Prune()
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, chat loop stopping")
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				l.processMessage(ctx, m)
			}(msg)
		}
	}
}

func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	if l.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opTimeout)
		defer cancel()
	}
	response := l.respond(ctx, msg)
	if response == "" {
		return
	}
	if err := l.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: response,
		Format:  "text",
	}); err != nil {
		l.logger.Error("deliver reply failed", "channel", msg.Channel, "chat", msg.ChatID, "err", err)
	}
}

// respond returns the text to send back, or "" for nothing.
func (l *Loop) respond(ctx context.Context, msg domain.InboundMessage) string {
	convID := ConversationID(msg.Channel, msg.ChatID)
	log := l.logger.With("conversation", convID)

	if !l.limiter.Allow(convID) {
		log.Warn("chat rate limited")
		return throttledReply
	}

	if cmd := ParseCommand(msg.Content); cmd != nil {
		response, handled, err := l.handleCommand(ctx, cmd, convID)
		if err != nil {
			log.Error("command failed", "command", cmd.Name, "err", err)
			return unavailableReply
		}
		if handled {
			return response
		}
	}

	reply, err := l.service.Reply(ctx, convID, msg.Content)
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return ""
	case err != nil:
		log.Error("reply failed", "err", err)
		return unavailableReply
	}
	log.Info("message answered", "fallback", reply.Fallback, "score", reply.Score)
	return reply.Message
}
