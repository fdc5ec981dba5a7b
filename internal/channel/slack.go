package channel

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"faqbot/internal/domain"
)

const slackMaxMsgLen = 4000

// Slack implements domain.Channel for Slack using Socket Mode.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	bus      domain.MessageBus
	logger   *slog.Logger
	botUID   string
}

type SlackConfig struct {
	BotToken string // xoxb-...
	AppToken string // xapp-..., required by Socket Mode
	Logger   *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects via Socket Mode and blocks until ctx is cancelled.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	s.client = api

	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = auth.UserID
	s.logger.Info("slack bot connected", "user", auth.User, "user_id", auth.UserID)

	bus.OnOutbound(s.Name(), func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		s.sendMessage(msg.ChatID, msg.Content)
	})

	socket := socketmode.New(api)
	go func() {
		for evt := range socket.Events {
			if evt.Request != nil {
				socket.Ack(*evt.Request)
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				if ev, ok := evt.Data.(slackevents.EventsAPIEvent); ok {
					s.handleEventsAPI(ctx, ev)
				}
			case socketmode.EventTypeSlashCommand:
				if cmd, ok := evt.Data.(slack.SlashCommand); ok {
					s.publish(ctx, cmd.ChannelID, cmd.UserID, slashCommandText(cmd))
				}
			}
		}
	}()

	if err := socket.RunContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("slack socket mode: %w", err)
	}
	s.logger.Info("slack bot disconnecting")
	return nil
}

// Stop is a no-op: Socket Mode stops when Start's context is cancelled.
func (s *Slack) Stop() error { return nil }

func (s *Slack) Send(ctx context.Context, chatID string, content string) error {
	if s.client == nil {
		return fmt.Errorf("slack channel not started")
	}
	s.sendMessage(chatID, content)
	return nil
}

func (s *Slack) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Only direct messages; channel traffic must mention the bot.
		if ev.User == "" || ev.User == s.botUID || ev.SubType != "" || ev.BotID != "" || ev.ChannelType != "im" {
			return
		}
		s.publish(ctx, ev.Channel, ev.User, ev.Text)
	case *slackevents.AppMentionEvent:
		if ev.User == s.botUID {
			return
		}
		s.publish(ctx, ev.Channel, ev.User, stripMentions(ev.Text))
	}
}

func (s *Slack) publish(ctx context.Context, channelID, userID, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	s.logger.Debug("slack message received", "channel", channelID, "content_len", len(content))

	pubCtx, cancel := context.WithTimeout(ctx, telegramPublishTimeout)
	defer cancel()
	err := s.bus.Publish(pubCtx, domain.InboundMessage{
		Channel:   s.Name(),
		ChatID:    channelID,
		SenderID:  userID,
		Content:   content,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.logger.Warn("slack message dropped", "channel", channelID, "err", err)
	}
}

func (s *Slack) sendMessage(channelID, content string) {
	for _, chunk := range splitMessage(content, slackMaxMsgLen) {
		if _, _, err := s.client.PostMessage(channelID, slack.MsgOptionText(chunk, false)); err != nil {
			s.logger.Error("slack send failed", "channel", channelID, "err", err)
		}
	}
}

var slackMention = regexp.MustCompile(`<@[A-Z0-9]+(\|[^>]*)?>`)

func stripMentions(text string) string {
	return strings.TrimSpace(slackMention.ReplaceAllString(text, ""))
}

// slashCommandText maps "/faq <question>" to the question and any other
// command to chat command syntax, so "/faq-help" reads as "/help".
func slashCommandText(cmd slack.SlashCommand) string {
	name := strings.TrimPrefix(cmd.Command, "/")
	if name == "faq" || name == "ask" {
		return cmd.Text
	}
	name = strings.TrimPrefix(name, "faq-")
	return strings.TrimSpace("/" + name + " " + cmd.Text)
}
