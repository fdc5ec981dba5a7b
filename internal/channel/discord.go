package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"faqbot/internal/domain"
)

const discordMaxMsgLen = 2000

// Discord implements domain.Channel for a Discord bot. Channel messages,
// DMs and the /ask slash command are forwarded to the bus.
type Discord struct {
	token   string
	guildID string // empty = every guild
	session *discordgo.Session
	bus     domain.MessageBus
	logger  *slog.Logger
}

type DiscordConfig struct {
	Token   string
	GuildID string
	Logger  *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to the Discord gateway and blocks until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session

	bus.OnOutbound(d.Name(), func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		d.sendMessage(msg.ChatID, msg.Content)
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
			return
		}
		if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
			return
		}
		d.publish(ctx, m.ChannelID, m.Author.ID, m.Content)
	})

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		content := slashContent(i.ApplicationCommandData())
		s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: "> " + content},
		})
		d.publish(ctx, i.ChannelID, interactionUser(i), content)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)
	d.registerSlashCommands()

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

// Stop is a no-op: the session closes when Start's context is cancelled.
func (d *Discord) Stop() error { return nil }

func (d *Discord) Send(ctx context.Context, chatID string, content string) error {
	if d.session == nil {
		return fmt.Errorf("discord channel not started")
	}
	d.sendMessage(chatID, content)
	return nil
}

func (d *Discord) publish(ctx context.Context, channelID, userID, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	d.logger.Debug("discord message received", "channel_id", channelID, "content_len", len(content))

	pubCtx, cancel := context.WithTimeout(ctx, telegramPublishTimeout)
	defer cancel()
	err := d.bus.Publish(pubCtx, domain.InboundMessage{
		Channel:   d.Name(),
		ChatID:    channelID,
		SenderID:  userID,
		Content:   content,
		Timestamp: time.Now(),
	})
	if err != nil {
		d.logger.Warn("discord message dropped", "channel_id", channelID, "err", err)
	}
}

func (d *Discord) sendMessage(channelID, content string) {
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			d.logger.Error("discord send failed", "channel", channelID, "err", err)
		}
	}
}

// slashContent turns a slash command into chat text: /ask passes its
// question through, other commands become "/name".
func slashContent(data discordgo.ApplicationCommandInteractionData) string {
	var args []string
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			args = append(args, opt.StringValue())
		}
	}
	if data.Name == "ask" {
		return strings.Join(args, " ")
	}
	return strings.TrimSpace("/" + data.Name + " " + strings.Join(args, " "))
}

func interactionUser(i *discordgo.InteractionCreate) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	}
	return ""
}

func (d *Discord) registerSlashCommands() {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "ask",
			Description: "Ask a question",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "question",
				Description: "Your question",
				Required:    true,
			}},
		},
		{Name: "help", Description: "Show available commands"},
		{Name: "new", Description: "Start a new conversation"},
		{Name: "history", Description: "Show the current conversation"},
	}
	for _, cmd := range commands {
		if _, err := d.session.ApplicationCommandCreate(d.session.State.User.ID, d.guildID, cmd); err != nil {
			d.logger.Warn("failed to register slash command", "command", cmd.Name, "err", err)
		}
	}
}
