package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"faqbot/internal/bus"
	"faqbot/internal/channel"
	"faqbot/internal/chat"
	"faqbot/internal/config"
	"faqbot/internal/conversation"
	"faqbot/internal/domain"
	"faqbot/internal/faq"
	"faqbot/internal/nlp"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chatbot (web, Telegram and the chat loop)",
		Long:  "Builds the FAQ index, opens the conversation store and starts all enabled channels. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

// loadIndex builds the FAQ index from path, or from the starter dataset
// when path is empty.
func loadIndex(path string, log *slog.Logger) (*faq.Holder, error) {
	holder := faq.NewHolder(nlp.NewNormalizer(), log)
	items := faq.DefaultItems()
	if path != "" {
		var err error
		if items, err = faq.LoadFile(path); err != nil {
			return nil, err
		}
	}
	idx, err := holder.Rebuild(items)
	if err != nil {
		return nil, fmt.Errorf("build FAQ index: %w", err)
	}
	log.Info("FAQ index ready", "source", datasetLabel(path), "entries", idx.Len(), "dropped", idx.Dropped())
	return holder, nil
}

func datasetLabel(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}

func storeOptions(cfg *config.Config, log *slog.Logger) conversation.Options {
	c := cfg.Conversation
	return conversation.Options{
		Driver:        c.Driver,
		TTL:           c.TTL(),
		OpTimeout:     c.OpTimeout(),
		PurgeInterval: c.PurgeInterval(),
		SQLitePath:    c.SQLitePath,
		RedisURL:      c.Redis.URL,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		Logger:        log,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOrDefaults()
	if err != nil {
		return err
	}
	log, logCloser, err := newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	holder, err := loadIndex(cfg.FAQ.DatasetPath, logger)
	if err != nil {
		return err
	}
	engine, err := faq.NewEngine(faq.EngineConfig{
		Index:     holder,
		Fallbacks: cfg.FAQ.Fallbacks,
		CacheSize: cfg.FAQ.CacheSize,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	store, err := conversation.Open(ctx, storeOptions(cfg, logger))
	if err != nil {
		return fmt.Errorf("conversation store: %w", err)
	}
	defer store.Close()

	events := bus.NewEventBus(0, logger)
	service, err := chat.NewService(chat.ServiceConfig{
		Matcher:   engine,
		Store:     store,
		Threshold: cfg.FAQ.Threshold,
		Events:    events,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	messageBus := bus.New(100, logger)
	defer messageBus.Close()

	g, gctx := errgroup.WithContext(ctx)

	loop := chat.NewLoop(chat.LoopConfig{
		Service:       service,
		Bus:           messageBus,
		Concurrency:   cfg.General.MaxConcurrentMessages,
		RateBurst:     cfg.General.RateBurst,
		RatePerMinute: cfg.General.RatePerMinute,
		OpTimeout:     cfg.Conversation.OpTimeout(),
		Logger:        logger,
	})
	g.Go(func() error { return loop.Run(gctx) })

	if cfg.FAQ.WatchDataset {
		watcher, err := faq.NewWatcher(faq.WatcherConfig{
			Path:   cfg.FAQ.DatasetPath,
			Holder: holder,
			Logger: logger,
			OnReload: func(idx *faq.Index, err error) {
				if err != nil {
					events.Emit(bus.Event{Type: bus.EventIndexRejected, Source: "watcher",
						Payload: map[string]any{"file": cfg.FAQ.DatasetPath, "error": err.Error()}})
					return
				}
				events.Emit(bus.Event{Type: bus.EventIndexPublished, Source: "watcher",
					Payload: map[string]any{"file": cfg.FAQ.DatasetPath, "entries": idx.Len(), "generation": idx.Generation()}})
			},
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if cfg.Channels.Web.Enabled {
		web := cfg.Channels.Web
		metricsPath := ""
		if cfg.Metrics.Enabled {
			metricsPath = cfg.Metrics.Endpoint
		}
		var ws *channel.WebSocket
		if web.WebSocket {
			ws = channel.NewWebSocket(logger)
		}
		webCh := channel.NewWeb(channel.WebConfig{
			Host:           web.Host,
			Port:           web.Port,
			Service:        service,
			Index:          holder,
			Events:         events,
			WebSocket:      ws,
			MaxUploadBytes: int64(web.MaxUploadMB) << 20,
			MetricsPath:    metricsPath,
			Auth: channel.WebAuth{
				Enabled:      web.Auth.Enabled,
				Username:     web.Auth.Username,
				PasswordHash: web.Auth.PasswordHash,
			},
			Version: version,
			Logger:  logger,
		})
		g.Go(func() error {
			if err := webCh.Start(gctx, messageBus); err != nil {
				return fmt.Errorf("web channel: %w", err)
			}
			return nil
		})
	}

	var bots []domain.Channel
	if tg := cfg.Channels.Telegram; tg.Enabled {
		bots = append(bots, channel.NewTelegram(channel.TelegramConfig{
			Token:     tg.Token,
			AllowFrom: tg.AllowFrom,
			Logger:    logger,
		}))
	}
	if dc := cfg.Channels.Discord; dc.Enabled {
		bots = append(bots, channel.NewDiscord(channel.DiscordConfig{
			Token:   dc.Token,
			GuildID: dc.GuildID,
			Logger:  logger,
		}))
	}
	if sl := cfg.Channels.Slack; sl.Enabled {
		bots = append(bots, channel.NewSlack(channel.SlackConfig{
			BotToken: sl.BotToken,
			AppToken: sl.AppToken,
			Logger:   logger,
		}))
	}
	for _, bot := range bots {
		g.Go(func() error {
			// A bad token should not take the other channels down with it.
			if err := bot.Start(gctx, messageBus); err != nil {
				logger.Error("channel error", "channel", bot.Name(), "err", err)
			}
			return nil
		})
		logger.Info("channel enabled", "channel", bot.Name())
	}

	logger.Info("faqbot started. Press Ctrl+C to stop.", "version", version, "store", cfg.Conversation.Driver)

	<-gctx.Done()
	logger.Info("shutting down...")

	// Channels and the loop stop on gctx; wait for in-flight work.
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		logger.Info("shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}
