package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 8,
			RateBurst:             5,
			RatePerMinute:         30,
		},
		FAQ: FAQConfig{
			Threshold:    0.3,
			WatchDataset: false,
			CacheSize:    1024,
		},
		Conversation: ConversationConfig{
			Driver:               "memory",
			TTLSeconds:           86400,
			OpTimeoutSeconds:     5,
			PurgeIntervalSeconds: 600,
			SQLitePath:           "~/.faqbot/conversations.db",
			Redis: RedisConfig{
				URL: "localhost:6379",
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled: false,
			},
			Web: WebConfig{
				Enabled:     true,
				Host:        "127.0.0.1",
				Port:        8080,
				MaxUploadMB: 16,
				WebSocket:   true,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
