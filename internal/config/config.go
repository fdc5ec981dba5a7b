package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for faqbot.
type Config struct {
	General      GeneralConfig      `json:"general"`
	FAQ          FAQConfig          `json:"faq"`
	Conversation ConversationConfig `json:"conversation"`
	Channels     ChannelsConfig     `json:"channels"`
	Metrics      MetricsConfig      `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string  `json:"logLevel"`
	LogFile               string  `json:"logFile,omitempty"` // optional log file path
	MaxConcurrentMessages int     `json:"maxConcurrentMessages"`
	RateBurst             int     `json:"rateBurst"`          // per-chat message burst
	RatePerMinute         float64 `json:"rateLimitPerMinute"` // per-chat refill rate
}

// FAQConfig configures the dataset and the matcher.
type FAQConfig struct {
	DatasetPath  string   `json:"datasetPath,omitempty"` // empty = built-in starter dataset
	Threshold    float64  `json:"threshold"`
	WatchDataset bool     `json:"watchDataset"`
	CacheSize    int      `json:"cacheSize"` // hot-query cache entries, 0 disables it
	Fallbacks    []string `json:"fallbacks,omitempty"`
}

type ConversationConfig struct {
	Driver               string      `json:"driver"` // "memory" | "sqlite" | "redis"
	TTLSeconds           int         `json:"ttlSeconds"`
	OpTimeoutSeconds     int         `json:"opTimeoutSeconds"`
	PurgeIntervalSeconds int         `json:"purgeIntervalSeconds"`
	SQLitePath           string      `json:"sqlitePath,omitempty"`
	Redis                RedisConfig `json:"redis"`
}

type RedisConfig struct {
	URL      string `json:"url,omitempty"` // redis://... or host:port
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
}

// TTL returns the conversation retention window.
func (c ConversationConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c ConversationConfig) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutSeconds) * time.Second
}

func (c ConversationConfig) PurgeInterval() time.Duration {
	return time.Duration(c.PurgeIntervalSeconds) * time.Second
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
	Web      WebConfig      `json:"web"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildID,omitempty"` // empty = all guilds
}

// SlackConfig uses Socket Mode, which needs both a bot and an app token.
type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type WebConfig struct {
	Enabled     bool    `json:"enabled"`
	Host        string  `json:"host"`
	Port        int     `json:"port"`
	MaxUploadMB int     `json:"maxUploadMB"`
	WebSocket   bool    `json:"websocket"` // serve chat at /ws
	Auth        WebAuth `json:"auth"`
}

// WebAuth protects dataset uploads with HTTP Basic auth.
type WebAuth struct {
	Enabled      bool   `json:"enabled"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"` // hex SHA-256 of the password
}

// MetricsConfig configures the Prometheus endpoint on the web channel.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.faqbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".faqbot"
	}
	return filepath.Join(home, ".faqbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.FAQ.DatasetPath = ExpandPath(cfg.FAQ.DatasetPath)
	cfg.Conversation.SQLitePath = ExpandPath(cfg.Conversation.SQLitePath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.RateBurst < 1 {
		errs = append(errs, "general.rateBurst must be >= 1")
	}
	if cfg.General.RatePerMinute <= 0 {
		errs = append(errs, "general.rateLimitPerMinute must be > 0")
	}

	if math.IsNaN(cfg.FAQ.Threshold) || cfg.FAQ.Threshold < 0 || cfg.FAQ.Threshold > 1 {
		errs = append(errs, "faq.threshold must be between 0 and 1")
	}
	if cfg.FAQ.CacheSize < 0 {
		errs = append(errs, "faq.cacheSize must be >= 0")
	}
	if cfg.FAQ.WatchDataset && cfg.FAQ.DatasetPath == "" {
		errs = append(errs, "faq.watchDataset requires faq.datasetPath")
	}

	conv := cfg.Conversation
	switch conv.Driver {
	case "memory":
	case "sqlite":
		if conv.SQLitePath == "" {
			errs = append(errs, "conversation.sqlitePath is required for the sqlite driver")
		}
	case "redis":
		if conv.Redis.URL == "" {
			errs = append(errs, "conversation.redis.url is required for the redis driver")
		}
	default:
		errs = append(errs, "conversation.driver must be one of: memory, sqlite, redis")
	}
	if conv.TTLSeconds < 1 {
		errs = append(errs, "conversation.ttlSeconds must be >= 1")
	}
	if conv.OpTimeoutSeconds < 0 {
		errs = append(errs, "conversation.opTimeoutSeconds must be >= 0")
	}

	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, "channels.web.port must be between 0 and 65535")
	}
	if cfg.Channels.Web.MaxUploadMB < 1 || cfg.Channels.Web.MaxUploadMB > 1024 {
		errs = append(errs, "channels.web.maxUploadMB must be between 1 and 1024")
	}
	if a := cfg.Channels.Web.Auth; a.Enabled && (a.Username == "" || a.PasswordHash == "") {
		errs = append(errs, "channels.web.auth requires username and passwordHash when enabled")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when discord is enabled")
	}
	if s := cfg.Channels.Slack; s.Enabled && (s.BotToken == "" || s.AppToken == "") {
		errs = append(errs, "channels.slack requires botToken and appToken when enabled")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
