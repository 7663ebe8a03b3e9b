package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ProviderOllama     = "ollama"
	ProviderOpenRouter = "openrouter"
)

const (
	DefaultTemperature      = 0.7
	MinTemperature          = 0.0
	MaxTemperature          = 2.0
	DefaultMaxTokens        = 500
	MinMaxTokens            = 1
	MaxMaxTokens            = 4000
	DefaultRequestTimeout   = 30 * time.Second
	DefaultMaxRetries       = 2
	DefaultRateWindow       = 60 * time.Second
	DefaultRateMaxRequests  = 10
	DefaultMaxMessages      = 10
	DefaultContextTTL       = 30 * time.Minute
	DefaultMaxMessageLength = 4000
	DefaultSweepInterval    = 5 * time.Minute
	DefaultFloodMaxWait     = 300 * time.Second
	DefaultFloodMaxRetries  = 2
	DefaultMessagesPerSec   = 20
)

type Config struct {
	Bot         BotConfig         `mapstructure:"bot"`
	AI          AIConfig          `mapstructure:"ai"`
	Trigger     TriggerConfig     `mapstructure:"trigger"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Context     ContextConfig     `mapstructure:"context"`
	Security    SecurityConfig    `mapstructure:"security"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	I18n        I18nConfig        `mapstructure:"i18n"`
}

type BotConfig struct {
	Token         string        `mapstructure:"token"`
	OwnerID       string        `mapstructure:"owner_id"`
	Webhook       WebhookConfig `mapstructure:"webhook"`
	UpdateTimeout int           `mapstructure:"update_timeout"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Port    int    `mapstructure:"port"`
}

// AIConfig selects and tunes the generation backend.
type AIConfig struct {
	Enabled        bool             `mapstructure:"enabled"`
	Provider       string           `mapstructure:"provider"`
	Temperature    float64          `mapstructure:"temperature"`
	MaxTokens      int              `mapstructure:"max_tokens"`
	RequestTimeout time.Duration    `mapstructure:"request_timeout"`
	MaxRetries     int              `mapstructure:"max_retries"`
	Ollama         OllamaConfig     `mapstructure:"ollama"`
	OpenRouter     OpenRouterConfig `mapstructure:"openrouter"`
}

type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type OpenRouterConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	Referer string `mapstructure:"referer"`
	Title   string `mapstructure:"title"`
}

type TriggerConfig struct {
	AllowedChats    []string `mapstructure:"allowed_chats"`
	TriggerWords    []string `mapstructure:"trigger_words"`
	RespondInGroups bool     `mapstructure:"respond_in_groups"`
}

type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
}

type ContextConfig struct {
	MaxMessages int           `mapstructure:"max_messages"`
	TTL         time.Duration `mapstructure:"ttl"`
}

type SecurityConfig struct {
	MaxMessageLength int `mapstructure:"max_message_length"`
}

type DeliveryConfig struct {
	MessagesPerSecond float64       `mapstructure:"messages_per_second"`
	FloodMaxWait      time.Duration `mapstructure:"flood_max_wait"`
	FloodMaxRetries   int           `mapstructure:"flood_max_retries"`
}

type MaintenanceConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
	Directory       string `mapstructure:"directory"`
}

// SetDefaults registers every default on v so a partial config file is enough.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("bot.update_timeout", 60)

	v.SetDefault("ai.enabled", true)
	v.SetDefault("ai.provider", ProviderOllama)
	v.SetDefault("ai.temperature", DefaultTemperature)
	v.SetDefault("ai.max_tokens", DefaultMaxTokens)
	v.SetDefault("ai.request_timeout", DefaultRequestTimeout)
	v.SetDefault("ai.max_retries", DefaultMaxRetries)
	v.SetDefault("ai.ollama.base_url", "http://localhost:11434")
	v.SetDefault("ai.ollama.model", "llama3.1")
	v.SetDefault("ai.openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("ai.openrouter.model", "meta-llama/llama-3.1-8b-instruct")

	v.SetDefault("trigger.trigger_words", []string{"bot", "бот"})
	v.SetDefault("trigger.respond_in_groups", false)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.window", DefaultRateWindow)
	v.SetDefault("rate_limit.max_requests", DefaultRateMaxRequests)

	v.SetDefault("context.max_messages", DefaultMaxMessages)
	v.SetDefault("context.ttl", DefaultContextTTL)

	v.SetDefault("security.max_message_length", DefaultMaxMessageLength)

	v.SetDefault("delivery.messages_per_second", DefaultMessagesPerSec)
	v.SetDefault("delivery.flood_max_wait", DefaultFloodMaxWait)
	v.SetDefault("delivery.flood_max_retries", DefaultFloodMaxRetries)

	v.SetDefault("maintenance.sweep_interval", DefaultSweepInterval)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "uk")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.BindEnv("bot.token", "BOT_TOKEN")
	v.BindEnv("bot.owner_id", "OWNER_ID")
	v.BindEnv("ai.provider", "AI_PROVIDER")
	v.BindEnv("ai.openrouter.api_key", "OPENROUTER_API_KEY")
	v.BindEnv("ai.ollama.base_url", "OLLAMA_BASE_URL")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	Normalize(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Normalize clamps numeric settings into their accepted ranges. Out-of-range
// values never fail the load.
func Normalize(cfg *Config) {
	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))
	cfg.AI.Temperature = clampFloat(cfg.AI.Temperature, MinTemperature, MaxTemperature)
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = DefaultMaxTokens
	}
	cfg.AI.MaxTokens = clampInt(cfg.AI.MaxTokens, MinMaxTokens, MaxMaxTokens)
	if cfg.AI.RequestTimeout <= 0 {
		cfg.AI.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.AI.MaxRetries < 0 {
		cfg.AI.MaxRetries = DefaultMaxRetries
	}

	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = DefaultRateWindow
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		cfg.RateLimit.MaxRequests = DefaultRateMaxRequests
	}

	if cfg.Context.MaxMessages <= 0 {
		cfg.Context.MaxMessages = DefaultMaxMessages
	}
	if cfg.Context.TTL <= 0 {
		cfg.Context.TTL = DefaultContextTTL
	}

	if cfg.Security.MaxMessageLength <= 0 {
		cfg.Security.MaxMessageLength = DefaultMaxMessageLength
	}

	if cfg.Delivery.MessagesPerSecond <= 0 {
		cfg.Delivery.MessagesPerSecond = DefaultMessagesPerSec
	}
	if cfg.Delivery.FloodMaxWait <= 0 {
		cfg.Delivery.FloodMaxWait = DefaultFloodMaxWait
	}
	if cfg.Delivery.FloodMaxRetries < 0 {
		cfg.Delivery.FloodMaxRetries = DefaultFloodMaxRetries
	}

	if cfg.Maintenance.SweepInterval <= 0 {
		cfg.Maintenance.SweepInterval = DefaultSweepInterval
	}

	cfg.Bot.OwnerID = strings.TrimSpace(cfg.Bot.OwnerID)
	cfg.Trigger.AllowedChats = compact(cfg.Trigger.AllowedChats)
	cfg.Trigger.TriggerWords = compact(cfg.Trigger.TriggerWords)
}

func validateConfig(cfg *Config) error {
	if cfg.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	switch cfg.AI.Provider {
	case ProviderOllama, ProviderOpenRouter:
	default:
		return fmt.Errorf("unsupported ai provider: %q", cfg.AI.Provider)
	}
	return nil
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
