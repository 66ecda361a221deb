package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// MailConfig holds the SendClaw mail transport settings.
type MailConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	From    string `yaml:"from"`
	To      string `yaml:"to"`
}

// WeChatConfig holds the WeChat official account credentials.
type WeChatConfig struct {
	AppID        string `yaml:"app_id"`
	AppSecret    string `yaml:"app_secret"`
	Author       string `yaml:"author"`
	ThumbMediaID string `yaml:"thumb_media_id"`
}

// CommandTokens optionally overrides the reply command vocabulary.
type CommandTokens struct {
	Select     []string `yaml:"select"`
	Modify     []string `yaml:"modify"`
	Regenerate []string `yaml:"regenerate"`
	Skip       []string `yaml:"skip"`
	Discuss    []string `yaml:"discuss"`
}

// Config holds all application configuration.
type Config struct {
	Transport string `yaml:"transport"`

	TelegramToken  string     `yaml:"telegram_token"`
	TelegramChatID int64      `yaml:"telegram_chat_id"`
	Mail           MailConfig `yaml:"mail"`

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIModel   string `yaml:"openai_model"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	WeChat WeChatConfig `yaml:"wechat"`

	Topic          string   `yaml:"topic"`
	SourceURLs     []string `yaml:"source_urls"`
	CandidateCount int      `yaml:"candidate_count"`

	GenerateTime       string `yaml:"generate_time"`
	Timezone           string `yaml:"timezone"`
	PollIntervalSecs   int    `yaml:"poll_interval_secs"`
	ReviewTTLHours     int    `yaml:"review_ttl_hours"`
	MaxPublishRetries  int    `yaml:"max_publish_retries"`
	MaxGenerateRetries int    `yaml:"max_generate_retries"`
	FetchTimeoutSecs   int    `yaml:"fetch_timeout_secs"`

	Commands CommandTokens `yaml:"commands"`

	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
}

// generateTimeRegex validates HH:MM format with proper ranges.
var generateTimeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path from environment or default.
func GetConfigPath() string {
	if path := os.Getenv("REVIEW_BOT_CONFIG"); path != "" {
		return path
	}
	return "./config.yaml"
}

func applyDefaults(cfg *Config) {
	if cfg.Transport == "" {
		cfg.Transport = "telegram"
	}
	if cfg.Mail.BaseURL == "" {
		cfg.Mail.BaseURL = "https://sendclaw.com/api"
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.CandidateCount == 0 {
		cfg.CandidateCount = 3
	}
	if cfg.GenerateTime == "" {
		cfg.GenerateTime = "08:00"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Shanghai"
	}
	if cfg.PollIntervalSecs == 0 {
		cfg.PollIntervalSecs = 300
	}
	if cfg.ReviewTTLHours == 0 {
		cfg.ReviewTTLHours = 72
	}
	if cfg.MaxPublishRetries == 0 {
		cfg.MaxPublishRetries = 3
	}
	if cfg.MaxGenerateRetries == 0 {
		cfg.MaxGenerateRetries = 3
	}
	if cfg.FetchTimeoutSecs == 0 {
		cfg.FetchTimeoutSecs = 10
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./review-bot.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	if dbPath := os.Getenv("REVIEW_BOT_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = apiKey
	}
}

func validate(cfg *Config) error {
	switch cfg.Transport {
	case "telegram":
		if cfg.TelegramToken == "" {
			return fmt.Errorf("telegram_token is required")
		}
		if cfg.TelegramChatID == 0 {
			return fmt.Errorf("telegram_chat_id is required")
		}
	case "mail":
		if cfg.Mail.APIKey == "" {
			return fmt.Errorf("mail.api_key is required")
		}
		if cfg.Mail.From == "" || cfg.Mail.To == "" {
			return fmt.Errorf("mail.from and mail.to are required")
		}
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", "telegram", "mail", cfg.Transport)
	}

	if cfg.OpenAIAPIKey == "" {
		return fmt.Errorf("openai_api_key is required")
	}
	if cfg.WeChat.AppID == "" || cfg.WeChat.AppSecret == "" {
		return fmt.Errorf("wechat.app_id and wechat.app_secret are required")
	}
	if !generateTimeRegex.MatchString(cfg.GenerateTime) {
		return fmt.Errorf("generate_time must be in HH:MM format (00:00-23:59), got %q", cfg.GenerateTime)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.PollIntervalSecs < 0 {
		return fmt.Errorf("poll_interval_secs must be positive, got %d", cfg.PollIntervalSecs)
	}
	return nil
}
