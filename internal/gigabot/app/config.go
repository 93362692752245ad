package app

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/gigabot/common/environment"
)

// Config holds the full application configuration. Values come from three
// layers: built-in defaults, an optional YAML file, then environment
// variables. Environment always wins.
type Config struct {
	// DatabasePath is the SQLite file holding users, contexts, and runtime
	// config. Defaults to ./gigabot.db.
	DatabasePath string `yaml:"database_path"`

	// TelegramToken is the bot token issued by BotFather. Required.
	TelegramToken string `yaml:"telegram_token"`

	// GigaChatAuthKey is the long-lived base64 authorization key used to
	// mint access tokens. Required.
	GigaChatAuthKey string `yaml:"gigachat_auth_key"`

	// GigaChatBaseURL and OAuthURL override the provider endpoints; empty
	// means the Sber production defaults.
	GigaChatBaseURL string `yaml:"gigachat_base_url"`
	OAuthURL        string `yaml:"oauth_url"`

	// Model, Temperature, and TopP shape text completions.
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`

	// MaxTurns bounds the stored conversation window per user.
	MaxTurns int `yaml:"max_turns"`

	// SystemPrompt seeds every fresh conversation window. Empty means the
	// built-in assistant prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// StopToken ends a text dialogue; matched case-insensitively.
	StopToken string `yaml:"stop_token"`

	// ClearContextOnStop wipes a user's history when they stop a dialogue.
	ClearContextOnStop bool `yaml:"clear_context_on_stop"`

	// RateLimit is the maximum provider-bound requests per user per minute.
	RateLimit int `yaml:"rate_limit"`

	// ProviderTimeout bounds every GigaChat call; OAuthTimeout bounds token
	// minting.
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	OAuthTimeout    time.Duration `yaml:"oauth_timeout"`

	// PollTimeout is the Telegram long-poll duration.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// HTTPAddr is the TCP address for the optional health/status HTTP
	// server (e.g. ":8080"). Empty disables the server.
	HTTPAddr string `yaml:"http_addr"`
}

// Load builds the configuration: .env file (if present), then the optional
// YAML file named by GIGABOT_CONFIG_FILE, then environment variables on top.
func Load() (*Config, error) {
	// A missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath: "./gigabot.db",
	}

	if path := os.Getenv("GIGABOT_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges a YAML config file into cfg.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("app: read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("app: parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables on top of the current values.
func (c *Config) applyEnv() {
	c.DatabasePath = environment.StringOr("DATABASE_PATH", c.DatabasePath)
	c.TelegramToken = environment.StringOr("TELEGRAM_TOKEN", c.TelegramToken)
	c.GigaChatAuthKey = environment.StringOr("GIGACHAT_AUTH_KEY", c.GigaChatAuthKey)
	c.GigaChatBaseURL = environment.StringOr("GIGACHAT_BASE_URL", c.GigaChatBaseURL)
	c.OAuthURL = environment.StringOr("GIGACHAT_OAUTH_URL", c.OAuthURL)
	c.Model = environment.StringOr("GIGACHAT_MODEL", c.Model)
	c.Temperature = environment.FloatOr("GIGACHAT_TEMPERATURE", c.Temperature)
	c.TopP = environment.FloatOr("GIGACHAT_TOP_P", c.TopP)
	c.MaxTurns = environment.IntOr("MAX_TURNS", c.MaxTurns)
	c.SystemPrompt = environment.StringOr("SYSTEM_PROMPT", c.SystemPrompt)
	c.StopToken = environment.StringOr("STOP_TOKEN", c.StopToken)
	c.ClearContextOnStop = environment.BoolOr("CLEAR_CONTEXT_ON_STOP", c.ClearContextOnStop)
	c.RateLimit = environment.IntOr("RATE_LIMIT", c.RateLimit)
	c.ProviderTimeout = environment.DurationOr("PROVIDER_TIMEOUT", c.ProviderTimeout)
	c.OAuthTimeout = environment.DurationOr("OAUTH_TIMEOUT", c.OAuthTimeout)
	c.PollTimeout = environment.DurationOr("POLL_TIMEOUT", c.PollTimeout)
	c.HTTPAddr = environment.StringOr("HTTP_ADDR", c.HTTPAddr)
}

// Validate checks the configuration for internal consistency. Defaults for
// empty optional fields are applied downstream by each component.
func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("app: TELEGRAM_TOKEN is required")
	}
	if c.GigaChatAuthKey == "" {
		return fmt.Errorf("app: GIGACHAT_AUTH_KEY is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("app: database path must not be empty")
	}
	if c.MaxTurns < 0 {
		return fmt.Errorf("app: max_turns must not be negative")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("app: temperature %v out of range [0, 2]", c.Temperature)
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("app: top_p %v out of range [0, 1]", c.TopP)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("app: rate_limit must not be negative")
	}
	return nil
}
