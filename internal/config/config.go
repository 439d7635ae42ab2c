package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/susu3304/monkibaat/internal/story"
)

type Config struct {
	// Discord Bot
	DiscordToken   string `env:"DISCORD_TOKEN"`
	StoryChannelID string `env:"STORY_CHANNEL_ID"`

	// Discord OAuth2
	DiscordClientID     string `env:"DISCORD_CLIENT_ID"`
	DiscordClientSecret string `env:"DISCORD_CLIENT_SECRET"`
	DiscordRedirectURI  string `env:"DISCORD_REDIRECT_URI" envDefault:"http://localhost:3000/api/auth/callback"`

	// Storage; DATABASE_URL wins over SQLITE_PATH, neither means memory only
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH"`

	// Web Server
	WebBind        string   `env:"WEB_BIND" envDefault:"0.0.0.0:3000"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	// Session
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-only-change-me"`

	// Story rules
	MaxLines        int                   `env:"STORY_MAX_LINES" envDefault:"10"`
	RemainderPolicy story.RemainderPolicy
	RemainderRaw    string                `env:"STORY_REMAINDER_POLICY" envDefault:"first"`

	PayoutRetryInterval time.Duration `env:"PAYOUT_RETRY_INTERVAL" envDefault:"1m"`
	LogLevel            logrus.Level
	LogLevelRaw         string        `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) finish() error {
	if cfg.MaxLines <= 0 {
		return fmt.Errorf("STORY_MAX_LINES must be positive")
	}
	policy, err := story.ParseRemainderPolicy(cfg.RemainderRaw)
	if err != nil {
		return fmt.Errorf("STORY_REMAINDER_POLICY: %w", err)
	}
	cfg.RemainderPolicy = policy

	if cfg.PayoutRetryInterval <= 0 {
		return fmt.Errorf("PAYOUT_RETRY_INTERVAL must be positive")
	}
	level, err := logrus.ParseLevel(cfg.LogLevelRaw)
	if err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	if cfg.DiscordClientID != "" && cfg.DiscordClientSecret == "" {
		return fmt.Errorf("DISCORD_CLIENT_SECRET is required when DISCORD_CLIENT_ID is set")
	}
	return nil
}

// OAuthEnabled reports whether Discord login is configured.
func (cfg *Config) OAuthEnabled() bool {
	return cfg.DiscordClientID != ""
}
