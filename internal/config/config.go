package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string             `yaml:"discord_token"`
	LogLevel      string             `yaml:"log_level"`
	RetentionDays int                `yaml:"retention_days"`
	Database      DatabaseConfig     `yaml:"database"`
	Health        HealthConfig       `yaml:"health"`
	Verification  VerificationConfig `yaml:"verification"`
	Spam          SpamConfig         `yaml:"spam"`
	Warnings      WarningsConfig     `yaml:"warnings"`
	Notifications NotifyConfig       `yaml:"notifications"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type VerificationConfig struct {
	ChallengeTTLSeconds  int    `yaml:"challenge_ttl_seconds"`
	ChallengeLength      int    `yaml:"challenge_length"`
	ChallengeKind        string `yaml:"challenge_kind"`
	StaleAfterSeconds    int    `yaml:"stale_after_seconds"`
	ModalRetryAttempts   int    `yaml:"modal_retry_attempts"`
	ModalRetryBackoffMS  int    `yaml:"modal_retry_backoff_ms"`
	PromptResendDays     int    `yaml:"prompt_resend_days"`
	AvatarFetchTimeoutMS int    `yaml:"avatar_fetch_timeout_ms"`
	DefaultPrompt        string `yaml:"default_prompt"`
}

type SpamConfig struct {
	Messages             int `yaml:"messages"`
	WindowSeconds        int `yaml:"window_seconds"`
	IdleMinutes          int `yaml:"idle_minutes"`
	PruneIntervalMinutes int `yaml:"prune_interval_minutes"`
}

type WarningsConfig struct {
	TimeoutThreshold int `yaml:"timeout_threshold"`
	TimeoutMinutes   int `yaml:"timeout_minutes"`
}

type NotifyConfig struct {
	EmbedColors EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Prompt  int `yaml:"prompt"`
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		RetentionDays: 30,
		Database:      DatabaseConfig{Driver: "sqlite", DSN: "/data/aurox.db"},
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Verification: VerificationConfig{
			ChallengeTTLSeconds:  300,
			ChallengeLength:      6,
			ChallengeKind:        "image",
			StaleAfterSeconds:    15,
			ModalRetryAttempts:   2,
			ModalRetryBackoffMS:  1000,
			PromptResendDays:     10,
			AvatarFetchTimeoutMS: 1500,
			DefaultPrompt:        "Click Verify to start. You will receive a captcha to solve.",
		},
		Spam:     SpamConfig{Messages: 5, WindowSeconds: 10, IdleMinutes: 10, PruneIntervalMinutes: 5},
		Warnings: WarningsConfig{TimeoutThreshold: 3, TimeoutMinutes: 10},
		Notifications: NotifyConfig{
			EmbedColors: EmbedColors{
				Prompt:  0x0099FF,
				Action:  0xF59E0B,
				Warning: 0xEF4444,
				Error:   0xF97316,
			},
		},
	}
}

// Load reads .env (if present), then config.yaml or CONFIG_PATH, then the
// process environment. Later sources win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	cfg.Database.Driver = normalizeDriver(cfg.Database.Driver)
	cfg.Verification.ChallengeKind = normalizeKind(cfg.Verification.ChallengeKind)
	clamp(&cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Database.Driver = envString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envString("DATABASE_PATH", cfg.Database.DSN)
	cfg.Database.DSN = envString("DATABASE_URL", cfg.Database.DSN)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Verification.ChallengeTTLSeconds = envInt("CHALLENGE_TTL_SECONDS", cfg.Verification.ChallengeTTLSeconds)
	cfg.Verification.ChallengeLength = envInt("CHALLENGE_LENGTH", cfg.Verification.ChallengeLength)
	cfg.Verification.ChallengeKind = envString("CHALLENGE_KIND", cfg.Verification.ChallengeKind)
	cfg.Verification.StaleAfterSeconds = envInt("STALE_AFTER_SECONDS", cfg.Verification.StaleAfterSeconds)
	cfg.Verification.ModalRetryAttempts = envInt("MODAL_RETRY_ATTEMPTS", cfg.Verification.ModalRetryAttempts)
	cfg.Verification.ModalRetryBackoffMS = envInt("MODAL_RETRY_BACKOFF_MS", cfg.Verification.ModalRetryBackoffMS)
	cfg.Verification.PromptResendDays = envInt("PROMPT_RESEND_DAYS", cfg.Verification.PromptResendDays)
	cfg.Verification.AvatarFetchTimeoutMS = envInt("AVATAR_FETCH_TIMEOUT_MS", cfg.Verification.AvatarFetchTimeoutMS)
	cfg.Spam.Messages = envInt("SPAM_MESSAGES", cfg.Spam.Messages)
	cfg.Spam.WindowSeconds = envInt("SPAM_WINDOW_SECONDS", cfg.Spam.WindowSeconds)
	cfg.Warnings.TimeoutThreshold = envInt("WARN_TIMEOUT_THRESHOLD", cfg.Warnings.TimeoutThreshold)
	cfg.Warnings.TimeoutMinutes = envInt("WARN_TIMEOUT_MINUTES", cfg.Warnings.TimeoutMinutes)
	cfg.Notifications.EmbedColors.Prompt = envInt("EMBED_COLOR_PROMPT", cfg.Notifications.EmbedColors.Prompt)
	cfg.Notifications.EmbedColors.Action = envInt("EMBED_COLOR_ACTION", cfg.Notifications.EmbedColors.Action)
	cfg.Notifications.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.Notifications.EmbedColors.Warning)
	cfg.Notifications.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.Notifications.EmbedColors.Error)
}

func (v VerificationConfig) ChallengeTTL() time.Duration {
	return time.Duration(v.ChallengeTTLSeconds) * time.Second
}

func (v VerificationConfig) StaleAfter() time.Duration {
	return time.Duration(v.StaleAfterSeconds) * time.Second
}

func (v VerificationConfig) ModalRetryBackoff() time.Duration {
	return time.Duration(v.ModalRetryBackoffMS) * time.Millisecond
}

func (v VerificationConfig) PromptResendAfter() time.Duration {
	return time.Duration(v.PromptResendDays) * 24 * time.Hour
}

func (v VerificationConfig) AvatarFetchTimeout() time.Duration {
	return time.Duration(v.AvatarFetchTimeoutMS) * time.Millisecond
}

func (s SpamConfig) Window() time.Duration {
	return time.Duration(s.WindowSeconds) * time.Second
}

func (s SpamConfig) Idle() time.Duration {
	return time.Duration(s.IdleMinutes) * time.Minute
}

func (s SpamConfig) PruneInterval() time.Duration {
	return time.Duration(s.PruneIntervalMinutes) * time.Minute
}

func (w WarningsConfig) TimeoutDuration() time.Duration {
	return time.Duration(w.TimeoutMinutes) * time.Minute
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func normalizeDriver(value string) string {
	switch strings.ToLower(value) {
	case "pgx", "postgres", "postgresql":
		return "pgx"
	default:
		return "sqlite"
	}
}

func normalizeKind(value string) string {
	switch strings.ToLower(value) {
	case "math":
		return "math"
	default:
		return "image"
	}
}

func clamp(cfg *Config) {
	defaults := DefaultConfig()
	v := &cfg.Verification
	if v.ChallengeTTLSeconds <= 0 {
		v.ChallengeTTLSeconds = defaults.Verification.ChallengeTTLSeconds
	}
	if v.ChallengeLength < 4 || v.ChallengeLength > 10 {
		v.ChallengeLength = defaults.Verification.ChallengeLength
	}
	if v.StaleAfterSeconds <= 0 {
		v.StaleAfterSeconds = defaults.Verification.StaleAfterSeconds
	}
	if v.ModalRetryAttempts < 1 {
		v.ModalRetryAttempts = 1
	}
	if v.ModalRetryBackoffMS < 0 {
		v.ModalRetryBackoffMS = 0
	}
	if v.AvatarFetchTimeoutMS <= 0 {
		v.AvatarFetchTimeoutMS = defaults.Verification.AvatarFetchTimeoutMS
	}
	if cfg.Spam.Messages < 1 {
		cfg.Spam.Messages = defaults.Spam.Messages
	}
	if cfg.Spam.WindowSeconds < 1 {
		cfg.Spam.WindowSeconds = defaults.Spam.WindowSeconds
	}
	if cfg.Spam.IdleMinutes < 1 {
		cfg.Spam.IdleMinutes = defaults.Spam.IdleMinutes
	}
	if cfg.Spam.PruneIntervalMinutes < 1 {
		cfg.Spam.PruneIntervalMinutes = defaults.Spam.PruneIntervalMinutes
	}
	if cfg.Warnings.TimeoutThreshold < 0 {
		cfg.Warnings.TimeoutThreshold = 0
	}
}
