package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without token")
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
discord_token: from-yaml
database:
  driver: postgres
  dsn: postgres://localhost/aurox
verification:
  challenge_ttl_seconds: 120
  challenge_kind: MATH
spam:
  messages: 8
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("SPAM_WINDOW_SECONDS", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "from-env" {
		t.Fatalf("expected env token to win, got %q", cfg.DiscordToken)
	}
	if cfg.Database.Driver != "pgx" {
		t.Fatalf("expected pgx driver, got %q", cfg.Database.Driver)
	}
	if cfg.Verification.ChallengeTTL() != 2*time.Minute {
		t.Fatalf("unexpected ttl %v", cfg.Verification.ChallengeTTL())
	}
	if cfg.Verification.ChallengeKind != "math" {
		t.Fatalf("unexpected kind %q", cfg.Verification.ChallengeKind)
	}
	if cfg.Spam.Messages != 8 || cfg.Spam.Window() != 4*time.Second {
		t.Fatalf("unexpected spam config %+v", cfg.Spam)
	}
	if cfg.Verification.ChallengeLength != 6 {
		t.Fatalf("expected default length, got %d", cfg.Verification.ChallengeLength)
	}
}

func TestClampRestoresDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Verification.ChallengeLength = 40
	cfg.Verification.ModalRetryAttempts = 0
	cfg.Spam.Messages = 0
	clamp(&cfg)

	if cfg.Verification.ChallengeLength != 6 {
		t.Fatalf("expected length reset, got %d", cfg.Verification.ChallengeLength)
	}
	if cfg.Verification.ModalRetryAttempts != 1 {
		t.Fatalf("expected at least one attempt, got %d", cfg.Verification.ModalRetryAttempts)
	}
	if cfg.Spam.Messages != 5 {
		t.Fatalf("expected spam default, got %d", cfg.Spam.Messages)
	}
}
