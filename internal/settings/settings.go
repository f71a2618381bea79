package settings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"aurox-gatekeeper/internal/challenge"
	"aurox-gatekeeper/internal/modules/audit"
	"aurox-gatekeeper/internal/storage"
	"aurox-gatekeeper/internal/utils"

	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	maxPromptLength = 4096
	maxTitleLength  = 256
	maxPingLength   = 200
	maxSpamLimit    = 100
	maxSpamWindow   = 10 * time.Minute
)

// VerifyConfig is one guild's verification setup. ColorSet is false while the
// guild uses the default embed color, so black stays a valid choice.
type VerifyConfig struct {
	Enabled       bool
	ChannelID     string
	MessageID     string
	Prompt        string
	Title         string
	Color         int
	ColorSet      bool
	ImageURL      string
	PingText      string
	RolesOnJoin   []string
	RolesOnVerify []string
	ChallengeKind challenge.Kind
	LastSent      time.Time
}

type SpamConfig struct {
	MessageLimit int
	Window       time.Duration
}

type Config struct {
	GuildID string
	Verify  VerifyConfig
	Spam    SpamConfig
}

type Defaults struct {
	Prompt        string
	Title         string
	Color         int
	PingText      string
	ChallengeKind challenge.Kind
	Spam          SpamConfig
}

// VerifyPatch changes only the fields that are set.
type VerifyPatch struct {
	Enabled       *bool
	ChannelID     *string
	MessageID     *string
	Prompt        *string
	Title         *string
	Color         *int
	ImageURL      *string
	PingText      *string
	RolesOnJoin   *[]string
	RolesOnVerify *[]string
	ChallengeKind *challenge.Kind
	LastSent      *time.Time
}

type SpamPatch struct {
	MessageLimit *int
	Window       *time.Duration
}

type Auditor interface {
	Log(ctx context.Context, level, guildID, userID, event, details string)
}

// Store is the in-memory view of every guild's configuration, backed by the
// database. Reads never touch the database. Writers are serialised by writeMu
// and only take mu to publish a saved config.
type Store struct {
	writeMu  sync.Mutex
	mu       sync.RWMutex
	db       *storage.Store
	defaults Defaults
	logger   *zap.Logger
	audit    Auditor
	verify   map[string]VerifyConfig
	spam     map[string]SpamConfig
}

func New(db *storage.Store, defaults Defaults, logger *zap.Logger, audit Auditor) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.ChallengeKind == "" {
		defaults.ChallengeKind = challenge.KindImage
	}
	return &Store{
		db:       db,
		defaults: defaults,
		logger:   logger,
		audit:    audit,
		verify:   make(map[string]VerifyConfig),
		spam:     make(map[string]SpamConfig),
	}
}

// Load reads every stored configuration. Verification configs that cannot be
// trusted are disabled and written back; the ids of repaired guilds are returned.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	rows, err := s.db.ListVerifyConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load verify configs: %w", err)
	}
	spamRows, err := s.db.ListGuildSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load guild settings: %w", err)
	}

	verify := make(map[string]VerifyConfig, len(rows))
	var repaired []string
	for _, row := range rows {
		cfg, reason := repair(row)
		verify[row.GuildID] = cfg
		if reason == "" {
			continue
		}
		repaired = append(repaired, row.GuildID)
		s.logger.Warn("verification config repaired", zap.String("guild_id", row.GuildID), zap.String("reason", reason))
		if err := s.db.UpsertVerifyConfig(ctx, toRow(row.GuildID, cfg)); err != nil {
			s.logger.Warn("repaired config not saved", zap.String("guild_id", row.GuildID), zap.Error(err))
		}
		if s.audit != nil {
			s.audit.Log(ctx, audit.LevelWarn, row.GuildID, "", audit.EventConfigRepaired, reason)
		}
	}

	spam := make(map[string]SpamConfig, len(spamRows))
	for _, row := range spamRows {
		cfg := SpamConfig{MessageLimit: row.SpamMessages, Window: time.Duration(row.SpamWindowSeconds) * time.Second}
		if validateSpam(cfg) != nil {
			s.logger.Warn("spam settings ignored", zap.String("guild_id", row.GuildID))
			continue
		}
		spam[row.GuildID] = cfg
	}

	s.mu.Lock()
	s.verify = verify
	s.spam = spam
	s.mu.Unlock()
	return repaired, nil
}

func repair(row storage.VerifyConfig) (VerifyConfig, string) {
	cfg := fromRow(row)
	switch {
	case row.Damaged:
		cfg.Enabled = false
		return cfg, "stored config was unreadable; verification disabled"
	case cfg.Enabled && cfg.ChannelID == "":
		cfg.Enabled = false
		return cfg, "enabled without a channel; verification disabled"
	}
	if cfg.ChallengeKind != "" {
		if _, ok := challenge.ParseKind(string(cfg.ChallengeKind)); !ok {
			cfg.ChallengeKind = ""
			return cfg, "unknown challenge kind reset"
		}
	}
	return cfg, ""
}

func (s *Store) Config(guildID string) Config {
	return Config{GuildID: guildID, Verify: s.Verify(guildID), Spam: s.Spam(guildID)}
}

// Verify returns the effective verification config, with defaults filled in.
func (s *Store) Verify(guildID string) VerifyConfig {
	s.mu.RLock()
	cfg, ok := s.verify[guildID]
	s.mu.RUnlock()
	if !ok {
		cfg = VerifyConfig{}
	}
	return s.withDefaults(cloneVerify(cfg))
}

func (s *Store) Spam(guildID string) SpamConfig {
	s.mu.RLock()
	cfg, ok := s.spam[guildID]
	s.mu.RUnlock()
	if !ok {
		return s.defaults.Spam
	}
	return cfg
}

// VerifyGuilds lists guilds that have a stored verification config.
func (s *Store) VerifyGuilds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.verify))
	for id := range s.verify {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpdateVerify validates the patched config and persists it before it
// becomes visible to readers.
func (s *Store) UpdateVerify(ctx context.Context, guildID string, patch VerifyPatch) (VerifyConfig, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	cfg := cloneVerify(s.verify[guildID])
	s.mu.RUnlock()

	applyVerifyPatch(&cfg, patch)
	if err := validateVerify(&cfg); err != nil {
		return VerifyConfig{}, err
	}
	if err := s.db.UpsertVerifyConfig(ctx, toRow(guildID, cfg)); err != nil {
		return VerifyConfig{}, fmt.Errorf("save verify config: %w", err)
	}

	s.mu.Lock()
	s.verify[guildID] = cfg
	s.mu.Unlock()
	return s.withDefaults(cloneVerify(cfg)), nil
}

func (s *Store) UpdateSpam(ctx context.Context, guildID string, patch SpamPatch) (SpamConfig, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	cfg, ok := s.spam[guildID]
	s.mu.RUnlock()
	if !ok {
		cfg = s.defaults.Spam
	}
	if patch.MessageLimit != nil {
		cfg.MessageLimit = *patch.MessageLimit
	}
	if patch.Window != nil {
		cfg.Window = *patch.Window
	}
	if err := validateSpam(cfg); err != nil {
		return SpamConfig{}, err
	}
	err := s.db.UpsertGuildSettings(ctx, storage.GuildSettings{
		GuildID:           guildID,
		SpamMessages:      cfg.MessageLimit,
		SpamWindowSeconds: int(cfg.Window / time.Second),
	})
	if err != nil {
		return SpamConfig{}, fmt.Errorf("save spam settings: %w", err)
	}

	s.mu.Lock()
	s.spam[guildID] = cfg
	s.mu.Unlock()
	return cfg, nil
}

func (s *Store) withDefaults(cfg VerifyConfig) VerifyConfig {
	if cfg.Prompt == "" {
		cfg.Prompt = s.defaults.Prompt
	}
	if cfg.Title == "" {
		cfg.Title = s.defaults.Title
	}
	if !cfg.ColorSet {
		cfg.Color = s.defaults.Color
	}
	if cfg.PingText == "" {
		cfg.PingText = s.defaults.PingText
	}
	if cfg.ChallengeKind == "" {
		cfg.ChallengeKind = s.defaults.ChallengeKind
	}
	return cfg
}

func applyVerifyPatch(cfg *VerifyConfig, patch VerifyPatch) {
	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}
	if patch.ChannelID != nil {
		cfg.ChannelID = *patch.ChannelID
	}
	if patch.MessageID != nil {
		cfg.MessageID = *patch.MessageID
	}
	if patch.Prompt != nil {
		cfg.Prompt = *patch.Prompt
	}
	if patch.Title != nil {
		cfg.Title = *patch.Title
	}
	if patch.Color != nil {
		cfg.Color = *patch.Color
		cfg.ColorSet = true
	}
	if patch.ImageURL != nil {
		cfg.ImageURL = *patch.ImageURL
	}
	if patch.PingText != nil {
		cfg.PingText = *patch.PingText
	}
	if patch.RolesOnJoin != nil {
		cfg.RolesOnJoin = dedupe(*patch.RolesOnJoin)
	}
	if patch.RolesOnVerify != nil {
		cfg.RolesOnVerify = dedupe(*patch.RolesOnVerify)
	}
	if patch.ChallengeKind != nil {
		cfg.ChallengeKind = *patch.ChallengeKind
	}
	if patch.LastSent != nil {
		cfg.LastSent = *patch.LastSent
	}
}

func validateVerify(cfg *VerifyConfig) error {
	if cfg.Enabled && cfg.ChannelID == "" {
		return fmt.Errorf("%w: verification needs a channel before it can be enabled", ErrInvalidConfig)
	}
	if cfg.ChallengeKind != "" {
		if _, ok := challenge.ParseKind(string(cfg.ChallengeKind)); !ok {
			return fmt.Errorf("%w: unknown challenge kind %q", ErrInvalidConfig, cfg.ChallengeKind)
		}
	}
	if utf8.RuneCountInString(cfg.Prompt) > maxPromptLength {
		return fmt.Errorf("%w: prompt is longer than %d characters", ErrInvalidConfig, maxPromptLength)
	}
	if utf8.RuneCountInString(cfg.Title) > maxTitleLength {
		return fmt.Errorf("%w: title is longer than %d characters", ErrInvalidConfig, maxTitleLength)
	}
	if utf8.RuneCountInString(cfg.PingText) > maxPingLength {
		return fmt.Errorf("%w: ping text is longer than %d characters", ErrInvalidConfig, maxPingLength)
	}
	if cfg.Color < 0 || cfg.Color > 0xFFFFFF {
		return fmt.Errorf("%w: color must be between 0 and 0xFFFFFF", ErrInvalidConfig)
	}
	if cfg.ImageURL != "" {
		normalized, err := utils.SecureURL(cfg.ImageURL)
		if err != nil {
			return fmt.Errorf("%w: image url: %v", ErrInvalidConfig, err)
		}
		cfg.ImageURL = normalized
	}
	return nil
}

func validateSpam(cfg SpamConfig) error {
	if cfg.MessageLimit < 1 || cfg.MessageLimit > maxSpamLimit {
		return fmt.Errorf("%w: message limit must be between 1 and %d", ErrInvalidConfig, maxSpamLimit)
	}
	if cfg.Window < time.Second || cfg.Window > maxSpamWindow {
		return fmt.Errorf("%w: window must be between 1s and %s", ErrInvalidConfig, maxSpamWindow)
	}
	return nil
}

func fromRow(row storage.VerifyConfig) VerifyConfig {
	cfg := VerifyConfig{
		Enabled:       row.Enabled,
		ChannelID:     row.ChannelID,
		MessageID:     row.MessageID,
		Prompt:        row.Prompt,
		Title:         row.Title,
		ImageURL:      row.ImageURL,
		PingText:      row.PingText,
		RolesOnJoin:   row.RolesOnJoin,
		RolesOnVerify: row.RolesOnVerify,
		ChallengeKind: challenge.Kind(row.ChallengeKind),
		LastSent:      row.LastSent,
	}
	if row.Color != nil {
		cfg.Color = *row.Color
		cfg.ColorSet = true
	}
	return cfg
}

func toRow(guildID string, cfg VerifyConfig) storage.VerifyConfig {
	row := storage.VerifyConfig{
		GuildID:       guildID,
		Enabled:       cfg.Enabled,
		ChannelID:     cfg.ChannelID,
		MessageID:     cfg.MessageID,
		Prompt:        cfg.Prompt,
		Title:         cfg.Title,
		ImageURL:      cfg.ImageURL,
		PingText:      cfg.PingText,
		RolesOnJoin:   cfg.RolesOnJoin,
		RolesOnVerify: cfg.RolesOnVerify,
		ChallengeKind: string(cfg.ChallengeKind),
		LastSent:      cfg.LastSent,
	}
	if cfg.ColorSet {
		color := cfg.Color
		row.Color = &color
	}
	return row
}

func cloneVerify(cfg VerifyConfig) VerifyConfig {
	cfg.RolesOnJoin = append([]string(nil), cfg.RolesOnJoin...)
	cfg.RolesOnVerify = append([]string(nil), cfg.RolesOnVerify...)
	return cfg
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
