package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aurox-gatekeeper/internal/modules/audit"
	"aurox-gatekeeper/internal/platform"
	"aurox-gatekeeper/internal/settings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	promptButtonLabel = "Verify"
	publishParallel   = 4
)

type PublishResult int

const (
	PublishDisabled PublishResult = iota
	PublishKept
	PublishDebounced
	PublishSent
)

func (r PublishResult) String() string {
	switch r {
	case PublishKept:
		return "kept"
	case PublishDebounced:
		return "debounced"
	case PublishSent:
		return "sent"
	default:
		return "disabled"
	}
}

type PromptPlatform interface {
	BotUserID() string
	Channel(ctx context.Context, channelID string) (platform.Channel, error)
	ChannelPermissions(ctx context.Context, channelID, userID string) (platform.Permission, error)
	SendPrompt(ctx context.Context, channelID string, prompt platform.Prompt) (string, error)
	MessageExists(ctx context.Context, channelID, messageID string) (bool, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

type PromptSettings interface {
	Verify(guildID string) settings.VerifyConfig
	VerifyGuilds() []string
	UpdateVerify(ctx context.Context, guildID string, patch settings.VerifyPatch) (settings.VerifyConfig, error)
}

// Publisher keeps one standing verification prompt per guild.
type Publisher struct {
	platform    PromptPlatform
	settings    PromptSettings
	audit       Auditor
	logger      *zap.Logger
	resendAfter time.Duration
	clock       Clock
}

func NewPublisher(p PromptPlatform, s PromptSettings, auditLogger Auditor, resendAfter time.Duration, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		platform:    p,
		settings:    s,
		audit:       auditLogger,
		logger:      logger,
		resendAfter: resendAfter,
		clock:       realClock{},
	}
}

func (p *Publisher) WithClock(clock Clock) *Publisher {
	p.clock = clock
	return p
}

// Publish makes sure the guild's prompt is present. An existing message is
// always kept; without force a prompt sent within the resend window is not
// sent again even if it has since been deleted.
func (p *Publisher) Publish(ctx context.Context, guildID string, force bool) (PublishResult, error) {
	cfg := p.settings.Verify(guildID)
	if !cfg.Enabled {
		return PublishDisabled, nil
	}
	if err := checkChannel(ctx, p.platform, guildID, cfg); err != nil {
		return PublishDisabled, err
	}

	if cfg.MessageID != "" {
		exists, err := p.platform.MessageExists(ctx, cfg.ChannelID, cfg.MessageID)
		if err != nil {
			return PublishDisabled, fmt.Errorf("check prompt message: %w", err)
		}
		if exists {
			return PublishKept, nil
		}
	}

	now := p.clock.Now()
	if !force && !cfg.LastSent.IsZero() && now.Sub(cfg.LastSent) < p.resendAfter {
		p.logger.Debug("prompt resend skipped", zap.String("guild_id", guildID), zap.Time("last_sent", cfg.LastSent))
		return PublishDebounced, nil
	}

	messageID, err := p.platform.SendPrompt(ctx, cfg.ChannelID, platform.Prompt{
		Content:     cfg.PingText,
		Title:       cfg.Title,
		Description: cfg.Prompt,
		Color:       cfg.Color,
		ImageURL:    cfg.ImageURL,
		ButtonID:    VerifyButtonID,
		ButtonLabel: promptButtonLabel,
	})
	if err != nil {
		return PublishDisabled, fmt.Errorf("send prompt: %w", err)
	}

	if _, err := p.settings.UpdateVerify(ctx, guildID, settings.VerifyPatch{MessageID: &messageID, LastSent: &now}); err != nil {
		return PublishSent, fmt.Errorf("save prompt message: %w", err)
	}
	p.audit.Log(ctx, audit.LevelInfo, guildID, "", audit.EventPromptSent, cfg.ChannelID+"/"+messageID)
	p.logger.Info("verification prompt sent", zap.String("guild_id", guildID), zap.String("channel_id", cfg.ChannelID), zap.String("message_id", messageID))
	return PublishSent, nil
}

// PublishAll publishes every stored guild. Failures are logged per guild and
// do not stop the others.
func (p *Publisher) PublishAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(publishParallel)
	for _, guildID := range p.settings.VerifyGuilds() {
		guildID := guildID
		g.Go(func() error {
			result, err := p.Publish(ctx, guildID, false)
			if err != nil {
				var cerr *ConfigError
				if errors.As(err, &cerr) {
					p.logger.Warn("verification prompt not published", zap.String("guild_id", guildID), zap.String("reason", cerr.Reason))
					return nil
				}
				p.logger.Warn("verification prompt failed", zap.String("guild_id", guildID), zap.Error(err))
				return nil
			}
			p.logger.Debug("verification prompt checked", zap.String("guild_id", guildID), zap.Stringer("result", result))
			return ctx.Err()
		})
	}
	return g.Wait()
}

// Reconfigure applies an admin change. A prompt that no longer matches the
// config is deleted, and a new one is sent when verification is on and the
// channel or presentation changed.
func (p *Publisher) Reconfigure(ctx context.Context, guildID, actorID string, patch settings.VerifyPatch) (settings.VerifyConfig, error) {
	before := p.settings.Verify(guildID)
	after, err := p.settings.UpdateVerify(ctx, guildID, patch)
	if err != nil {
		return settings.VerifyConfig{}, err
	}
	p.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventConfigUpdated, describeChange(before, after))

	channelChanged := before.ChannelID != after.ChannelID
	restyled := presentationChanged(before, after)
	turnedOff := before.Enabled && !after.Enabled

	if before.MessageID != "" && (channelChanged || restyled || turnedOff) {
		p.retract(ctx, guildID, before)
		var zero time.Time
		empty := ""
		if after, err = p.settings.UpdateVerify(ctx, guildID, settings.VerifyPatch{MessageID: &empty, LastSent: &zero}); err != nil {
			return settings.VerifyConfig{}, err
		}
	}

	if after.Enabled && (!before.Enabled || channelChanged || restyled) {
		if _, err := p.Publish(ctx, guildID, true); err != nil {
			return p.settings.Verify(guildID), err
		}
	}
	return p.settings.Verify(guildID), nil
}

func (p *Publisher) retract(ctx context.Context, guildID string, cfg settings.VerifyConfig) {
	err := p.platform.DeleteMessage(ctx, cfg.ChannelID, cfg.MessageID)
	if err != nil && !platform.IsNotFound(err) {
		p.logger.Warn("old prompt not deleted", zap.String("guild_id", guildID), zap.String("message_id", cfg.MessageID), zap.Error(err))
		return
	}
	p.audit.Log(ctx, audit.LevelInfo, guildID, "", audit.EventPromptRetract, cfg.ChannelID+"/"+cfg.MessageID)
}

func presentationChanged(a, b settings.VerifyConfig) bool {
	return a.Prompt != b.Prompt ||
		a.Title != b.Title ||
		a.Color != b.Color ||
		a.ImageURL != b.ImageURL ||
		a.PingText != b.PingText
}

func describeChange(before, after settings.VerifyConfig) string {
	return fmt.Sprintf("enabled=%t->%t channel=%s->%s kind=%s->%s",
		before.Enabled, after.Enabled, before.ChannelID, after.ChannelID, before.ChallengeKind, after.ChallengeKind)
}
