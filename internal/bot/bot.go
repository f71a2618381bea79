package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"aurox-gatekeeper/internal/analytics"
	"aurox-gatekeeper/internal/challenge"
	"aurox-gatekeeper/internal/config"
	"aurox-gatekeeper/internal/modules/antispam"
	"aurox-gatekeeper/internal/modules/audit"
	"aurox-gatekeeper/internal/modules/warnings"
	"aurox-gatekeeper/internal/platform"
	"aurox-gatekeeper/internal/roles"
	"aurox-gatekeeper/internal/settings"
	"aurox-gatekeeper/internal/verification"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	readyPublishTimeout = 2 * time.Minute
	eventTimeout        = 30 * time.Second
)

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	settings   *settings.Store
	audit      *audit.Logger
	analytics  *analytics.Service
	session    *discordgo.Session
	platform   *platform.Discord
	challenges *challenge.Store
	roles      *roles.Reconciler
	machine    *verification.Machine
	publisher  *verification.Publisher
	antispam   *antispam.Module
	warnings   *warnings.Module

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	readyOnce sync.Once
}

func New(cfg config.Config, logger *zap.Logger, settingsStore *settings.Store, auditLogger *audit.Logger, analyticsSvc *analytics.Service, renderer verification.Renderer) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:        cfg,
		logger:     logger,
		settings:   settingsStore,
		audit:      auditLogger,
		analytics:  analyticsSvc,
		session:    session,
		platform:   platform.NewDiscord(session),
		challenges: challenge.NewStore(),
		ctx:        ctx,
		cancel:     cancel,
	}

	b.roles = roles.New(b.platform, logger)
	b.machine = verification.NewMachine(verification.Options{
		TTL:           cfg.Verification.ChallengeTTL(),
		SecretLength:  cfg.Verification.ChallengeLength,
		StaleAfter:    cfg.Verification.StaleAfter(),
		ModalAttempts: cfg.Verification.ModalRetryAttempts,
		ModalBackoff:  cfg.Verification.ModalRetryBackoff(),
	}, b.platform, settingsStore, b.challenges, renderer, b.roles, auditLogger, logger)
	b.publisher = verification.NewPublisher(b.platform, settingsStore, auditLogger, cfg.Verification.PromptResendAfter(), logger)
	b.antispam = antispam.New(b.platform, settingsStore, auditLogger, logger)
	b.warnings = warnings.New(b.platform, settingsStore, auditLogger, cfg.Warnings.TimeoutThreshold, cfg.Warnings.TimeoutDuration(), logger)

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	b.startJanitor()

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("background workers did not stop in time")
	}
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) startJanitor() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.antispam.RunJanitor(b.ctx, b.cfg.Spam.PruneInterval(), b.cfg.Spam.Idle())
	}()
}

// onReady fires again after every reconnect; prompts are only checked once
// per process.
func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
	b.readyOnce.Do(func() {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			ctx, cancel := context.WithTimeout(b.ctx, readyPublishTimeout)
			defer cancel()
			if err := b.publisher.PublishAll(ctx); err != nil {
				b.logger.Warn("prompt publishing interrupted", zap.Error(err))
			}
		}()
	})
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.GuildID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, eventTimeout)
	defer cancel()

	result, rem := b.antispam.HandleMessage(ctx, antispam.Event{
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		UserID:    msg.Author.ID,
		Bot:       msg.Author.Bot,
		At:        time.Now(),
	})
	if result.Verdict == antispam.Breach {
		b.logger.Info("spam breach handled",
			zap.String("guild_id", msg.GuildID),
			zap.String("user_id", msg.Author.ID),
			zap.Int("messages", result.Count),
			zap.Int("deleted", rem.Deleted),
			zap.Bool("kicked", rem.Kicked),
		)
	}
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.GuildID == "" || event.Member == nil || event.User == nil || event.User.Bot {
		return
	}
	cfg := b.settings.Verify(event.GuildID)
	if !cfg.Enabled || len(cfg.RolesOnJoin) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, eventTimeout)
	defer cancel()

	summary, err := b.roles.Grant(ctx, event.GuildID, event.User.ID, cfg.RolesOnJoin)
	if err != nil {
		if errors.Is(err, roles.ErrMissingManageRoles) {
			b.logger.Warn("join roles skipped: missing manage roles", zap.String("guild_id", event.GuildID))
			return
		}
		b.logger.Warn("join roles failed", zap.String("guild_id", event.GuildID), zap.String("user_id", event.User.ID), zap.Error(err))
		return
	}
	level := audit.LevelInfo
	if summary.Failed() {
		level = audit.LevelWarn
	}
	b.audit.Log(ctx, level, event.GuildID, event.User.ID, audit.EventJoinRoles, formatSummary(summary))
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

// deferEphemeral acknowledges a command whose answer may take longer than the
// first-response deadline. It reports whether the acknowledgement went through.
func (b *Bot) deferEphemeral(session *discordgo.Session, interaction *discordgo.InteractionCreate) bool {
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.logger.Warn("interaction defer failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		return false
	}
	return true
}

// finishEmbed answers a command, editing the deferred acknowledgement when there is one.
func (b *Bot) finishEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, deferred bool, embed *discordgo.MessageEmbed) {
	if !deferred {
		b.respondEmbed(session, interaction, embed, true)
		return
	}
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		b.logger.Warn("interaction edit failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	}
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func (b *Bot) errorEmbed(title, description string) *discordgo.MessageEmbed {
	return b.commandEmbed(title, description, b.cfg.Notifications.EmbedColors.Error, nil)
}

func formatSummary(summary roles.Summary) string {
	var parts []string
	for _, op := range summary.Ops {
		part := fmt.Sprintf("%s %s: %s", op.Action, op.Ref, op.Status)
		if op.Err != nil {
			part += " (" + op.Err.Error() + ")"
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "no roles"
	}
	return strings.Join(parts, "; ")
}

func formatReport(report analytics.Report) string {
	return fmt.Sprintf("Total: %d | INFO: %d | WARN: %d | CRIT: %d", report.Total, report.ByLevel[audit.LevelInfo], report.ByLevel[audit.LevelWarn], report.ByLevel[audit.LevelCrit])
}
