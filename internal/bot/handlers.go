package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aurox-gatekeeper/internal/challenge"
	"aurox-gatekeeper/internal/modules/audit"
	"aurox-gatekeeper/internal/platform"
	"aurox-gatekeeper/internal/settings"
	"aurox-gatekeeper/internal/verification"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(session, interaction)
	case discordgo.InteractionMessageComponent:
		data := interaction.MessageComponentData()
		b.handleVerification(session, interaction, verification.EventButton, data.CustomID, "")
	case discordgo.InteractionModalSubmit:
		data := interaction.ModalSubmitData()
		b.handleVerification(session, interaction, verification.EventModalSubmit, data.CustomID, modalAnswer(data))
	}
}

func (b *Bot) handleVerification(session *discordgo.Session, interaction *discordgo.InteractionCreate, kind verification.EventType, customID, answer string) {
	user := interactionUser(interaction)
	if user == nil {
		return
	}
	// A zero time disables the staleness guard.
	created, _ := discordgo.SnowflakeTimestamp(interaction.ID)

	ctx, cancel := context.WithTimeout(b.ctx, eventTimeout)
	defer cancel()

	ev := verification.Event{
		Type:      kind,
		CustomID:  customID,
		GuildID:   interaction.GuildID,
		ChannelID: interaction.ChannelID,
		UserID:    user.ID,
		AvatarURL: user.AvatarURL("256"),
		CreatedAt: created,
		Answer:    answer,
	}
	outcome, err := b.machine.Handle(ctx, ev, &interactionResponder{session: session, interaction: interaction.Interaction})
	if err != nil {
		b.logger.Warn("verification reply failed",
			zap.String("guild_id", ev.GuildID),
			zap.String("user_id", ev.UserID),
			zap.String("custom_id", customID),
			zap.Error(err),
		)
		return
	}
	if outcome != verification.OutcomeIgnored {
		b.logger.Debug("verification step",
			zap.String("guild_id", ev.GuildID),
			zap.String("user_id", ev.UserID),
			zap.String("custom_id", customID),
			zap.Stringer("outcome", outcome),
			zap.Duration("age", time.Since(created)),
		)
	}
}

func interactionUser(interaction *discordgo.InteractionCreate) *discordgo.User {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User
	}
	return interaction.User
}

func modalAnswer(data discordgo.ModalSubmitInteractionData) string {
	for _, component := range data.Components {
		row, ok := component.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok && input.CustomID == verification.AnswerInputID {
				return input.Value
			}
		}
	}
	return ""
}

// interactionResponder answers one interaction on behalf of the verification
// machine. Every reply is ephemeral.
type interactionResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
	deferred    bool
}

func (r *interactionResponder) Defer(ctx context.Context) error {
	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Wrap("defer interaction", err)
	}
	r.deferred = true
	return nil
}

func (r *interactionResponder) Reply(ctx context.Context, reply verification.Reply) error {
	var files []*discordgo.File
	if len(reply.Image) > 0 {
		name := reply.ImageName
		if name == "" {
			name = "captcha.png"
		}
		files = []*discordgo.File{{Name: name, ContentType: "image/png", Reader: bytes.NewReader(reply.Image)}}
	}
	var components []discordgo.MessageComponent
	if reply.Button != nil {
		components = []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: reply.Button.Label, Style: discordgo.PrimaryButton, CustomID: reply.Button.CustomID},
			}},
		}
	}

	if r.deferred {
		content := reply.Content
		edit := &discordgo.WebhookEdit{Content: &content, Files: files}
		if len(components) > 0 {
			edit.Components = &components
		}
		_, err := r.session.InteractionResponseEdit(r.interaction, edit, discordgo.WithContext(ctx))
		return platform.Wrap("edit interaction", err)
	}

	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    reply.Content,
			Flags:      discordgo.MessageFlagsEphemeral,
			Files:      files,
			Components: components,
		},
	}, discordgo.WithContext(ctx))
	return platform.Wrap("reply", err)
}

func (r *interactionResponder) ShowModal(ctx context.Context, modal verification.Modal) error {
	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: modal.CustomID,
			Title:    modal.Title,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:  modal.InputID,
						Label:     modal.InputLabel,
						Style:     discordgo.TextInputShort,
						Required:  true,
						MinLength: modal.MinLength,
						MaxLength: modal.MaxLength,
					},
				}},
			},
		},
	}, discordgo.WithContext(ctx))
	return platform.Wrap("show modal", err)
}

func (b *Bot) handleCommand(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.ApplicationCommandData()
	if interaction.GuildID == "" || interaction.Member == nil {
		b.respondEmbed(session, interaction, b.errorEmbed(data.Name, "This command only works inside a server."), true)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, eventTimeout)
	defer cancel()

	switch data.Name {
	case "verification":
		if !hasPermission(interaction.Member, discordgo.PermissionManageServer) {
			b.respondEmbed(session, interaction, b.errorEmbed("Verification", "You need the Manage Server permission."), true)
			return
		}
		b.handleVerificationCommand(ctx, session, interaction, data.Options)
	case "spam":
		if !hasPermission(interaction.Member, discordgo.PermissionManageServer) {
			b.respondEmbed(session, interaction, b.errorEmbed("Spam", "You need the Manage Server permission."), true)
			return
		}
		b.handleSpamCommand(ctx, session, interaction, data.Options)
	case "warn", "warnings", "clearwarnings":
		if !hasPermission(interaction.Member, discordgo.PermissionModerateMembers) {
			b.respondEmbed(session, interaction, b.errorEmbed("Warnings", "You need the Moderate Members permission."), true)
			return
		}
		b.handleWarningCommand(ctx, session, interaction, data.Name, data.Options)
	}
}

func hasPermission(member *discordgo.Member, perm int64) bool {
	if member == nil {
		return false
	}
	return member.Permissions&discordgo.PermissionAdministrator != 0 || member.Permissions&perm != 0
}

type commandOptions map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) commandOptions {
	m := make(commandOptions, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

func (o commandOptions) str(name string) (string, bool) {
	opt, ok := o[name]
	if !ok {
		return "", false
	}
	return strings.TrimSpace(opt.StringValue()), true
}

func (o commandOptions) integer(name string) (int, bool) {
	opt, ok := o[name]
	if !ok {
		return 0, false
	}
	return int(opt.IntValue()), true
}

func subcommand(options []*discordgo.ApplicationCommandInteractionDataOption) (string, commandOptions) {
	if len(options) == 0 || options[0].Type != discordgo.ApplicationCommandOptionSubCommand {
		return "", nil
	}
	return options[0].Name, optionMap(options[0].Options)
}

func (b *Bot) handleVerificationCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	guildID := interaction.GuildID
	actorID := interactionUser(interaction).ID
	colors := b.cfg.Notifications.EmbedColors
	name, opts := subcommand(options)

	var patch settings.VerifyPatch
	switch name {
	case "status":
		b.respondEmbed(session, interaction, b.commandEmbed("Verification", "Current configuration.", colors.Action, verifyFields(b.settings.Verify(guildID))), true)
		return
	case "send":
		deferred := b.deferEphemeral(session, interaction)
		result, err := b.publisher.Publish(ctx, guildID, true)
		if err != nil {
			b.finishEmbed(session, interaction, deferred, b.errorEmbed("Verification", describeConfigErr(err)))
			return
		}
		msg := map[verification.PublishResult]string{
			verification.PublishDisabled: "Verification is disabled; nothing was sent.",
			verification.PublishKept:     "The prompt is already posted.",
			verification.PublishSent:     "Prompt sent.",
		}[result]
		b.finishEmbed(session, interaction, deferred, b.commandEmbed("Verification", msg, colors.Action, nil))
		return
	case "stats":
		b.verificationStats(ctx, session, interaction, opts)
		return
	case "enable":
		enabled := true
		patch.Enabled = &enabled
	case "disable":
		enabled := false
		patch.Enabled = &enabled
	case "channel":
		opt, ok := opts["channel"]
		if !ok {
			b.respondEmbed(session, interaction, b.errorEmbed("Verification", "Pick a channel."), true)
			return
		}
		channelID := opt.ChannelValue(nil).ID
		patch.ChannelID = &channelID
	case "prompt":
		if text, ok := opts.str("text"); ok {
			patch.Prompt = &text
		}
		if title, ok := opts.str("title"); ok {
			patch.Title = &title
		}
		if ping, ok := opts.str("ping"); ok {
			patch.PingText = &ping
		}
		if image, ok := opts.str("image_url"); ok {
			patch.ImageURL = &image
		}
		if raw, ok := opts.str("color"); ok {
			color, err := parseColor(raw)
			if err != nil {
				b.respondEmbed(session, interaction, b.errorEmbed("Verification", "Colors look like #0099ff."), true)
				return
			}
			patch.Color = &color
		}
	case "roles":
		target, _ := opts.str("target")
		raw, _ := opts.str("list")
		list := splitList(raw)
		if target == "join" {
			patch.RolesOnJoin = &list
		} else {
			patch.RolesOnVerify = &list
		}
	case "kind":
		raw, _ := opts.str("value")
		kind, ok := challenge.ParseKind(raw)
		if !ok {
			b.respondEmbed(session, interaction, b.errorEmbed("Verification", "Unknown challenge kind."), true)
			return
		}
		patch.ChallengeKind = &kind
	default:
		b.respondEmbed(session, interaction, b.errorEmbed("Verification", "Unknown subcommand."), true)
		return
	}

	// Reconfigure may delete and post prompts, which can outlast the
	// first-response deadline.
	deferred := b.deferEphemeral(session, interaction)
	cfg, err := b.publisher.Reconfigure(ctx, guildID, actorID, patch)
	if err != nil {
		if errors.Is(err, settings.ErrInvalidConfig) {
			b.finishEmbed(session, interaction, deferred, b.errorEmbed("Verification", err.Error()))
			return
		}
		var cerr *verification.ConfigError
		if errors.As(err, &cerr) {
			b.finishEmbed(session, interaction, deferred, b.commandEmbed("Verification", "Saved, but the prompt could not be posted: "+cerr.Reason, colors.Warning, verifyFields(cfg)))
			return
		}
		b.logger.Warn("verification update failed", zap.String("guild_id", guildID), zap.Error(err))
		b.finishEmbed(session, interaction, deferred, b.errorEmbed("Verification", "Something went wrong, please try again."))
		return
	}
	b.finishEmbed(session, interaction, deferred, b.commandEmbed("Verification", "Configuration updated.", colors.Action, verifyFields(cfg)))
}

func (b *Bot) verificationStats(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts commandOptions) {
	period, _ := opts.str("period")
	since := time.Now().Add(-24 * time.Hour)
	if period == "week" {
		since = time.Now().Add(-7 * 24 * time.Hour)
	}
	report, err := b.analytics.Report(ctx, interaction.GuildID, since)
	if err != nil {
		b.logger.Warn("stats failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondEmbed(session, interaction, b.errorEmbed("Verification stats", "Could not read the audit log."), true)
		return
	}
	rate := report.SuccessRate(audit.EventVerifySuccess, audit.EventVerifyFailed, audit.EventVerifyExpired)
	fields := []*discordgo.MessageEmbedField{
		{Name: "Challenges", Value: strconv.Itoa(report.ByEvent[audit.EventVerifyIssued]), Inline: true},
		{Name: "Verified", Value: strconv.Itoa(report.ByEvent[audit.EventVerifySuccess]), Inline: true},
		{Name: "Wrong answers", Value: strconv.Itoa(report.ByEvent[audit.EventVerifyFailed]), Inline: true},
		{Name: "Expired", Value: strconv.Itoa(report.ByEvent[audit.EventVerifyExpired]), Inline: true},
		{Name: "Success rate", Value: fmt.Sprintf("%.0f%%", rate*100), Inline: true},
		{Name: "Spam breaches", Value: strconv.Itoa(report.ByEvent[audit.EventSpamBreach]), Inline: true},
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Verification stats", formatReport(report), b.cfg.Notifications.EmbedColors.Action, fields), true)
}

func (b *Bot) handleSpamCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	guildID := interaction.GuildID
	colors := b.cfg.Notifications.EmbedColors
	name, opts := subcommand(options)

	switch name {
	case "view":
		b.respondEmbed(session, interaction, b.commandEmbed("Spam", "Current thresholds.", colors.Action, spamFields(b.settings.Spam(guildID))), true)
	case "set":
		var patch settings.SpamPatch
		if messages, ok := opts.integer("messages"); ok {
			patch.MessageLimit = &messages
		}
		if seconds, ok := opts.integer("window"); ok {
			window := time.Duration(seconds) * time.Second
			patch.Window = &window
		}
		cfg, err := b.settings.UpdateSpam(ctx, guildID, patch)
		if err != nil {
			if errors.Is(err, settings.ErrInvalidConfig) {
				b.respondEmbed(session, interaction, b.errorEmbed("Spam", err.Error()), true)
				return
			}
			b.logger.Warn("spam update failed", zap.String("guild_id", guildID), zap.Error(err))
			b.respondEmbed(session, interaction, b.errorEmbed("Spam", "Something went wrong, please try again."), true)
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, guildID, interactionUser(interaction).ID, audit.EventConfigUpdated,
			fmt.Sprintf("spam messages=%d window=%s", cfg.MessageLimit, cfg.Window))
		b.respondEmbed(session, interaction, b.commandEmbed("Spam", "Thresholds updated.", colors.Action, spamFields(cfg)), true)
	default:
		b.respondEmbed(session, interaction, b.errorEmbed("Spam", "Unknown subcommand."), true)
	}
}

func (b *Bot) handleWarningCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, name string, options []*discordgo.ApplicationCommandInteractionDataOption) {
	guildID := interaction.GuildID
	moderatorID := interactionUser(interaction).ID
	colors := b.cfg.Notifications.EmbedColors
	opts := optionMap(options)

	userOpt, ok := opts["user"]
	if !ok {
		b.respondEmbed(session, interaction, b.errorEmbed("Warnings", "Pick a member."), true)
		return
	}
	userID := userOpt.UserValue(nil).ID
	mention := "<@" + userID + ">"

	switch name {
	case "warn":
		reason, _ := opts.str("reason")
		result, err := b.warnings.Warn(ctx, guildID, userID, moderatorID, reason)
		if err != nil {
			b.logger.Warn("warn failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
			b.respondEmbed(session, interaction, b.errorEmbed("Warnings", "The warning could not be saved."), true)
			return
		}
		fields := []*discordgo.MessageEmbedField{
			{Name: "Member", Value: mention, Inline: true},
			{Name: "Warnings", Value: strconv.Itoa(result.Count), Inline: true},
			{Name: "Reason", Value: result.Warning.Reason},
		}
		switch {
		case result.TimedOut:
			fields = append(fields, &discordgo.MessageEmbedField{Name: "Timeout", Value: fmt.Sprintf("<t:%d:R>", result.Until.Unix())})
		case result.TimeoutErr != nil:
			fields = append(fields, &discordgo.MessageEmbedField{Name: "Timeout", Value: "Threshold reached but the timeout failed."})
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Warning added", "", colors.Warning, fields), false)
	case "warnings":
		list, err := b.warnings.List(ctx, guildID, userID)
		if err != nil {
			b.respondEmbed(session, interaction, b.errorEmbed("Warnings", "Could not read warnings."), true)
			return
		}
		if len(list) == 0 {
			b.respondEmbed(session, interaction, b.commandEmbed("Warnings", mention+" has no warnings.", colors.Action, nil), true)
			return
		}
		var lines []string
		for i, w := range list {
			if i == 10 {
				lines = append(lines, fmt.Sprintf("... and %d more", len(list)-i))
				break
			}
			lines = append(lines, fmt.Sprintf("<t:%d:d> by <@%s>: %s", w.CreatedAt.Unix(), w.ModeratorID, w.Reason))
		}
		b.respondEmbed(session, interaction, b.commandEmbed(fmt.Sprintf("Warnings (%d)", len(list)), mention+"\n"+strings.Join(lines, "\n"), colors.Action, nil), true)
	case "clearwarnings":
		removed, err := b.warnings.Clear(ctx, guildID, userID, moderatorID)
		if err != nil {
			b.respondEmbed(session, interaction, b.errorEmbed("Warnings", "Could not clear warnings."), true)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Warnings cleared", fmt.Sprintf("Removed %d warnings from %s.", removed, mention), colors.Action, nil), true)
	}
}

func verifyFields(cfg settings.VerifyConfig) []*discordgo.MessageEmbedField {
	channel := "not set"
	if cfg.ChannelID != "" {
		channel = "<#" + cfg.ChannelID + ">"
	}
	lastSent := "never"
	if !cfg.LastSent.IsZero() {
		lastSent = fmt.Sprintf("<t:%d:R>", cfg.LastSent.Unix())
	}
	return []*discordgo.MessageEmbedField{
		{Name: "Enabled", Value: strconv.FormatBool(cfg.Enabled), Inline: true},
		{Name: "Channel", Value: channel, Inline: true},
		{Name: "Challenge", Value: string(cfg.ChallengeKind), Inline: true},
		{Name: "Roles on join", Value: listOrNone(cfg.RolesOnJoin), Inline: true},
		{Name: "Roles on verify", Value: listOrNone(cfg.RolesOnVerify), Inline: true},
		{Name: "Prompt sent", Value: lastSent, Inline: true},
	}
}

func spamFields(cfg settings.SpamConfig) []*discordgo.MessageEmbedField {
	return []*discordgo.MessageEmbedField{
		{Name: "Messages", Value: strconv.Itoa(cfg.MessageLimit), Inline: true},
		{Name: "Window", Value: cfg.Window.String(), Inline: true},
	}
}

func describeConfigErr(err error) string {
	var cerr *verification.ConfigError
	if errors.As(err, &cerr) {
		return cerr.Reason
	}
	return "Something went wrong, please try again."
}

func listOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}

// splitList reads a comma separated list of role ids or names. "none" clears it.
func splitList(raw string) []string {
	if strings.EqualFold(strings.TrimSpace(raw), "none") {
		return []string{}
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "<@&") && strings.HasSuffix(part, ">") {
			part = part[3 : len(part)-1]
		}
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseColor(raw string) (int, error) {
	raw = strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(raw), "#"), "0x")
	value, err := strconv.ParseInt(raw, 16, 32)
	if err != nil {
		return 0, err
	}
	return int(value), nil
}
