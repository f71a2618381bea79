package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aurox-gatekeeper/internal/captcha"
	"aurox-gatekeeper/internal/challenge"
	"aurox-gatekeeper/internal/modules/audit"
	"aurox-gatekeeper/internal/platform"
	"aurox-gatekeeper/internal/roles"
	"aurox-gatekeeper/internal/settings"

	"go.uber.org/zap"
)

// ConfigError means the guild is not set up in a way verification can work with.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "verification misconfigured: " + e.Reason
}

type EventType int

const (
	EventButton EventType = iota + 1
	EventModalSubmit
)

// Event is a member's click or modal submission, stripped of transport details.
type Event struct {
	Type      EventType
	CustomID  string
	GuildID   string
	ChannelID string
	UserID    string
	AvatarURL string
	CreatedAt time.Time
	Answer    string
}

type Button struct {
	CustomID string
	Label    string
}

// Reply is an ephemeral message shown only to the member who acted.
type Reply struct {
	Content   string
	Image     []byte
	ImageName string
	Button    *Button
}

type Modal struct {
	CustomID   string
	Title      string
	InputID    string
	InputLabel string
	MinLength  int
	MaxLength  int
}

// Responder answers one interaction. Defer acknowledges it so a slow answer can
// follow later; a Reply after Defer fills in the acknowledgement. A modal has
// to be the first answer, so ShowModal is never preceded by Defer.
type Responder interface {
	Defer(ctx context.Context) error
	Reply(ctx context.Context, reply Reply) error
	ShowModal(ctx context.Context, modal Modal) error
}

type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeStale
	OutcomeNotOwner
	OutcomeConfigError
	OutcomeRenderError
	OutcomeIssued
	OutcomeModalShown
	OutcomeModalFailed
	OutcomeExpired
	OutcomeRejected
	OutcomeVerified
	OutcomeFailed
)

var outcomeNames = map[Outcome]string{
	OutcomeIgnored:     "ignored",
	OutcomeStale:       "stale",
	OutcomeNotOwner:    "not_owner",
	OutcomeConfigError: "config_error",
	OutcomeRenderError: "render_error",
	OutcomeIssued:      "issued",
	OutcomeModalShown:  "modal_shown",
	OutcomeModalFailed: "modal_failed",
	OutcomeExpired:     "expired",
	OutcomeRejected:    "rejected",
	OutcomeVerified:    "verified",
	OutcomeFailed:      "failed",
}

func (o Outcome) String() string {
	return outcomeNames[o]
}

type Platform interface {
	BotUserID() string
	Channel(ctx context.Context, channelID string) (platform.Channel, error)
	ChannelPermissions(ctx context.Context, channelID, userID string) (platform.Permission, error)
	Member(ctx context.Context, guildID, userID string) (platform.Member, error)
}

type Settings interface {
	Verify(guildID string) settings.VerifyConfig
}

type Renderer interface {
	Render(ctx context.Context, secret, avatarURL string) ([]byte, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, guildID, userID string, onJoin, onVerify []string) (roles.Summary, error)
}

type Auditor interface {
	Log(ctx context.Context, level, guildID, userID, event, details string)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Options struct {
	TTL           time.Duration
	SecretLength  int
	Alphabet      string
	StaleAfter    time.Duration
	ModalAttempts int
	ModalBackoff  time.Duration
}

func DefaultOptions() Options {
	return Options{
		TTL:           5 * time.Minute,
		SecretLength:  captcha.DefaultLength,
		Alphabet:      captcha.DefaultAlphabet,
		StaleAfter:    15 * time.Second,
		ModalAttempts: 2,
		ModalBackoff:  time.Second,
	}
}

// channelPerms is what the bot needs in the verification channel.
const channelPerms = platform.PermViewChannel | platform.PermSendMessages | platform.PermEmbedLinks

// Machine drives a member through verify, enter and submit. Each step is a
// separate interaction; the only state carried between them is the pending
// challenge in the store.
type Machine struct {
	opts       Options
	platform   Platform
	settings   Settings
	store      *challenge.Store
	renderer   Renderer
	reconciler Reconciler
	audit      Auditor
	logger     *zap.Logger
	clock      Clock
	sleep      func(ctx context.Context, d time.Duration)
}

func NewMachine(opts Options, p Platform, s Settings, store *challenge.Store, renderer Renderer, reconciler Reconciler, auditLogger Auditor, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ModalAttempts < 1 {
		opts.ModalAttempts = 1
	}
	return &Machine{
		opts:       opts,
		platform:   p,
		settings:   s,
		store:      store,
		renderer:   renderer,
		reconciler: reconciler,
		audit:      auditLogger,
		logger:     logger,
		clock:      realClock{},
		sleep:      sleepContext,
	}
}

func (m *Machine) WithClock(clock Clock) *Machine {
	m.clock = clock
	return m
}

func (m *Machine) WithSleep(sleep func(ctx context.Context, d time.Duration)) *Machine {
	m.sleep = sleep
	return m
}

// Handle routes one interaction. The returned error is only set when the
// member could not be answered at all.
func (m *Machine) Handle(ctx context.Context, ev Event, r Responder) (Outcome, error) {
	id, ok := ParseCustomID(ev.CustomID)
	if !ok || ev.GuildID == "" || ev.UserID == "" {
		return OutcomeIgnored, nil
	}

	switch {
	case ev.Type == EventButton && id.Action == ActionVerify:
		if m.stale(ev) {
			return OutcomeStale, m.reply(ctx, r, Reply{Content: msgStale})
		}
		return m.issue(ctx, ev, r)
	case ev.Type == EventButton && id.Action == ActionEnter:
		if m.stale(ev) {
			return OutcomeStale, m.reply(ctx, r, Reply{Content: msgStale})
		}
		if id.UserID != ev.UserID {
			return OutcomeNotOwner, m.reply(ctx, r, Reply{Content: msgNotYourButton})
		}
		return m.showModal(ctx, id, r)
	case ev.Type == EventModalSubmit && id.Action == ActionSubmit:
		if id.UserID != ev.UserID {
			return OutcomeNotOwner, m.reply(ctx, r, Reply{Content: msgNotYourModal})
		}
		return m.submit(ctx, ev, id, r)
	default:
		return OutcomeIgnored, nil
	}
}

func (m *Machine) stale(ev Event) bool {
	if ev.CreatedAt.IsZero() || m.opts.StaleAfter <= 0 {
		return false
	}
	return m.clock.Now().Sub(ev.CreatedAt) > m.opts.StaleAfter
}

func (m *Machine) issue(ctx context.Context, ev Event, r Responder) (Outcome, error) {
	// Channel checks, the avatar fetch and rendering can outlast the platform's
	// first-response deadline.
	if err := r.Defer(ctx); err != nil {
		m.logger.Warn("interaction defer failed", zap.String("guild_id", ev.GuildID), zap.String("user_id", ev.UserID), zap.Error(err))
		return OutcomeFailed, err
	}

	cfg := m.settings.Verify(ev.GuildID)
	if err := checkChannel(ctx, m.platform, ev.GuildID, cfg); err != nil {
		var cerr *ConfigError
		if errors.As(err, &cerr) {
			return OutcomeConfigError, m.reply(ctx, r, Reply{Content: cerr.Reason})
		}
		m.logger.Warn("verification channel check failed", zap.String("guild_id", ev.GuildID), zap.Error(err))
		return OutcomeFailed, m.reply(ctx, r, Reply{Content: msgGeneric})
	}

	kind := cfg.ChallengeKind
	if _, ok := challenge.ParseKind(string(kind)); !ok {
		kind = challenge.KindImage
	}

	var secret string
	var reply Reply
	switch kind {
	case challenge.KindMath:
		mc := captcha.NewMathChallenge()
		secret = mc.Answer
		reply = Reply{Content: fmt.Sprintf(msgMathInstructions, mc.Question)}
	default:
		secret = captcha.GenerateSecret(m.opts.SecretLength, m.opts.Alphabet)
		png, err := m.renderer.Render(ctx, secret, ev.AvatarURL)
		if err != nil {
			m.logger.Error("captcha render failed", zap.String("guild_id", ev.GuildID), zap.String("user_id", ev.UserID), zap.Error(err))
			return OutcomeRenderError, m.reply(ctx, r, Reply{Content: msgRenderFailed})
		}
		reply = Reply{Content: msgImageInstructions, Image: png, ImageName: "captcha.png"}
	}

	m.store.Issue(ev.GuildID, ev.UserID, kind, secret, m.opts.TTL)
	m.audit.Log(ctx, audit.LevelInfo, ev.GuildID, ev.UserID, audit.EventVerifyIssued, string(kind))

	reply.Button = &Button{CustomID: EnterButtonID(kind, ev.UserID), Label: msgEnterLabel}
	return OutcomeIssued, m.reply(ctx, r, reply)
}

type channelSource interface {
	BotUserID() string
	Channel(ctx context.Context, channelID string) (platform.Channel, error)
	ChannelPermissions(ctx context.Context, channelID, userID string) (platform.Permission, error)
}

// checkChannel reports a *ConfigError when the configured channel is unusable
// and a plain error when the platform could not be asked.
func checkChannel(ctx context.Context, p channelSource, guildID string, cfg settings.VerifyConfig) error {
	if !cfg.Enabled || cfg.ChannelID == "" {
		return &ConfigError{Reason: msgNotEnabled}
	}
	ch, err := p.Channel(ctx, cfg.ChannelID)
	if err != nil {
		if platform.IsNotFound(err) || platform.IsForbidden(err) {
			return &ConfigError{Reason: msgInvalidChannel}
		}
		return err
	}
	if !ch.Text || (ch.GuildID != "" && ch.GuildID != guildID) {
		return &ConfigError{Reason: msgInvalidChannel}
	}
	perm, err := p.ChannelPermissions(ctx, ch.ID, p.BotUserID())
	if err != nil {
		if platform.IsNotFound(err) || platform.IsForbidden(err) {
			return &ConfigError{Reason: msgChannelPerms}
		}
		return err
	}
	if !perm.Has(channelPerms) {
		return &ConfigError{Reason: msgChannelPerms}
	}
	return nil
}

func (m *Machine) showModal(ctx context.Context, id CustomID, r Responder) (Outcome, error) {
	modal := Modal{
		CustomID:   ModalID(id.Kind, id.UserID),
		Title:      msgModalTitle,
		InputID:    AnswerInputID,
		InputLabel: msgImageInputLabel,
		MinLength:  1,
		MaxLength:  32,
	}
	if id.Kind == challenge.KindMath {
		modal.InputLabel = msgMathInputLabel
	}

	var err error
	for attempt := 1; attempt <= m.opts.ModalAttempts; attempt++ {
		if err = r.ShowModal(ctx, modal); err == nil {
			return OutcomeModalShown, nil
		}
		m.logger.Warn("show modal failed", zap.String("user_id", id.UserID), zap.Int("attempt", attempt), zap.Error(err))
		if !platform.IsTransient(err) {
			break
		}
		if attempt < m.opts.ModalAttempts {
			m.sleep(ctx, m.opts.ModalBackoff)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return OutcomeModalFailed, m.reply(ctx, r, Reply{Content: msgModalFailed})
}

func (m *Machine) submit(ctx context.Context, ev Event, id CustomID, r Responder) (Outcome, error) {
	if err := r.Defer(ctx); err != nil {
		m.logger.Warn("interaction defer failed", zap.String("guild_id", ev.GuildID), zap.String("user_id", ev.UserID), zap.Error(err))
		return OutcomeFailed, err
	}

	entry, err := m.store.Redeem(ev.GuildID, ev.UserID, id.Kind)
	switch {
	case errors.Is(err, challenge.ErrNotFound):
		m.audit.Log(ctx, audit.LevelInfo, ev.GuildID, ev.UserID, audit.EventVerifyExpired, "no pending challenge")
		return OutcomeExpired, m.reply(ctx, r, Reply{Content: msgNoChallenge})
	case errors.Is(err, challenge.ErrExpired):
		m.audit.Log(ctx, audit.LevelInfo, ev.GuildID, ev.UserID, audit.EventVerifyExpired, "challenge expired")
		return OutcomeExpired, m.reply(ctx, r, Reply{Content: msgExpired})
	case err != nil:
		return OutcomeFailed, m.reply(ctx, r, Reply{Content: msgGeneric})
	}
	if !captcha.Matches(ev.Answer, entry.Secret) {
		m.audit.Log(ctx, audit.LevelWarn, ev.GuildID, ev.UserID, audit.EventVerifyFailed, string(id.Kind))
		return OutcomeRejected, m.reply(ctx, r, Reply{Content: msgWrongAnswer})
	}

	if _, err := m.platform.Member(ctx, ev.GuildID, ev.UserID); err != nil {
		if platform.IsNotFound(err) {
			return OutcomeFailed, m.reply(ctx, r, Reply{Content: msgMemberNotFound})
		}
		m.logger.Warn("member lookup failed", zap.String("guild_id", ev.GuildID), zap.String("user_id", ev.UserID), zap.Error(err))
		return OutcomeFailed, m.reply(ctx, r, Reply{Content: msgGeneric})
	}

	cfg := m.settings.Verify(ev.GuildID)
	summary, err := m.reconciler.Reconcile(ctx, ev.GuildID, ev.UserID, cfg.RolesOnJoin, cfg.RolesOnVerify)
	if err != nil {
		if errors.Is(err, roles.ErrMissingManageRoles) {
			return OutcomeConfigError, m.reply(ctx, r, Reply{Content: msgNoManageRoles})
		}
		m.logger.Warn("role reconcile failed", zap.String("guild_id", ev.GuildID), zap.String("user_id", ev.UserID), zap.Error(err))
		return OutcomeFailed, m.reply(ctx, r, Reply{Content: msgGeneric})
	}

	details := fmt.Sprintf("applied=%d failed=%d unresolved=%d",
		summary.Count(roles.StatusApplied), summary.Count(roles.StatusFailed), summary.Count(roles.StatusUnresolved))
	m.audit.Log(ctx, audit.LevelInfo, ev.GuildID, ev.UserID, audit.EventVerifySuccess, details)
	if summary.Failed() {
		m.audit.Log(ctx, audit.LevelWarn, ev.GuildID, ev.UserID, audit.EventVerifyRoles, details)
	}
	return OutcomeVerified, m.reply(ctx, r, Reply{Content: msgVerified})
}

func (m *Machine) reply(ctx context.Context, r Responder, reply Reply) error {
	if err := r.Reply(ctx, reply); err != nil {
		m.logger.Warn("interaction reply failed", zap.Error(err))
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
