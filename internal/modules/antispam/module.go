package antispam

import (
	"context"
	"fmt"
	"time"

	"aurox-gatekeeper/internal/modules/audit"
	"aurox-gatekeeper/internal/settings"

	"go.uber.org/zap"
)

type Platform interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	BulkDeleteMessages(ctx context.Context, channelID string, messageIDs []string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
}

type Settings interface {
	Spam(guildID string) settings.SpamConfig
}

type Auditor interface {
	Log(ctx context.Context, level, guildID, userID, event, details string)
}

type Event struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Bot       bool
	At        time.Time
}

// Remediation reports what happened to a burst. Every step is attempted even
// when an earlier one fails.
type Remediation struct {
	Deleted      int
	DeleteFailed int
	Kicked       bool
	KickErr      error
}

type Module struct {
	detector *Detector
	platform Platform
	settings Settings
	audit    Auditor
	logger   *zap.Logger
}

func New(p Platform, s Settings, auditLogger Auditor, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		detector: NewDetector(),
		platform: p,
		settings: s,
		audit:    auditLogger,
		logger:   logger,
	}
}

func (m *Module) HandleMessage(ctx context.Context, ev Event) (Result, Remediation) {
	if ev.Bot || ev.GuildID == "" || ev.UserID == "" {
		return Result{Verdict: Clear}, Remediation{}
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	cfg := m.settings.Spam(ev.GuildID)
	result := m.detector.Observe(ev.GuildID, ev.UserID, ev.At, Message{ChannelID: ev.ChannelID, MessageID: ev.MessageID}, cfg.MessageLimit, cfg.Window)
	if result.Verdict != Breach {
		return result, Remediation{}
	}

	rem := m.remediate(ctx, ev, result, cfg)
	m.audit.Log(ctx, audit.LevelWarn, ev.GuildID, ev.UserID, audit.EventSpamBreach,
		fmt.Sprintf("%d messages in %s; deleted=%d failed=%d kicked=%t", result.Count, cfg.Window, rem.Deleted, rem.DeleteFailed, rem.Kicked))
	return result, rem
}

func (m *Module) remediate(ctx context.Context, ev Event, result Result, cfg settings.SpamConfig) Remediation {
	var rem Remediation

	if err := m.platform.DeleteMessage(ctx, ev.ChannelID, ev.MessageID); err != nil {
		rem.DeleteFailed++
		m.logger.Warn("spam trigger delete failed", zap.String("guild_id", ev.GuildID), zap.String("message_id", ev.MessageID), zap.Error(err))
	} else {
		rem.Deleted++
	}

	byChannel := make(map[string][]string)
	var order []string
	for _, entry := range result.Burst {
		msg := entry.Value
		if msg.MessageID == "" || (msg.ChannelID == ev.ChannelID && msg.MessageID == ev.MessageID) {
			continue
		}
		if _, ok := byChannel[msg.ChannelID]; !ok {
			order = append(order, msg.ChannelID)
		}
		byChannel[msg.ChannelID] = append(byChannel[msg.ChannelID], msg.MessageID)
	}
	for _, channelID := range order {
		ids := byChannel[channelID]
		if err := m.platform.BulkDeleteMessages(ctx, channelID, ids); err != nil {
			rem.DeleteFailed += len(ids)
			m.logger.Warn("spam bulk delete failed", zap.String("guild_id", ev.GuildID), zap.String("channel_id", channelID), zap.Int("count", len(ids)), zap.Error(err))
			continue
		}
		rem.Deleted += len(ids)
	}

	reason := fmt.Sprintf("Spam detected: %d messages in %s", result.Count, cfg.Window)
	if err := m.platform.Kick(ctx, ev.GuildID, ev.UserID, reason); err != nil {
		rem.KickErr = err
		m.logger.Warn("spam kick failed", zap.String("guild_id", ev.GuildID), zap.String("user_id", ev.UserID), zap.Error(err))
	} else {
		rem.Kicked = true
	}
	return rem
}

// RunJanitor prunes idle windows every interval until ctx is done.
func (m *Module) RunJanitor(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := m.detector.Prune(now, idle); removed > 0 {
				m.logger.Debug("spam windows pruned", zap.Int("removed", removed))
			}
		}
	}
}
