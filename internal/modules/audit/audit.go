package audit

import (
	"context"
	"time"

	"aurox-gatekeeper/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

const (
	EventVerifyIssued   = "verify_issued"
	EventVerifySuccess  = "verify_success"
	EventVerifyFailed   = "verify_failed"
	EventVerifyExpired  = "verify_expired"
	EventVerifyRoles    = "verify_roles_partial"
	EventPromptSent     = "prompt_sent"
	EventPromptRetract  = "prompt_retracted"
	EventJoinRoles      = "join_roles"
	EventSpamBreach     = "spam_breach"
	EventWarnAdded      = "warn_added"
	EventWarnTimeout    = "warn_timeout"
	EventWarnsCleared   = "warns_cleared"
	EventConfigRepaired = "config_repaired"
	EventConfigUpdated  = "config_updated"
)

type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{store: store, logger: logger, now: time.Now}
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit persist failed", zap.String("event", event), zap.Error(err))
		}
	}
	l.logger.Info("audit", zap.String("level", level), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details))
}
