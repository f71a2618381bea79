package warnings

import (
	"context"
	"fmt"
	"time"

	"aurox-gatekeeper/internal/modules/audit"
	"aurox-gatekeeper/internal/storage"

	"go.uber.org/zap"
)

type Platform interface {
	Timeout(ctx context.Context, guildID, userID string, until time.Time) error
}

type Store interface {
	AddWarning(ctx context.Context, guildID, userID, moderatorID, reason string) (storage.Warning, int, error)
	Warnings(ctx context.Context, guildID, userID string) ([]storage.Warning, error)
	ClearWarnings(ctx context.Context, guildID, userID string) (int, error)
}

type Auditor interface {
	Log(ctx context.Context, level, guildID, userID, event, details string)
}

// Result is what a warning led to. TimeoutErr is set when the member reached
// the threshold but could not be timed out.
type Result struct {
	Warning    storage.Warning
	Count      int
	TimedOut   bool
	Until      time.Time
	TimeoutErr error
}

type Module struct {
	platform  Platform
	store     Store
	audit     Auditor
	logger    *zap.Logger
	threshold int
	duration  time.Duration
	now       func() time.Time
}

// New builds the module. A threshold of zero never times anyone out.
func New(p Platform, store Store, auditLogger Auditor, threshold int, duration time.Duration, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		platform:  p,
		store:     store,
		audit:     auditLogger,
		logger:    logger,
		threshold: threshold,
		duration:  duration,
		now:       time.Now,
	}
}

func (m *Module) Warn(ctx context.Context, guildID, userID, moderatorID, reason string) (Result, error) {
	warning, count, err := m.store.AddWarning(ctx, guildID, userID, moderatorID, reason)
	if err != nil {
		return Result{}, fmt.Errorf("add warning: %w", err)
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, userID, audit.EventWarnAdded, fmt.Sprintf("by %s (%d total): %s", moderatorID, count, warning.Reason))

	result := Result{Warning: warning, Count: count}
	if m.threshold <= 0 || count < m.threshold || m.duration <= 0 {
		return result, nil
	}

	until := m.now().Add(m.duration)
	if err := m.platform.Timeout(ctx, guildID, userID, until); err != nil {
		m.logger.Warn("warning timeout failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		result.TimeoutErr = err
		return result, nil
	}
	result.TimedOut = true
	result.Until = until
	m.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventWarnTimeout, fmt.Sprintf("%d warnings, timed out for %s", count, m.duration))
	return result, nil
}

func (m *Module) List(ctx context.Context, guildID, userID string) ([]storage.Warning, error) {
	return m.store.Warnings(ctx, guildID, userID)
}

func (m *Module) Clear(ctx context.Context, guildID, userID, moderatorID string) (int, error) {
	removed, err := m.store.ClearWarnings(ctx, guildID, userID)
	if err != nil {
		return 0, err
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, userID, audit.EventWarnsCleared, fmt.Sprintf("%d removed by %s", removed, moderatorID))
	return removed, nil
}
