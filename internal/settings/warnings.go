package settings

import (
	"context"
	"strings"

	"aurox-gatekeeper/internal/storage"
)

const maxReasonLength = 512

func (s *Store) AddWarning(ctx context.Context, guildID, userID, moderatorID, reason string) (storage.Warning, int, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "No reason given"
	}
	if runes := []rune(reason); len(runes) > maxReasonLength {
		reason = string(runes[:maxReasonLength])
	}
	return s.db.AddWarning(ctx, storage.Warning{
		GuildID:     guildID,
		UserID:      userID,
		ModeratorID: moderatorID,
		Reason:      reason,
	})
}

func (s *Store) Warnings(ctx context.Context, guildID, userID string) ([]storage.Warning, error) {
	return s.db.ListWarnings(ctx, guildID, userID)
}

func (s *Store) ClearWarnings(ctx context.Context, guildID, userID string) (int, error) {
	return s.db.ClearWarnings(ctx, guildID, userID)
}
