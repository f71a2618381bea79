package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Warning struct {
	ID          string
	GuildID     string
	UserID      string
	ModeratorID string
	Reason      string
	CreatedAt   time.Time
}

// AddWarning stores a warning and returns it with the member's total warning count.
func (s *Store) AddWarning(ctx context.Context, warning Warning) (Warning, int, error) {
	if warning.ID == "" {
		warning.ID = uuid.NewString()
	}
	if warning.CreatedAt.IsZero() {
		warning.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Warning{}, 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO warnings (id, guild_id, user_id, moderator_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), warning.ID, warning.GuildID, warning.UserID, warning.ModeratorID, warning.Reason, warning.CreatedAt.Unix())
	if err != nil {
		return Warning{}, 0, err
	}

	var count int
	row := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM warnings WHERE guild_id = ? AND user_id = ?`), warning.GuildID, warning.UserID)
	if err = row.Scan(&count); err != nil {
		return Warning{}, 0, err
	}

	if err = tx.Commit(); err != nil {
		return Warning{}, 0, err
	}
	return warning, count, nil
}

// ListWarnings returns a member's warnings in the order they were added.
func (s *Store) ListWarnings(ctx context.Context, guildID, userID string) ([]Warning, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, guild_id, user_id, moderator_id, reason, created_at
		FROM warnings
		WHERE guild_id = ? AND user_id = ?
		ORDER BY seq ASC
	`), guildID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var warnings []Warning
	for rows.Next() {
		var w Warning
		var created int64
		if err := rows.Scan(&w.ID, &w.GuildID, &w.UserID, &w.ModeratorID, &w.Reason, &created); err != nil {
			return nil, err
		}
		w.CreatedAt = time.Unix(created, 0)
		warnings = append(warnings, w)
	}
	return warnings, rows.Err()
}

func (s *Store) ClearWarnings(ctx context.Context, guildID, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM warnings WHERE guild_id = ? AND user_id = ?`), guildID, userID)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
