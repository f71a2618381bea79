package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

type Store struct {
	db     *sql.DB
	driver string
}

type GuildSettings struct {
	GuildID           string
	SpamMessages      int
	SpamWindowSeconds int
}

// VerifyConfig is a stored verification configuration. A nil Color means the
// guild never chose one. Damaged is set when the
// row could not be read cleanly (for example an enabled flag that is not 0/1
// or a role list that is not a JSON array); callers decide how to repair it.
type VerifyConfig struct {
	GuildID       string
	Enabled       bool
	ChannelID     string
	MessageID     string
	Prompt        string
	Title         string
	Color         *int
	ImageURL      string
	PingText      string
	RolesOnJoin   []string
	RolesOnVerify []string
	ChallengeKind string
	LastSent      time.Time
	Damaged       bool
}

type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

func New(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// A single connection keeps ":memory:" databases shared and serialises writers.
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Migrate() error {
	dir := path.Join("migrations", s.dialect())
	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join(dir, file))
		if err != nil {
			return err
		}
		for _, stmt := range splitStatements(string(content)) {
			if _, err := s.db.Exec(stmt); err != nil {
				if isIgnorableMigrationError(err) {
					continue
				}
				return fmt.Errorf("migration %s failed: %w", file, err)
			}
		}
	}
	return nil
}

func (s *Store) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO guild_settings (guild_id, spam_messages, spam_window_seconds, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			spam_messages = excluded.spam_messages,
			spam_window_seconds = excluded.spam_window_seconds,
			updated_at = excluded.updated_at
	`),
		settings.GuildID,
		settings.SpamMessages,
		settings.SpamWindowSeconds,
		time.Now().Unix(),
	)
	return err
}

func (s *Store) ListGuildSettings(ctx context.Context) ([]GuildSettings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, spam_messages, spam_window_seconds FROM guild_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []GuildSettings
	for rows.Next() {
		var settings GuildSettings
		if err := rows.Scan(&settings.GuildID, &settings.SpamMessages, &settings.SpamWindowSeconds); err != nil {
			return nil, err
		}
		result = append(result, settings)
	}
	return result, rows.Err()
}

const verifyColumns = `guild_id, enabled, channel_id, message_id, prompt, title, color, image_url,
	ping_text, roles_on_join, roles_on_verify, challenge_kind, last_sent`

func (s *Store) ListVerifyConfigs(ctx context.Context) ([]VerifyConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+verifyColumns+` FROM verify_configs ORDER BY guild_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []VerifyConfig
	for rows.Next() {
		cfg, err := scanVerifyConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (s *Store) UpsertVerifyConfig(ctx context.Context, cfg VerifyConfig) error {
	onJoin, err := encodeRoles(cfg.RolesOnJoin)
	if err != nil {
		return err
	}
	onVerify, err := encodeRoles(cfg.RolesOnVerify)
	if err != nil {
		return err
	}
	var lastSent int64
	if !cfg.LastSent.IsZero() {
		lastSent = cfg.LastSent.UnixMilli()
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO verify_configs (
			guild_id, enabled, channel_id, message_id, prompt, title, color, image_url,
			ping_text, roles_on_join, roles_on_verify, challenge_kind, last_sent, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			enabled = excluded.enabled,
			channel_id = excluded.channel_id,
			message_id = excluded.message_id,
			prompt = excluded.prompt,
			title = excluded.title,
			color = excluded.color,
			image_url = excluded.image_url,
			ping_text = excluded.ping_text,
			roles_on_join = excluded.roles_on_join,
			roles_on_verify = excluded.roles_on_verify,
			challenge_kind = excluded.challenge_kind,
			last_sent = excluded.last_sent,
			updated_at = excluded.updated_at
	`),
		cfg.GuildID,
		boolToInt(cfg.Enabled),
		cfg.ChannelID,
		cfg.MessageID,
		cfg.Prompt,
		cfg.Title,
		nullableInt(cfg.Color),
		cfg.ImageURL,
		cfg.PingText,
		onJoin,
		onVerify,
		cfg.ChallengeKind,
		lastSent,
		time.Now().Unix(),
	)
	return err
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
	`), guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		var created int64
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM audit_logs WHERE created_at < ?`), cutoff.Unix())
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVerifyConfig(row scanner) (VerifyConfig, error) {
	var cfg VerifyConfig
	var enabled int
	var onJoin, onVerify string
	var lastSent int64
	var color sql.NullInt64
	err := row.Scan(
		&cfg.GuildID,
		&enabled,
		&cfg.ChannelID,
		&cfg.MessageID,
		&cfg.Prompt,
		&cfg.Title,
		&color,
		&cfg.ImageURL,
		&cfg.PingText,
		&onJoin,
		&onVerify,
		&cfg.ChallengeKind,
		&lastSent,
	)
	if err != nil {
		return VerifyConfig{}, err
	}

	switch enabled {
	case 0:
	case 1:
		cfg.Enabled = true
	default:
		cfg.Damaged = true
	}
	if cfg.RolesOnJoin, err = decodeRoles(onJoin); err != nil {
		cfg.Damaged = true
	}
	if cfg.RolesOnVerify, err = decodeRoles(onVerify); err != nil {
		cfg.Damaged = true
	}
	if lastSent > 0 {
		cfg.LastSent = time.UnixMilli(lastSent)
	}
	if color.Valid {
		c := int(color.Int64)
		cfg.Color = &c
	}
	return cfg, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func encodeRoles(roles []string) (string, error) {
	if len(roles) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(roles)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeRoles(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var roles []string
	if err := json.Unmarshal([]byte(raw), &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) dialect() string {
	if s.driver == DriverPostgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites "?" placeholders to "$n" for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitStatements(content string) []string {
	var stmts []string
	for _, part := range strings.Split(content, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
