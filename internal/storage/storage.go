package storage

import (
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store persists automod configuration. Queries are written with ? placeholders
// and rebound for the active driver.
type Store struct {
	db      *sqlx.DB
	dialect string
}

type AuditLog struct {
	ID        int64     `db:"id"`
	GuildID   string    `db:"guild_id"`
	UserID    string    `db:"user_id"`
	Level     string    `db:"level"`
	Event     string    `db:"event"`
	Details   string    `db:"details"`
	CreatedAt time.Time `db:"-"`
}

func New(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres:
		db, err := sqlx.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &Store{db: db, dialect: DriverPostgres}, nil
	default:
		db, err := sqlx.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// one connection keeps :memory: databases shared and serialises writers
		db.SetMaxOpenConns(1)
		return &Store{db: db, dialect: DriverSQLite}, nil
	}
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Migrate() error {
	dir := path.Join("migrations", s.dialect)
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
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.exec(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	type row struct {
		AuditLog
		Created int64 `db:"created_at"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
	`), guildID, since.Unix())
	if err != nil {
		return nil, err
	}

	logs := make([]AuditLog, 0, len(rows))
	for _, r := range rows {
		log := r.AuditLog
		log.CreatedAt = time.Unix(r.Created, 0)
		logs = append(logs, log)
	}
	return logs, nil
}

func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return s.exec(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, cutoff.Unix())
}

func (s *Store) AddDomainAllow(ctx context.Context, guildID, domain string) error {
	_, err := s.exec(ctx, `
		INSERT INTO domain_allowlist (guild_id, domain) VALUES (?, ?)
		ON CONFLICT (guild_id, domain) DO NOTHING
	`, guildID, normalizeDomain(domain))
	return err
}

func (s *Store) RemoveDomainAllow(ctx context.Context, guildID, domain string) error {
	_, err := s.exec(ctx, `DELETE FROM domain_allowlist WHERE guild_id = ? AND domain = ?`, guildID, normalizeDomain(domain))
	return err
}

func (s *Store) ListDomainAllow(ctx context.Context, guildID string) ([]string, error) {
	var domains []string
	err := s.db.SelectContext(ctx, &domains, s.db.Rebind(`SELECT domain FROM domain_allowlist WHERE guild_id = ? ORDER BY domain`), guildID)
	return domains, err
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(domain, "www.")
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
