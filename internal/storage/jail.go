package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

func (s *Store) GetJailRole(ctx context.Context, guildID string) (string, error) {
	var roleID string
	err := s.db.GetContext(ctx, &roleID, s.db.Rebind(`SELECT role_id FROM jail_config WHERE guild_id = ?`), guildID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return roleID, err
}

func (s *Store) SetJailRole(ctx context.Context, guildID, roleID string) error {
	_, err := s.exec(ctx, `
		INSERT INTO jail_config (guild_id, role_id) VALUES (?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET role_id = excluded.role_id
	`, guildID, roleID)
	return err
}

// SaveJailedRoles records the roles a member held before being jailed. When the
// member is already jailed the earlier snapshot is kept and returned, so a
// second jail never overwrites the roles to restore with the jail role itself.
func (s *Store) SaveJailedRoles(ctx context.Context, guildID, userID string, roles []string) (saved []string, alreadyJailed bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existing string
	scanErr := tx.GetContext(ctx, &existing, tx.Rebind(`
		SELECT roles FROM jailed WHERE guild_id = ? AND user_id = ?
	`), guildID, userID)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		err = scanErr
		return nil, false, err
	}
	if scanErr == nil {
		if err = tx.Commit(); err != nil {
			return nil, false, err
		}
		return splitIDs(existing), true, nil
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO jailed (guild_id, user_id, roles) VALUES (?, ?, ?)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET roles = excluded.roles
	`), guildID, userID, strings.Join(roles, ","))
	if err != nil {
		return nil, false, err
	}
	if err = tx.Commit(); err != nil {
		return nil, false, err
	}
	return roles, false, nil
}

func (s *Store) GetJailedRoles(ctx context.Context, guildID, userID string) ([]string, bool, error) {
	var roles string
	err := s.db.GetContext(ctx, &roles, s.db.Rebind(`SELECT roles FROM jailed WHERE guild_id = ? AND user_id = ?`), guildID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return splitIDs(roles), true, nil
}

func (s *Store) DeleteJailed(ctx context.Context, guildID, userID string) error {
	_, err := s.exec(ctx, `DELETE FROM jailed WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	return err
}

func splitIDs(value string) []string {
	var ids []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}
