package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type FilterName string

const (
	FilterKeywords    FilterName = "keywords"
	FilterSpoilers    FilterName = "spoilers"
	FilterHeaders     FilterName = "headers"
	FilterImages      FilterName = "images"
	FilterLinks       FilterName = "links"
	FilterSpam        FilterName = "spam"
	FilterEmojis      FilterName = "emojis"
	FilterInvites     FilterName = "invites"
	FilterCaps        FilterName = "caps"
	FilterMassMention FilterName = "massmention"

	// FilterAll only appears in whitelist entries and exempts the subject
	// from every filter.
	FilterAll FilterName = "all"
)

// FilterNames lists the configurable filters in evaluation order.
var FilterNames = []FilterName{
	FilterKeywords,
	FilterSpoilers,
	FilterHeaders,
	FilterImages,
	FilterLinks,
	FilterSpam,
	FilterEmojis,
	FilterInvites,
	FilterCaps,
	FilterMassMention,
}

func ParseFilterName(value string) (FilterName, bool) {
	name := FilterName(strings.ToLower(strings.TrimSpace(value)))
	if name == FilterAll {
		return name, true
	}
	for _, known := range FilterNames {
		if known == name {
			return name, true
		}
	}
	return "", false
}

type FilterSetting struct {
	GuildID   string     `db:"guild_id"`
	Event     FilterName `db:"event"`
	Enabled   bool       `db:"is_enabled"`
	Threshold int        `db:"threshold"`
}

// Punishment is the action applied when a filter fires. The zero value means
// the guild has not configured one.
type Punishment int

const (
	PunishmentNone Punishment = iota
	PunishmentTimeout
	PunishmentKick
	PunishmentBan
	PunishmentJail
)

func (p Punishment) String() string {
	switch p {
	case PunishmentTimeout:
		return "timeout"
	case PunishmentKick:
		return "kick"
	case PunishmentBan:
		return "ban"
	case PunishmentJail:
		return "jail"
	default:
		return ""
	}
}

func ParsePunishment(value string) (Punishment, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return PunishmentNone, nil
	case "timeout", "mute":
		return PunishmentTimeout, nil
	case "kick":
		return PunishmentKick, nil
	case "ban":
		return PunishmentBan, nil
	case "jail":
		return PunishmentJail, nil
	default:
		return PunishmentNone, fmt.Errorf("unknown punishment %q", value)
	}
}

type FilterSetup struct {
	GuildID        string
	Punishment     Punishment
	TimeoutSeconds int
}

type SubjectKind string

const (
	SubjectUser    SubjectKind = "user"
	SubjectChannel SubjectKind = "channel"
	SubjectRole    SubjectKind = "role"
)

type WhitelistEntry struct {
	GuildID   string
	SubjectID string
	Kind      SubjectKind
	Events    []FilterName
}

// Covers reports whether the entry exempts its subject from filter.
func (e WhitelistEntry) Covers(filter FilterName) bool {
	for _, event := range e.Events {
		if event == filter || event == FilterAll {
			return true
		}
	}
	return false
}

func (s *Store) ListFilterSettings(ctx context.Context, guildID string) ([]FilterSetting, error) {
	var settings []FilterSetting
	err := s.db.SelectContext(ctx, &settings, s.db.Rebind(`
		SELECT guild_id, event, is_enabled, threshold FROM filter_event WHERE guild_id = ?
	`), guildID)
	return settings, err
}

func (s *Store) UpsertFilterSetting(ctx context.Context, setting FilterSetting) error {
	_, err := s.exec(ctx, `
		INSERT INTO filter_event (guild_id, event, is_enabled, threshold) VALUES (?, ?, ?, ?)
		ON CONFLICT (guild_id, event) DO UPDATE SET
			is_enabled = excluded.is_enabled,
			threshold = excluded.threshold
	`, setting.GuildID, string(setting.Event), setting.Enabled, setting.Threshold)
	return err
}

// ResetFilters drops every filter toggle and the punishment setup of a guild.
func (s *Store) ResetFilters(ctx context.Context, guildID string) error {
	if _, err := s.exec(ctx, `DELETE FROM filter_event WHERE guild_id = ?`, guildID); err != nil {
		return err
	}
	_, err := s.exec(ctx, `DELETE FROM filter_setup WHERE guild_id = ?`, guildID)
	return err
}

func (s *Store) GetFilterSetup(ctx context.Context, guildID string) (FilterSetup, error) {
	var row struct {
		Punishment     string `db:"punishment"`
		TimeoutSeconds int    `db:"timeout_seconds"`
	}
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT punishment, timeout_seconds FROM filter_setup WHERE guild_id = ?
	`), guildID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FilterSetup{GuildID: guildID}, nil
		}
		return FilterSetup{}, err
	}

	punishment, err := ParsePunishment(row.Punishment)
	if err != nil {
		// rows written by older tooling may hold anything
		punishment = PunishmentNone
	}
	return FilterSetup{GuildID: guildID, Punishment: punishment, TimeoutSeconds: row.TimeoutSeconds}, nil
}

func (s *Store) UpsertFilterSetup(ctx context.Context, setup FilterSetup) error {
	_, err := s.exec(ctx, `
		INSERT INTO filter_setup (guild_id, punishment, timeout_seconds) VALUES (?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET
			punishment = excluded.punishment,
			timeout_seconds = excluded.timeout_seconds
	`, setup.GuildID, setup.Punishment.String(), setup.TimeoutSeconds)
	return err
}

func (s *Store) ListKeywords(ctx context.Context, guildID string) ([]string, error) {
	var keywords []string
	err := s.db.SelectContext(ctx, &keywords, s.db.Rebind(`
		SELECT keyword FROM filter_keyword WHERE guild_id = ? ORDER BY keyword
	`), guildID)
	return keywords, err
}

func (s *Store) AddKeyword(ctx context.Context, guildID, keyword string) error {
	_, err := s.exec(ctx, `
		INSERT INTO filter_keyword (guild_id, keyword) VALUES (?, ?)
		ON CONFLICT (guild_id, keyword) DO NOTHING
	`, guildID, strings.ToLower(strings.TrimSpace(keyword)))
	return err
}

func (s *Store) RemoveKeyword(ctx context.Context, guildID, keyword string) (bool, error) {
	n, err := s.exec(ctx, `DELETE FROM filter_keyword WHERE guild_id = ? AND keyword = ?`, guildID, strings.ToLower(strings.TrimSpace(keyword)))
	return n > 0, err
}

func (s *Store) ListWhitelist(ctx context.Context, guildID string) ([]WhitelistEntry, error) {
	var rows []struct {
		SubjectID string `db:"subject_id"`
		Kind      string `db:"subject_kind"`
		Events    string `db:"events"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT subject_id, subject_kind, events FROM filter_whitelist WHERE guild_id = ?
	`), guildID)
	if err != nil {
		return nil, err
	}

	entries := make([]WhitelistEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, WhitelistEntry{
			GuildID:   guildID,
			SubjectID: row.SubjectID,
			Kind:      SubjectKind(row.Kind),
			Events:    splitEvents(row.Events),
		})
	}
	return entries, nil
}

func (s *Store) UpsertWhitelist(ctx context.Context, entry WhitelistEntry) error {
	_, err := s.exec(ctx, `
		INSERT INTO filter_whitelist (guild_id, subject_id, subject_kind, events) VALUES (?, ?, ?, ?)
		ON CONFLICT (guild_id, subject_id) DO UPDATE SET
			subject_kind = excluded.subject_kind,
			events = excluded.events
	`, entry.GuildID, entry.SubjectID, string(entry.Kind), joinEvents(entry.Events))
	return err
}

func (s *Store) RemoveWhitelist(ctx context.Context, guildID, subjectID string) (bool, error) {
	n, err := s.exec(ctx, `DELETE FROM filter_whitelist WHERE guild_id = ? AND subject_id = ?`, guildID, subjectID)
	return n > 0, err
}

func splitEvents(value string) []FilterName {
	var events []FilterName
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			events = append(events, FilterName(part))
		}
	}
	return events
}

func joinEvents(events []FilterName) string {
	parts := make([]string, 0, len(events))
	for _, event := range events {
		parts = append(parts, string(event))
	}
	return strings.Join(parts, ",")
}
