package storage

import (
	"context"
	"strings"
)

type Autoresponder struct {
	ID       int64  `db:"id"`
	GuildID  string `db:"guild_id"`
	Trigger  string `db:"trig"`
	Response string `db:"response"`
	Strict   bool   `db:"strict"`
	Reply    bool   `db:"reply"`
}

// ReactEvent is a structural message condition an autoreact can be bound to.
type ReactEvent string

const (
	ReactSpoilers ReactEvent = "spoilers"
	ReactImages   ReactEvent = "images"
	ReactEmojis   ReactEvent = "emojis"
	ReactStickers ReactEvent = "stickers"
)

var ReactEvents = []ReactEvent{ReactSpoilers, ReactImages, ReactEmojis, ReactStickers}

// IsReactEvent reports whether name is reserved for an event autoreact.
func IsReactEvent(name string) bool {
	for _, event := range ReactEvents {
		if string(event) == strings.ToLower(name) {
			return true
		}
	}
	return false
}

type Autoreact struct {
	GuildID  string `db:"guild_id"`
	Keyword  string `db:"keyword"`
	Reaction string `db:"reaction"`
}

type AutoreactEvent struct {
	GuildID  string     `db:"guild_id"`
	Event    ReactEvent `db:"event"`
	Reaction string     `db:"reaction"`
}

func (s *Store) ListAutoresponders(ctx context.Context, guildID string) ([]Autoresponder, error) {
	var responders []Autoresponder
	err := s.db.SelectContext(ctx, &responders, s.db.Rebind(`
		SELECT id, guild_id, trig, response, strict, reply
		FROM autoresponder WHERE guild_id = ? ORDER BY id
	`), guildID)
	return responders, err
}

func (s *Store) UpsertAutoresponder(ctx context.Context, responder Autoresponder) error {
	_, err := s.exec(ctx, `
		INSERT INTO autoresponder (guild_id, trig, response, strict, reply) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (guild_id, trig) DO UPDATE SET
			response = excluded.response,
			strict = excluded.strict,
			reply = excluded.reply
	`, responder.GuildID, strings.ToLower(strings.TrimSpace(responder.Trigger)), responder.Response, responder.Strict, responder.Reply)
	return err
}

func (s *Store) RemoveAutoresponder(ctx context.Context, guildID, trigger string) (bool, error) {
	n, err := s.exec(ctx, `DELETE FROM autoresponder WHERE guild_id = ? AND trig = ?`, guildID, strings.ToLower(strings.TrimSpace(trigger)))
	return n > 0, err
}

func (s *Store) ListAutoreacts(ctx context.Context, guildID string) ([]Autoreact, error) {
	var reacts []Autoreact
	err := s.db.SelectContext(ctx, &reacts, s.db.Rebind(`
		SELECT guild_id, keyword, reaction FROM autoreact WHERE guild_id = ? ORDER BY keyword, reaction
	`), guildID)
	return reacts, err
}

func (s *Store) AddAutoreact(ctx context.Context, react Autoreact) error {
	_, err := s.exec(ctx, `
		INSERT INTO autoreact (guild_id, keyword, reaction) VALUES (?, ?, ?)
		ON CONFLICT (guild_id, keyword, reaction) DO NOTHING
	`, react.GuildID, react.Keyword, react.Reaction)
	return err
}

func (s *Store) ListAutoreactEvents(ctx context.Context, guildID string) ([]AutoreactEvent, error) {
	var events []AutoreactEvent
	err := s.db.SelectContext(ctx, &events, s.db.Rebind(`
		SELECT guild_id, event, reaction FROM autoreact_event WHERE guild_id = ? ORDER BY event, reaction
	`), guildID)
	return events, err
}

func (s *Store) AddAutoreactEvent(ctx context.Context, event AutoreactEvent) error {
	_, err := s.exec(ctx, `
		INSERT INTO autoreact_event (guild_id, event, reaction) VALUES (?, ?, ?)
		ON CONFLICT (guild_id, event, reaction) DO NOTHING
	`, event.GuildID, string(event.Event), event.Reaction)
	return err
}

// DeleteReaction removes reaction from every keyword and event binding of the
// guild and reports how many rows were dropped.
func (s *Store) DeleteReaction(ctx context.Context, guildID, reaction string) (int64, error) {
	keywords, err := s.exec(ctx, `DELETE FROM autoreact WHERE guild_id = ? AND reaction = ?`, guildID, reaction)
	if err != nil {
		return 0, err
	}
	events, err := s.exec(ctx, `DELETE FROM autoreact_event WHERE guild_id = ? AND reaction = ?`, guildID, reaction)
	if err != nil {
		return keywords, err
	}
	return keywords + events, nil
}
