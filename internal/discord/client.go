package discord

import (
	"context"
	"strings"
	"time"

	"sentinel-automod/internal/utils"

	"github.com/bwmarrin/discordgo"
)

// bulkDeleteMaxAge is the oldest message the bulk delete endpoint accepts.
const bulkDeleteMaxAge = 14 * 24 * time.Hour

// PurgeFilter selects which recent messages PurgeMessages deletes.
type PurgeFilter func(m *discordgo.Message) bool

func ByAuthor(userID string) PurgeFilter {
	return func(m *discordgo.Message) bool {
		return m.Author != nil && m.Author.ID == userID
	}
}

// Client is the subset of the chat platform the automod acts through. Every
// method returns *ActionError on failure; callers decide whether to go on.
type Client interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	KickMember(ctx context.Context, guildID, userID, reason string) error
	BanMember(ctx context.Context, guildID, userID, reason string) error
	SetSlowmode(ctx context.Context, channelID string, seconds int, reason string) error
	PurgeMessages(ctx context.Context, channelID string, limit int, filter PurgeFilter) (int, error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	SendMessage(ctx context.Context, channelID, content string) (string, error)
	SendReply(ctx context.Context, channelID, messageID, content string) (string, error)
	SetMemberRoles(ctx context.Context, guildID, userID string, roles []string, reason string) error
	ResolveEmoji(guildID, emojiID string) bool
}

// Session implements Client on a discordgo session.
type Session struct {
	s *discordgo.Session
}

func NewSession(s *discordgo.Session) *Session {
	return &Session{s: s}
}

func (c *Session) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return wrap("delete message", c.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (c *Session) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	return wrap("timeout member", c.s.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (c *Session) KickMember(ctx context.Context, guildID, userID, reason string) error {
	return wrap("kick member", c.s.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx)))
}

func (c *Session) BanMember(ctx context.Context, guildID, userID, reason string) error {
	return wrap("ban member", c.s.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx)))
}

func (c *Session) SetSlowmode(ctx context.Context, channelID string, seconds int, reason string) error {
	_, err := c.s.ChannelEdit(channelID, &discordgo.ChannelEdit{RateLimitPerUser: &seconds}, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return wrap("set slowmode", err)
}

// PurgeMessages deletes up to limit of the latest 100 channel messages that
// match filter. Messages older than two weeks are skipped since they cannot be
// bulk deleted.
func (c *Session) PurgeMessages(ctx context.Context, channelID string, limit int, filter PurgeFilter) (int, error) {
	history, err := c.s.ChannelMessages(channelID, 100, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return 0, wrap("list messages", err)
	}

	cutoff := time.Now().Add(-bulkDeleteMaxAge)
	ids := make([]string, 0, limit)
	for _, m := range history {
		if len(ids) >= limit {
			break
		}
		if m.Timestamp.Before(cutoff) || !filter(m) {
			continue
		}
		ids = append(ids, m.ID)
	}

	switch len(ids) {
	case 0:
		return 0, nil
	case 1:
		return 1, c.DeleteMessage(ctx, channelID, ids[0])
	default:
		if err := c.s.ChannelMessagesBulkDelete(channelID, ids, discordgo.WithContext(ctx)); err != nil {
			return 0, wrap("bulk delete", err)
		}
		return len(ids), nil
	}
}

func (c *Session) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return wrap("add reaction", c.s.MessageReactionAdd(channelID, messageID, reactionAPIName(emoji), discordgo.WithContext(ctx)))
}

func (c *Session) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	msg, err := c.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", wrap("send message", err)
	}
	return msg.ID, nil
}

func (c *Session) SendReply(ctx context.Context, channelID, messageID, content string) (string, error) {
	ref := &discordgo.MessageReference{MessageID: messageID, ChannelID: channelID}
	msg, err := c.s.ChannelMessageSendReply(channelID, content, ref, discordgo.WithContext(ctx))
	if err != nil {
		return "", wrap("send reply", err)
	}
	return msg.ID, nil
}

func (c *Session) SetMemberRoles(ctx context.Context, guildID, userID string, roles []string, reason string) error {
	_, err := c.s.GuildMemberEdit(guildID, userID, &discordgo.GuildMemberParams{Roles: &roles}, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return wrap("set member roles", err)
}

// ResolveEmoji reports whether a custom emoji is visible to the bot, first in
// guildID and then in any other guild it shares.
func (c *Session) ResolveEmoji(guildID, emojiID string) bool {
	if emoji, err := c.s.State.Emoji(guildID, emojiID); err == nil && emoji != nil {
		return true
	}
	c.s.State.RLock()
	defer c.s.State.RUnlock()
	for _, guild := range c.s.State.Guilds {
		for _, emoji := range guild.Emojis {
			if emoji.ID == emojiID {
				return true
			}
		}
	}
	return false
}

// reactionAPIName turns "<:name:id>" into the "name:id" form the reaction
// endpoint expects; unicode emoji pass through.
func reactionAPIName(emoji string) string {
	if name, id, _, ok := utils.ParseCustomEmoji(emoji); ok {
		return name + ":" + id
	}
	return strings.TrimSpace(emoji)
}
