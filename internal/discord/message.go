package discord

import (
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ErrNotGuildMessage is returned by FromMessage for direct messages.
var ErrNotGuildMessage = errors.New("message is not from a guild")

type Attachment struct {
	ID          string
	Filename    string
	ContentType string
}

// Author holds the facts the automod needs about the sender, resolved once when
// the message arrives.
type Author struct {
	ID              string
	Bot             bool
	Roles           []string
	TopRolePosition int
	Administrator   bool
	Owner           bool
	TimedOutUntil   *time.Time
}

func (a Author) TimedOut(now time.Time) bool {
	return a.TimedOutUntil != nil && a.TimedOutUntil.After(now)
}

type Self struct {
	ID              string
	TopRolePosition int
	GuildPerms      int64
	// ChannelPerms are computed on the parent channel for threads.
	ChannelPerms int64
}

func (s Self) Can(perm int64) bool {
	return s.ChannelPerms&discordgo.PermissionAdministrator != 0 || s.ChannelPerms&perm == perm
}

func (s Self) CanInGuild(perm int64) bool {
	return s.GuildPerms&discordgo.PermissionAdministrator != 0 || s.GuildPerms&perm == perm
}

type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	// ParentID is set when the message was sent in a thread.
	ParentID     string
	Content      string
	Author       Author
	Self         Self
	Mentions     []string
	Attachments  []Attachment
	StickerCount int
	Edited       bool
}

// SubjectIDs lists every id a whitelist entry can match for this message.
func (m *Message) SubjectIDs() []string {
	ids := make([]string, 0, len(m.Author.Roles)+3)
	ids = append(ids, m.Author.ID, m.ChannelID)
	if m.ParentID != "" {
		ids = append(ids, m.ParentID)
	}
	return append(ids, m.Author.Roles...)
}

// Punishable reports whether the bot may act on the author: not the owner, not
// itself, not an administrator, and strictly below the bot in the role list.
func (m *Message) Punishable() bool {
	if m.Author.Owner || m.Author.Administrator || m.Author.ID == m.Self.ID {
		return false
	}
	return m.Author.TopRolePosition < m.Self.TopRolePosition
}

// FromMessage resolves a gateway message against the state cache. The author's
// member is read from the event when present since MESSAGE_CREATE carries it.
func FromMessage(state *discordgo.State, msg *discordgo.Message) (*Message, error) {
	if msg.GuildID == "" {
		return nil, ErrNotGuildMessage
	}
	if msg.Author == nil {
		return nil, errors.New("message has no author")
	}

	guild, err := state.Guild(msg.GuildID)
	if err != nil {
		return nil, err
	}
	channel, err := state.Channel(msg.ChannelID)
	if err != nil {
		return nil, err
	}
	if state.User == nil {
		return nil, errors.New("state has no bot user")
	}

	out := &Message{
		ID:           msg.ID,
		GuildID:      msg.GuildID,
		ChannelID:    msg.ChannelID,
		Content:      msg.Content,
		StickerCount: len(msg.StickerItems),
		Edited:       msg.EditedTimestamp != nil,
	}

	permsChannel := channel.ID
	if isThread(channel) {
		out.ParentID = channel.ParentID
		permsChannel = channel.ParentID
	}

	for _, user := range msg.Mentions {
		if user != nil {
			out.Mentions = append(out.Mentions, user.ID)
		}
	}
	for _, a := range msg.Attachments {
		if a != nil {
			out.Attachments = append(out.Attachments, Attachment{ID: a.ID, Filename: a.Filename, ContentType: a.ContentType})
		}
	}

	member := msg.Member
	if member == nil {
		member, _ = state.Member(msg.GuildID, msg.Author.ID)
	}
	out.Author = Author{ID: msg.Author.ID, Bot: msg.Author.Bot, Owner: guild.OwnerID == msg.Author.ID}
	if member != nil {
		out.Author.Roles = member.Roles
		out.Author.TimedOutUntil = member.CommunicationDisabledUntil
		out.Author.TopRolePosition = topRolePosition(guild, member.Roles)
		out.Author.Administrator = rolePermissions(guild, member.Roles)&discordgo.PermissionAdministrator != 0
	}

	self, err := state.Member(msg.GuildID, state.User.ID)
	if err != nil {
		return nil, err
	}
	out.Self = Self{
		ID:              state.User.ID,
		TopRolePosition: topRolePosition(guild, self.Roles),
		GuildPerms:      rolePermissions(guild, self.Roles),
	}
	if guild.OwnerID == state.User.ID {
		out.Self.GuildPerms = discordgo.PermissionAll
	}
	perms, err := state.UserChannelPermissions(state.User.ID, permsChannel)
	if err != nil {
		return nil, err
	}
	out.Self.ChannelPerms = perms

	return out, nil
}

func isThread(channel *discordgo.Channel) bool {
	switch channel.Type {
	case discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread, discordgo.ChannelTypeGuildNewsThread:
		return true
	}
	return false
}

func topRolePosition(guild *discordgo.Guild, roleIDs []string) int {
	top := 0
	for _, role := range guild.Roles {
		for _, id := range roleIDs {
			if role.ID == id && role.Position > top {
				top = role.Position
			}
		}
	}
	return top
}

// rolePermissions ors the @everyone role with the member's roles.
func rolePermissions(guild *discordgo.Guild, roleIDs []string) int64 {
	roleMap := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		roleMap[role.ID] = role
	}
	perms := int64(0)
	if everyone := roleMap[guild.ID]; everyone != nil {
		perms |= everyone.Permissions
	}
	for _, id := range roleIDs {
		if role := roleMap[id]; role != nil {
			perms |= role.Permissions
		}
	}
	return perms
}
