package discord

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

func TestWrapExtractsRESTCode(t *testing.T) {
	rest := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusBadRequest},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownEmoji, Message: "Unknown Emoji"},
	}
	err := wrap("add reaction", rest)

	require.True(t, IsUnknownEmoji(err))
	require.False(t, IsMissingPermissions(err))
	require.False(t, IsNotFound(err))
	require.ErrorIs(t, err, rest)
	require.Contains(t, err.Error(), "10014")
}

func TestErrorClassifiers(t *testing.T) {
	require.True(t, IsMissingPermissions(NewActionError("kick", http.StatusForbidden, 0)))
	require.True(t, IsMissingPermissions(NewActionError("kick", http.StatusBadRequest, discordgo.ErrCodeMissingPermissions)))
	require.True(t, IsNotFound(NewActionError("delete", http.StatusNotFound, 0)))
	require.True(t, IsNotFound(NewActionError("delete", http.StatusBadRequest, discordgo.ErrCodeUnknownMessage)))
	require.False(t, IsNotFound(errors.New("plain")))
	require.Nil(t, wrap("noop", nil))
}

func TestReactionAPIName(t *testing.T) {
	require.Equal(t, "blob:123", reactionAPIName("<:blob:123>"))
	require.Equal(t, "party:456", reactionAPIName("<a:party:456>"))
	require.Equal(t, "🔥", reactionAPIName(" 🔥 "))
}

func TestByAuthor(t *testing.T) {
	filter := ByAuthor("u1")
	require.True(t, filter(&discordgo.Message{Author: &discordgo.User{ID: "u1"}}))
	require.False(t, filter(&discordgo.Message{Author: &discordgo.User{ID: "u2"}}))
	require.False(t, filter(&discordgo.Message{}))
}

func newState(t *testing.T) *discordgo.State {
	t.Helper()
	state := discordgo.NewState()
	state.User = &discordgo.User{ID: "bot"}
	guild := &discordgo.Guild{
		ID:      "g1",
		OwnerID: "owner",
		Roles: []*discordgo.Role{
			{ID: "g1", Position: 0, Permissions: discordgo.PermissionSendMessages},
			{ID: "member", Position: 1},
			{ID: "mod", Position: 5, Permissions: discordgo.PermissionModerateMembers | discordgo.PermissionManageMessages},
			{ID: "admin", Position: 3, Permissions: discordgo.PermissionAdministrator},
		},
		Channels: []*discordgo.Channel{
			{ID: "c1", GuildID: "g1", Type: discordgo.ChannelTypeGuildText},
			{ID: "t1", GuildID: "g1", ParentID: "c1", Type: discordgo.ChannelTypeGuildPublicThread},
		},
		Members: []*discordgo.Member{
			{GuildID: "g1", User: &discordgo.User{ID: "bot"}, Roles: []string{"mod"}},
			{GuildID: "g1", User: &discordgo.User{ID: "u1"}, Roles: []string{"member"}},
			{GuildID: "g1", User: &discordgo.User{ID: "u2"}, Roles: []string{"admin"}},
		},
	}
	require.NoError(t, state.GuildAdd(guild))
	return state
}

func TestFromMessage(t *testing.T) {
	state := newState(t)
	until := time.Now().Add(time.Minute)

	msg, err := FromMessage(state, &discordgo.Message{
		ID:          "m1",
		GuildID:     "g1",
		ChannelID:   "c1",
		Content:     "hello",
		Author:      &discordgo.User{ID: "u1"},
		Member:      &discordgo.Member{Roles: []string{"member"}, CommunicationDisabledUntil: &until},
		Mentions:    []*discordgo.User{{ID: "u2"}, {ID: "u3"}},
		Attachments: []*discordgo.MessageAttachment{{ID: "a1", Filename: "cat.png", ContentType: "image/png"}},
	})
	require.NoError(t, err)

	require.Equal(t, "u1", msg.Author.ID)
	require.Equal(t, 1, msg.Author.TopRolePosition)
	require.False(t, msg.Author.Administrator)
	require.True(t, msg.Author.TimedOut(time.Now()))
	require.Equal(t, 5, msg.Self.TopRolePosition)
	require.True(t, msg.Self.Can(discordgo.PermissionSendMessages|discordgo.PermissionModerateMembers|discordgo.PermissionManageMessages))
	require.False(t, msg.Self.CanInGuild(discordgo.PermissionBanMembers))
	require.Equal(t, []string{"u2", "u3"}, msg.Mentions)
	require.Len(t, msg.Attachments, 1)
	require.Equal(t, []string{"u1", "c1", "member"}, msg.SubjectIDs())
	require.True(t, msg.Punishable())
}

func TestFromMessageThreadUsesParent(t *testing.T) {
	state := newState(t)

	msg, err := FromMessage(state, &discordgo.Message{
		ID:        "m2",
		GuildID:   "g1",
		ChannelID: "t1",
		Author:    &discordgo.User{ID: "u2"},
	})
	require.NoError(t, err)
	require.Equal(t, "c1", msg.ParentID)
	require.True(t, msg.Author.Administrator)
	require.False(t, msg.Punishable())
	require.Contains(t, msg.SubjectIDs(), "c1")
}

func TestFromMessageRejectsDirectMessages(t *testing.T) {
	_, err := FromMessage(newState(t), &discordgo.Message{ChannelID: "dm", Author: &discordgo.User{ID: "u1"}})
	require.ErrorIs(t, err, ErrNotGuildMessage)
}

func TestPunishableHierarchy(t *testing.T) {
	msg := &Message{Author: Author{ID: "u", TopRolePosition: 4}, Self: Self{ID: "bot", TopRolePosition: 4}}
	require.False(t, msg.Punishable())
	msg.Self.TopRolePosition = 5
	require.True(t, msg.Punishable())
	msg.Author.Owner = true
	require.False(t, msg.Punishable())
}
