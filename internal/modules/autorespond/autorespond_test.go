package autorespond

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"sentinel-automod/internal/discord"
	"sentinel-automod/internal/discord/discordtest"
	"sentinel-automod/internal/guildcache"
	"sentinel-automod/internal/ratelimit"
	"sentinel-automod/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	snap *guildcache.Snapshot
	err  error
}

func (s staticSource) Snapshot(context.Context, string) (*guildcache.Snapshot, error) {
	return s.snap, s.err
}

func message(id, userID, content string) *discord.Message {
	return &discord.Message{
		ID:        id,
		GuildID:   "g1",
		ChannelID: "c1",
		Content:   content,
		Author:    discord.Author{ID: userID},
		Self:      discord.Self{ID: "bot", ChannelPerms: discordgo.PermissionSendMessages},
	}
}

func TestMatch(t *testing.T) {
	responders := []storage.Autoresponder{
		{Trigger: "hel*", Response: "wildcard"},
		{Trigger: "ping", Response: "strict", Strict: true},
		{Trigger: "rules", Response: "loose"},
	}
	tests := []struct {
		content string
		want    string
	}{
		{"HELLO there", "wildcard"},
		{"shell", "wildcard"},
		{"ping", "strict"},
		{"  Ping  ", "strict"},
		{"ping pong", ""},
		{"read the rules please", "loose"},
		{"rulesets", "loose"},
		{"nothing", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got := Match(tt.content, responders)
		if tt.want == "" {
			require.Nil(t, got, tt.content)
			continue
		}
		require.NotNil(t, got, tt.content)
		require.Equal(t, tt.want, got.Response, tt.content)
	}
}

func TestMatchFirstWins(t *testing.T) {
	responders := []storage.Autoresponder{
		{Trigger: "hi", Response: "first"},
		{Trigger: "hi there", Response: "second"},
	}
	require.Equal(t, "first", Match("hi there", responders).Response)
}

func TestHandleSendsReplyOrMessage(t *testing.T) {
	client := discordtest.New()
	snap := &guildcache.Snapshot{Responders: []storage.Autoresponder{
		{Trigger: "faq", Response: "see #faq", Reply: true},
		{Trigger: "hello", Response: "hi!"},
	}}
	responder := New(staticSource{snap: snap}, ratelimit.NewMemory(0, 0), client, nil)
	ctx := context.Background()

	sent, err := responder.Handle(ctx, message("m1", "u1", "where is the faq"))
	require.NoError(t, err)
	require.True(t, sent)
	replies := client.Ops("reply")
	require.Len(t, replies, 1)
	require.Equal(t, "m1", replies[0].MessageID)

	sent, err = responder.Handle(ctx, message("m2", "u2", "hello"))
	require.NoError(t, err)
	require.True(t, sent)
	require.Equal(t, "hi!", client.Ops("send")[0].Content)
}

func TestHandleTriggerUserLimit(t *testing.T) {
	client := discordtest.New()
	snap := &guildcache.Snapshot{Responders: []storage.Autoresponder{{Trigger: "hello", Response: "hi!"}}}
	responder := New(staticSource{snap: snap}, ratelimit.NewMemory(0, 0), client, nil)
	ctx := context.Background()

	sent, err := responder.Handle(ctx, message("m1", "u1", "hello"))
	require.NoError(t, err)
	require.True(t, sent)

	sent, err = responder.Handle(ctx, message("m2", "u1", "hello"))
	require.NoError(t, err)
	require.False(t, sent)
	require.Len(t, client.Ops("send"), 1)
}

func TestHandleChannelLimit(t *testing.T) {
	client := discordtest.New()
	snap := &guildcache.Snapshot{Responders: []storage.Autoresponder{
		{Trigger: "a", Response: "1", Strict: true},
		{Trigger: "b", Response: "2", Strict: true},
		{Trigger: "c", Response: "3", Strict: true},
		{Trigger: "d", Response: "4", Strict: true},
	}}
	responder := New(staticSource{snap: snap}, ratelimit.NewMemory(0, 0), client, nil)

	sentCount := 0
	for i, trigger := range []string{"a", "b", "c", "d"} {
		sent, err := responder.Handle(context.Background(), message(fmt.Sprintf("m%d", i), fmt.Sprintf("u%d", i), trigger))
		require.NoError(t, err)
		if sent {
			sentCount++
		}
	}
	require.Equal(t, 3, sentCount)
}

func TestHandleSkipsWithoutSendPermission(t *testing.T) {
	client := discordtest.New()
	snap := &guildcache.Snapshot{Responders: []storage.Autoresponder{{Trigger: "hello", Response: "hi!"}}}
	responder := New(staticSource{snap: snap}, ratelimit.NewMemory(0, 0), client, nil)

	msg := message("m1", "u1", "hello")
	msg.Self.ChannelPerms = 0
	sent, err := responder.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.False(t, sent)

	msg = message("m2", "u1", "hello")
	msg.Author.Bot = true
	sent, err = responder.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.False(t, sent)
}

func TestHandleReturnsErrors(t *testing.T) {
	responder := New(staticSource{err: errors.New("db down")}, ratelimit.NewMemory(0, 0), discordtest.New(), nil)
	_, err := responder.Handle(context.Background(), message("m1", "u1", "hello"))
	require.Error(t, err)
}
