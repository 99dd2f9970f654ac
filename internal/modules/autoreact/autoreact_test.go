package autoreact

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"sentinel-automod/internal/discord"
	"sentinel-automod/internal/discord/discordtest"
	"sentinel-automod/internal/guildcache"
	"sentinel-automod/internal/ratelimit"
	"sentinel-automod/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

const goneEmoji = "<:gone:123456789012345678>"

type staleSource struct {
	snap        *guildcache.Snapshot
	invalidated atomic.Int64
}

func (s *staleSource) Snapshot(context.Context, string) (*guildcache.Snapshot, error) {
	return s.snap, nil
}

func (s *staleSource) Invalidate(string) {
	s.invalidated.Add(1)
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func message(id, channelID, content string) *discord.Message {
	return &discord.Message{
		ID:        id,
		GuildID:   "g1",
		ChannelID: channelID,
		Content:   content,
		Author:    discord.Author{ID: "u1"},
		Self:      discord.Self{ID: "bot", ChannelPerms: discordgo.PermissionAddReactions | discordgo.PermissionSendMessages},
	}
}

func newReactor(source SnapshotSource, store Store, client discord.Client) *Reactor {
	return New(source, store, ratelimit.NewMemory(0, 0), client, nil, nil, time.Millisecond)
}

func TestKeywordReactions(t *testing.T) {
	client := discordtest.New()
	source := &staleSource{snap: &guildcache.Snapshot{Reacts: []storage.Autoreact{
		{Keyword: "hello", Reaction: "👋"},
		{Keyword: "hello", Reaction: "🙂"},
		{Keyword: "images", Reaction: "🖼️"},
	}}}
	reactor := newReactor(source, newStore(t), client)

	added, err := reactor.Handle(context.Background(), message("m1", "c1", "Hello there"))
	require.NoError(t, err)
	require.Zero(t, added)

	added, err = reactor.Handle(context.Background(), message("m2", "c2", "well hello images"))
	require.NoError(t, err)
	require.Equal(t, 2, added)
	reactions := client.Ops("react")
	require.Equal(t, "👋", reactions[0].Content)
	require.Equal(t, "🙂", reactions[1].Content)
}

func TestKeywordGatePerChannel(t *testing.T) {
	client := discordtest.New()
	source := &staleSource{snap: &guildcache.Snapshot{Reacts: []storage.Autoreact{{Keyword: "gg", Reaction: "🎉"}}}}
	reactor := newReactor(source, newStore(t), client)

	for _, id := range []string{"m1", "m2"} {
		_, err := reactor.Handle(context.Background(), message(id, "c1", "gg"))
		require.NoError(t, err)
	}
	require.Len(t, client.Ops("react"), 1)
}

func TestEventReactions(t *testing.T) {
	client := discordtest.New()
	source := &staleSource{snap: &guildcache.Snapshot{ReactEvents: []storage.AutoreactEvent{
		{Event: storage.ReactImages, Reaction: "📸"},
		{Event: storage.ReactStickers, Reaction: "🏷️"},
		{Event: storage.ReactSpoilers, Reaction: "🤫"},
	}}}
	reactor := newReactor(source, newStore(t), client)

	msg := message("m1", "c1", "no spoiler ||here")
	msg.Attachments = []discord.Attachment{{ID: "a1", ContentType: "video/mp4"}}
	msg.StickerCount = 1
	added, err := reactor.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, 2, added)

	got := []string{}
	for _, call := range client.Ops("react") {
		got = append(got, call.Content)
	}
	require.Equal(t, []string{"📸", "🏷️"}, got)
}

func TestUnresolvableEmojiSelfHealIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.AddAutoreact(ctx, storage.Autoreact{GuildID: "g1", Keyword: "cat", Reaction: goneEmoji}))
	require.NoError(t, store.AddAutoreactEvent(ctx, storage.AutoreactEvent{GuildID: "g1", Event: storage.ReactStickers, Reaction: goneEmoji}))

	client := discordtest.New()
	source := &staleSource{snap: &guildcache.Snapshot{
		Reacts:      []storage.Autoreact{{GuildID: "g1", Keyword: "cat", Reaction: goneEmoji}},
		ReactEvents: []storage.AutoreactEvent{{GuildID: "g1", Event: storage.ReactStickers, Reaction: goneEmoji}},
	}}
	reactor := newReactor(source, store, client)

	for _, channelID := range []string{"c1", "c2"} {
		added, err := reactor.Handle(ctx, message("m-"+channelID, channelID, "cat"))
		require.NoError(t, err)
		require.Zero(t, added)
	}

	require.Empty(t, client.Ops("react"))
	require.EqualValues(t, 1, source.invalidated.Load())
	reacts, err := store.ListAutoreacts(ctx, "g1")
	require.NoError(t, err)
	require.Empty(t, reacts)
	events, err := store.ListAutoreactEvents(ctx, "g1")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestUnknownEmojiErrorRemovesReaction(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.AddAutoreact(ctx, storage.Autoreact{GuildID: "g1", Keyword: "dog", Reaction: goneEmoji}))

	client := discordtest.New()
	client.Emojis["123456789012345678"] = true
	client.ReactionErrors[goneEmoji] = discordtest.RESTError("add reaction", http.StatusBadRequest, discordgo.ErrCodeUnknownEmoji)
	source := &staleSource{snap: &guildcache.Snapshot{Reacts: []storage.Autoreact{
		{GuildID: "g1", Keyword: "dog", Reaction: goneEmoji},
		{GuildID: "g1", Keyword: "dog", Reaction: "🐶"},
	}}}
	reactor := newReactor(source, store, client)

	added, err := reactor.Handle(ctx, message("m1", "c1", "dog"))
	require.NoError(t, err)
	require.Equal(t, 1, added)
	require.EqualValues(t, 1, source.invalidated.Load())
	reacts, err := store.ListAutoreacts(ctx, "g1")
	require.NoError(t, err)
	require.Empty(t, reacts)
}

func TestMissingMessageStopsReacting(t *testing.T) {
	client := discordtest.New()
	client.Errors["react"] = discordtest.RESTError("add reaction", http.StatusNotFound, discordgo.ErrCodeUnknownMessage)
	source := &staleSource{snap: &guildcache.Snapshot{
		Reacts:      []storage.Autoreact{{Keyword: "x", Reaction: "1️⃣"}, {Keyword: "x", Reaction: "2️⃣"}},
		ReactEvents: []storage.AutoreactEvent{{Event: storage.ReactStickers, Reaction: "3️⃣"}},
	}}
	reactor := newReactor(source, newStore(t), client)

	msg := message("m1", "c1", "x")
	msg.StickerCount = 1
	added, err := reactor.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.Zero(t, added)
	require.Len(t, client.Ops("react"), 1)
}

func TestPerMessageReactionLimit(t *testing.T) {
	client := discordtest.New()
	source := &staleSource{snap: &guildcache.Snapshot{Reacts: []storage.Autoreact{
		{Keyword: "x", Reaction: "1️⃣"},
		{Keyword: "x", Reaction: "2️⃣"},
		{Keyword: "x", Reaction: "3️⃣"},
		{Keyword: "x", Reaction: "4️⃣"},
	}}}
	reactor := newReactor(source, newStore(t), client)

	added, err := reactor.Handle(context.Background(), message("m1", "c1", "x"))
	require.NoError(t, err)
	require.Equal(t, 3, added)
}
