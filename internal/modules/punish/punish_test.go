package punish

import (
	"context"
	"errors"
	"net/http"
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

type fakeJailer struct {
	calls int
	err   error
}

func (j *fakeJailer) Jail(context.Context, *discord.Message, string) error {
	j.calls++
	return j.err
}

type fixture struct {
	executor *Executor
	client   *discordtest.Client
	jailer   *fakeJailer
	deferred []func()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{client: discordtest.New(), jailer: &fakeJailer{}}
	f.executor = New(f.client, ratelimit.NewMemory(0, 0), f.jailer, nil, nil, Config{})
	f.executor.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	f.executor.after = func(_ time.Duration, fn func()) { f.deferred = append(f.deferred, fn) }
	return f
}

func message() *discord.Message {
	return &discord.Message{
		ID:        "m1",
		GuildID:   "g1",
		ChannelID: "c1",
		Author:    discord.Author{ID: "u1", Roles: []string{"member"}, TopRolePosition: 1},
		Self: discord.Self{
			ID:              "bot",
			TopRolePosition: 10,
			GuildPerms:      discordgo.PermissionModerateMembers | discordgo.PermissionKickMembers | discordgo.PermissionBanMembers,
		},
	}
}

func snapshot(kind storage.Punishment) *guildcache.Snapshot {
	return &guildcache.Snapshot{GuildID: "g1", Setup: storage.FilterSetup{GuildID: "g1", Punishment: kind}}
}

func TestApplyTimeout(t *testing.T) {
	f := newFixture(t)
	result := f.executor.Apply(context.Background(), message(), snapshot(storage.PunishmentTimeout), storage.FilterCaps, "muted by the cap filter")

	require.True(t, result.Deleted)
	require.True(t, result.Applied)
	require.NoError(t, result.Err)

	calls := f.client.Calls()
	require.Equal(t, "delete", calls[0].Op)
	require.Equal(t, "timeout", calls[1].Op)
	require.Equal(t, f.executor.now().Add(20*time.Second), calls[1].Until)
	require.Equal(t, "send", calls[2].Op)
	require.Contains(t, calls[2].Content, "`20 seconds`")

	require.Len(t, f.deferred, 1)
	f.deferred[0]()
	require.Len(t, f.client.Ops("delete"), 2)
}

func TestApplyTimeoutUsesGuildDuration(t *testing.T) {
	f := newFixture(t)
	snap := snapshot(storage.PunishmentTimeout)
	snap.Setup.TimeoutSeconds = 60
	f.executor.Apply(context.Background(), message(), snap, storage.FilterCaps, "reason")
	require.Equal(t, f.executor.now().Add(time.Minute), f.client.Ops("timeout")[0].Until)
}

func TestApplyTimeoutAttemptLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.executor.Apply(ctx, message(), snapshot(storage.PunishmentTimeout), storage.FilterCaps, "reason")
	require.True(t, first.Applied)

	other := message()
	other.Author.ID = "u2"
	second := f.executor.Apply(ctx, other, snapshot(storage.PunishmentTimeout), storage.FilterCaps, "reason")
	require.ErrorIs(t, second.Err, ErrRateLimited)
	require.True(t, second.Deleted)
	require.Len(t, f.client.Ops("timeout"), 1)
}

func TestApplyTimeoutGuards(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*discord.Message, *guildcache.Snapshot)
		want   error
	}{
		{"owner", func(m *discord.Message, _ *guildcache.Snapshot) { m.Author.Owner = true }, ErrHierarchy},
		{"administrator", func(m *discord.Message, _ *guildcache.Snapshot) { m.Author.Administrator = true }, ErrHierarchy},
		{"same top role", func(m *discord.Message, _ *guildcache.Snapshot) { m.Author.TopRolePosition = 10 }, ErrHierarchy},
		{"bot itself", func(m *discord.Message, _ *guildcache.Snapshot) { m.Author.ID = "bot" }, ErrHierarchy},
		{"whitelisted role", func(_ *discord.Message, s *guildcache.Snapshot) {
			s.Whitelist = []storage.WhitelistEntry{{SubjectID: "member", Kind: storage.SubjectRole, Events: []storage.FilterName{storage.FilterLinks}}}
		}, ErrWhitelisted},
		{"already timed out", func(m *discord.Message, _ *guildcache.Snapshot) {
			until := time.Unix(1_700_000_100, 0)
			m.Author.TimedOutUntil = &until
		}, ErrAlreadyTimedOut},
		{"missing permission", func(m *discord.Message, _ *guildcache.Snapshot) { m.Self.GuildPerms = 0 }, ErrNoPermission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			msg, snap := message(), snapshot(storage.PunishmentTimeout)
			tt.mutate(msg, snap)
			result := f.executor.Apply(context.Background(), msg, snap, storage.FilterCaps, "reason")
			require.ErrorIs(t, result.Err, tt.want)
			require.False(t, result.Applied)
			require.Empty(t, f.client.Ops("timeout"))
			require.Len(t, f.client.Ops("delete"), 1)
		})
	}
}

func TestApplyKickBanJail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.executor.Apply(ctx, message(), snapshot(storage.PunishmentKick), storage.FilterLinks, "muted by the link filter").Applied)
	require.True(t, f.executor.Apply(ctx, message(), snapshot(storage.PunishmentBan), storage.FilterLinks, "muted by the link filter").Applied)
	require.True(t, f.executor.Apply(ctx, message(), snapshot(storage.PunishmentJail), storage.FilterLinks, "muted by the link filter").Applied)

	require.Len(t, f.client.Ops("kick"), 1)
	require.Len(t, f.client.Ops("ban"), 1)
	require.Equal(t, 1, f.jailer.calls)
	require.Len(t, f.client.Ops("delete"), 3)
}

func TestApplyKickWithoutPermission(t *testing.T) {
	f := newFixture(t)
	msg := message()
	msg.Self.GuildPerms = discordgo.PermissionModerateMembers
	result := f.executor.Apply(context.Background(), msg, snapshot(storage.PunishmentKick), storage.FilterLinks, "reason")
	require.ErrorIs(t, result.Err, ErrNoPermission)
	require.Empty(t, f.client.Ops("kick"))
}

func TestApplyNotConfiguredOnlyDeletes(t *testing.T) {
	f := newFixture(t)
	result := f.executor.Apply(context.Background(), message(), snapshot(storage.PunishmentNone), storage.FilterCaps, "reason")
	require.True(t, result.Deleted)
	require.False(t, result.Applied)
	require.NoError(t, result.Err)
	require.Len(t, f.client.Calls(), 1)
}

func TestApplyContinuesAfterDeleteFailure(t *testing.T) {
	f := newFixture(t)
	f.client.Errors["delete"] = discordtest.RESTError("delete message", http.StatusForbidden, 50013)
	result := f.executor.Apply(context.Background(), message(), snapshot(storage.PunishmentBan), storage.FilterCaps, "reason")
	require.False(t, result.Deleted)
	require.True(t, discord.IsMissingPermissions(result.DeleteErr))
	require.True(t, result.Applied)
}

func TestApplyReportsPlatformFailure(t *testing.T) {
	f := newFixture(t)
	f.client.Errors["ban"] = discordtest.RESTError("ban member", http.StatusForbidden, 50013)
	result := f.executor.Apply(context.Background(), message(), snapshot(storage.PunishmentBan), storage.FilterCaps, "reason")
	var actionErr *discord.ActionError
	require.True(t, errors.As(result.Err, &actionErr))
	require.False(t, result.Applied)
}

func TestMuteSkipsAttemptLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		result := f.executor.Mute(ctx, message(), storage.FilterSpam, 5*time.Second, "flooding chat")
		require.True(t, result.Applied)
	}
	require.Len(t, f.client.Ops("timeout"), 3)
	require.Equal(t, f.executor.now().Add(5*time.Second), f.client.Ops("timeout")[0].Until)
}
