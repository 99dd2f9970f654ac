package jail

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"sentinel-automod/internal/discord"
	"sentinel-automod/internal/discord/discordtest"
	"sentinel-automod/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*Service, *storage.Store, *discordtest.Client) {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate())
	client := discordtest.New()
	return New(store, client, nil), store, client
}

func jailMessage() *discord.Message {
	return &discord.Message{
		GuildID: "g1",
		Author:  discord.Author{ID: "u1", Roles: []string{"r1", "r2"}},
		Self:    discord.Self{ID: "bot", GuildPerms: discordgo.PermissionManageRoles},
	}
}

func TestJailWithoutRole(t *testing.T) {
	service, _, client := newService(t)
	err := service.Jail(context.Background(), jailMessage(), "spam")
	require.ErrorIs(t, err, ErrNotConfigured)
	require.Empty(t, client.Calls())
}

func TestJailRequiresManageRoles(t *testing.T) {
	service, _, _ := newService(t)
	msg := jailMessage()
	msg.Self.GuildPerms = 0
	err := service.Jail(context.Background(), msg, "spam")
	require.True(t, discord.IsMissingPermissions(err))
}

func TestJailAndRelease(t *testing.T) {
	ctx := context.Background()
	service, store, client := newService(t)
	require.NoError(t, store.SetJailRole(ctx, "g1", "jail"))

	require.NoError(t, service.Jail(ctx, jailMessage(), "spam"))
	calls := client.Ops("roles")
	require.Len(t, calls, 1)
	require.Equal(t, []string{"jail"}, calls[0].Roles)

	roles, ok, err := store.GetJailedRoles(ctx, "g1", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"r1", "r2"}, roles)

	// a second jail while jailed keeps the original snapshot
	again := jailMessage()
	again.Author.Roles = []string{"jail"}
	require.NoError(t, service.Jail(ctx, again, "spam"))
	roles, _, err = store.GetJailedRoles(ctx, "g1", "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"r1", "r2"}, roles)

	require.NoError(t, service.Release(ctx, "g1", "u1", "appeal"))
	calls = client.Ops("roles")
	require.Equal(t, []string{"r1", "r2"}, calls[len(calls)-1].Roles)
	_, ok, err = store.GetJailedRoles(ctx, "g1", "u1")
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, service.Release(ctx, "g1", "u1", "again"), ErrNotJailed)
}

func TestJailRoleSwapFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	service, store, client := newService(t)
	require.NoError(t, store.SetJailRole(ctx, "g1", "jail"))
	client.Errors["roles"] = discordtest.RESTError("set member roles", http.StatusForbidden, 50013)

	err := service.Jail(ctx, jailMessage(), "spam")
	var actionErr *discord.ActionError
	require.True(t, errors.As(err, &actionErr))

	_, ok, err := store.GetJailedRoles(ctx, "g1", "u1")
	require.NoError(t, err)
	require.False(t, ok)
}
