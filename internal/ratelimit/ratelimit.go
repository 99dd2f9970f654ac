package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Limiter is a keyed fixed-window counter. Ratelimited counts one hit against
// key and returns zero while the key has budget left in its current window,
// otherwise the time remaining until the window resets. Implementations make
// the increment and the comparison atomic per key.
type Limiter interface {
	Ratelimited(ctx context.Context, key Key, limit int, window time.Duration) (time.Duration, error)
}

// Scope namespaces a key so checks with the same ids never share a counter.
type Scope string

const (
	ScopeImages       Scope = "filter.images"
	ScopeSpamGuild    Scope = "filter.spam.guild"
	ScopeSpamSlowmode Scope = "filter.spam.slowmode"
	ScopeSpamSoft     Scope = "filter.spam.soft"
	ScopeSpamHard     Scope = "filter.spam.hard"

	ScopeTimeoutGuild    Scope = "punish.timeout.guild"
	ScopeTimeoutMember   Scope = "punish.timeout.member"
	ScopeTimeoutCooldown Scope = "punish.timeout.cooldown"

	ScopeResponderGuild          Scope = "autorespond.guild"
	ScopeResponderChannel        Scope = "autorespond.channel"
	ScopeResponderUser           Scope = "autorespond.user"
	ScopeResponderTriggerChannel Scope = "autorespond.trigger.channel"
	ScopeResponderTriggerGuild   Scope = "autorespond.trigger.guild"
	ScopeResponderTriggerUser    Scope = "autorespond.trigger.user"

	ScopeReactGuild   Scope = "autoreact.guild"
	ScopeReactKeyword Scope = "autoreact.keyword"
	ScopeReactEvent   Scope = "autoreact.event"
	ScopeReactBatch   Scope = "autoreact.add.guild"
	ScopeReactMessage Scope = "autoreact.add.message"
)

type Key struct {
	Scope     Scope
	GuildID   string
	ChannelID string
	UserID    string
	MessageID string
	Name      string
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`, `=`, `\=`)

// String renders the key as scope followed by labelled, escaped parts, for
// example "filter.spam.soft|g=1|u=2". Empty parts are omitted; labels keep a
// guild id from ever matching a user id in the same position.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(keyEscaper.Replace(string(k.Scope)))
	write := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteByte('|')
		b.WriteString(label)
		b.WriteByte('=')
		b.WriteString(keyEscaper.Replace(value))
	}
	write("g", k.GuildID)
	write("c", k.ChannelID)
	write("u", k.UserID)
	write("m", k.MessageID)
	write("n", k.Name)
	return b.String()
}

func Guild(scope Scope, guildID string) Key {
	return Key{Scope: scope, GuildID: guildID}
}

func Channel(scope Scope, channelID string) Key {
	return Key{Scope: scope, ChannelID: channelID}
}

func Member(scope Scope, guildID, userID string) Key {
	return Key{Scope: scope, GuildID: guildID, UserID: userID}
}

// Allowed is a convenience for callers that only care whether the hit passed.
func Allowed(ctx context.Context, limiter Limiter, key Key, limit int, window time.Duration) (bool, error) {
	remaining, err := limiter.Ratelimited(ctx, key, limit, window)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
