package autorespond

import (
	"context"
	"strings"
	"time"

	"sentinel-automod/internal/discord"
	"sentinel-automod/internal/guildcache"
	"sentinel-automod/internal/logger"
	"sentinel-automod/internal/ratelimit"
	"sentinel-automod/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type SnapshotSource interface {
	Snapshot(ctx context.Context, guildID string) (*guildcache.Snapshot, error)
}

type gate struct {
	key    func(msg *discord.Message, trigger string) ratelimit.Key
	limit  int
	window time.Duration
}

// gates run in order once a trigger matched; the first one over budget
// suppresses the response.
var gates = []gate{
	{func(m *discord.Message, _ string) ratelimit.Key {
		return ratelimit.Guild(ratelimit.ScopeResponderGuild, m.GuildID)
	}, 10, 3 * time.Second},
	{func(m *discord.Message, _ string) ratelimit.Key {
		return ratelimit.Channel(ratelimit.ScopeResponderChannel, m.ChannelID)
	}, 3, 5 * time.Second},
	{func(m *discord.Message, _ string) ratelimit.Key {
		return ratelimit.Member(ratelimit.ScopeResponderUser, m.GuildID, m.Author.ID)
	}, 2, 10 * time.Second},
	{func(m *discord.Message, t string) ratelimit.Key {
		return ratelimit.Key{Scope: ratelimit.ScopeResponderTriggerChannel, ChannelID: m.ChannelID, Name: t}
	}, 1, time.Second},
	{func(m *discord.Message, t string) ratelimit.Key {
		return ratelimit.Key{Scope: ratelimit.ScopeResponderTriggerGuild, GuildID: m.GuildID, Name: t}
	}, 2, 4 * time.Second},
	{func(m *discord.Message, t string) ratelimit.Key {
		return ratelimit.Key{Scope: ratelimit.ScopeResponderTriggerUser, GuildID: m.GuildID, UserID: m.Author.ID, Name: t}
	}, 1, 15 * time.Second},
}

type Responder struct {
	source  SnapshotSource
	limiter ratelimit.Limiter
	client  discord.Client
	logger  *zap.Logger
}

func New(source SnapshotSource, limiter ratelimit.Limiter, client discord.Client, log *zap.Logger) *Responder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Responder{source: source, limiter: limiter, client: client, logger: log}
}

// Handle answers the first autoresponder whose trigger matches the message and
// reports whether a response was sent.
func (r *Responder) Handle(ctx context.Context, msg *discord.Message) (bool, error) {
	if msg.Author.Bot || msg.GuildID == "" || !msg.Self.Can(discordgo.PermissionSendMessages) {
		return false, nil
	}
	snap, err := r.source.Snapshot(ctx, msg.GuildID)
	if err != nil {
		return false, err
	}
	responder := Match(msg.Content, snap.Responders)
	if responder == nil {
		return false, nil
	}

	for _, g := range gates {
		allowed, err := ratelimit.Allowed(ctx, r.limiter, g.key(msg, responder.Trigger), g.limit, g.window)
		if err != nil {
			return false, err
		}
		if !allowed {
			return false, nil
		}
	}

	if responder.Reply {
		_, err = r.client.SendReply(ctx, msg.ChannelID, msg.ID, responder.Response)
	} else {
		_, err = r.client.SendMessage(ctx, msg.ChannelID, responder.Response)
	}
	if err != nil {
		return false, err
	}
	r.logger.Debug("autoresponder sent", logger.GuildID(msg.GuildID), logger.ChannelID(msg.ChannelID), zap.String("trigger", responder.Trigger))
	return true, nil
}

// Match returns the first responder whose trigger fits content, in stored
// order. "word*" matches the stem anywhere, strict triggers must be the whole
// message, and the rest match as a word or a substring.
func Match(content string, responders []storage.Autoresponder) *storage.Autoresponder {
	lower := strings.ToLower(strings.TrimSpace(content))
	if lower == "" {
		return nil
	}
	words := strings.Fields(lower)

	for i := range responders {
		trigger := strings.ToLower(strings.TrimSpace(responders[i].Trigger))
		if trigger == "" {
			continue
		}
		if stem, ok := strings.CutSuffix(trigger, "*"); ok {
			stem = strings.TrimRight(stem, "*")
			if stem != "" && strings.Contains(lower, stem) {
				return &responders[i]
			}
			continue
		}
		if responders[i].Strict {
			if lower == trigger || (len(words) == 1 && words[0] == trigger) {
				return &responders[i]
			}
			continue
		}
		if containsWord(words, trigger) || strings.Contains(lower, trigger) {
			return &responders[i]
		}
	}
	return nil
}

func containsWord(words []string, trigger string) bool {
	for _, word := range words {
		if word == trigger {
			return true
		}
	}
	return false
}
