package autoreact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentinel-automod/internal/discord"
	"sentinel-automod/internal/guildcache"
	"sentinel-automod/internal/logger"
	"sentinel-automod/internal/modules/audit"
	"sentinel-automod/internal/ratelimit"
	"sentinel-automod/internal/storage"
	"sentinel-automod/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultInterval = 500 * time.Millisecond

type SnapshotSource interface {
	Snapshot(ctx context.Context, guildID string) (*guildcache.Snapshot, error)
	Invalidate(guildID string)
}

type Store interface {
	DeleteReaction(ctx context.Context, guildID, reaction string) (int64, error)
}

type batch struct {
	key       ratelimit.Key
	reactions []string
}

type Reactor struct {
	source   SnapshotSource
	store    Store
	limiter  ratelimit.Limiter
	client   discord.Client
	audit    *audit.Logger
	logger   *zap.Logger
	interval time.Duration
}

func New(source SnapshotSource, store Store, limiter ratelimit.Limiter, client discord.Client, auditLogger *audit.Logger, log *zap.Logger, interval time.Duration) *Reactor {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Reactor{
		source:   source,
		store:    store,
		limiter:  limiter,
		client:   client,
		audit:    auditLogger,
		logger:   log,
		interval: interval,
	}
}

// Handle adds the configured reactions for every keyword and event the message
// matches and returns how many were added. Reactions that no longer resolve
// are removed from the guild configuration.
func (r *Reactor) Handle(ctx context.Context, msg *discord.Message) (int, error) {
	if msg.Author.Bot || msg.GuildID == "" {
		return 0, nil
	}
	snap, err := r.source.Snapshot(ctx, msg.GuildID)
	if err != nil {
		return 0, err
	}
	if len(snap.Reacts) == 0 && len(snap.ReactEvents) == 0 {
		return 0, nil
	}

	allowed, err := ratelimit.Allowed(ctx, r.limiter, ratelimit.Guild(ratelimit.ScopeReactGuild, msg.GuildID), 5, 2*time.Second)
	if err != nil || !allowed {
		return 0, err
	}

	pacer := rate.NewLimiter(rate.Every(r.interval), 1)
	added := 0
	for _, b := range r.batches(msg, snap) {
		allowed, err := ratelimit.Allowed(ctx, r.limiter, b.key, 1, 3*time.Second)
		if err != nil {
			return added, err
		}
		if !allowed {
			continue
		}
		n, stop, err := r.react(ctx, msg, pacer, b.reactions)
		added += n
		if err != nil || stop {
			return added, err
		}
	}
	return added, nil
}

// batches groups reactions by the keyword or event that selected them, keywords
// first in stored order.
func (r *Reactor) batches(msg *discord.Message, snap *guildcache.Snapshot) []batch {
	var out []batch
	index := make(map[string]int)
	for _, react := range snap.Reacts {
		if storage.IsReactEvent(react.Keyword) || react.Keyword == "" || !strings.Contains(msg.Content, react.Keyword) {
			continue
		}
		i, ok := index[react.Keyword]
		if !ok {
			i = len(out)
			index[react.Keyword] = i
			out = append(out, batch{key: ratelimit.Key{
				Scope:     ratelimit.ScopeReactKeyword,
				GuildID:   msg.GuildID,
				ChannelID: msg.ChannelID,
				Name:      react.Keyword,
			}})
		}
		out[i].reactions = append(out[i].reactions, react.Reaction)
	}

	for _, event := range storage.ReactEvents {
		if !matchesEvent(msg, event) {
			continue
		}
		var reactions []string
		for _, e := range snap.ReactEvents {
			if e.Event == event {
				reactions = append(reactions, e.Reaction)
			}
		}
		if len(reactions) == 0 {
			continue
		}
		out = append(out, batch{
			key:       ratelimit.Key{Scope: ratelimit.ScopeReactEvent, GuildID: msg.GuildID, ChannelID: msg.ChannelID, Name: string(event)},
			reactions: reactions,
		})
	}
	return out
}

func matchesEvent(msg *discord.Message, event storage.ReactEvent) bool {
	switch event {
	case storage.ReactImages:
		for _, a := range msg.Attachments {
			if strings.HasPrefix(a.ContentType, "image/") || strings.HasPrefix(a.ContentType, "video/") {
				return true
			}
		}
		return false
	case storage.ReactSpoilers:
		return utils.CountSpoilerMarkers(msg.Content) >= 2
	case storage.ReactEmojis:
		return utils.CountEmojis(msg.Content) > 0
	case storage.ReactStickers:
		return msg.StickerCount > 0
	}
	return false
}

// react adds one batch. stop is set when the message is gone or the bot may
// not react at all, in which case the remaining batches are pointless.
func (r *Reactor) react(ctx context.Context, msg *discord.Message, pacer *rate.Limiter, reactions []string) (added int, stop bool, err error) {
	allowed, err := ratelimit.Allowed(ctx, r.limiter, ratelimit.Guild(ratelimit.ScopeReactBatch, msg.GuildID), 5, 3*time.Second)
	if err != nil || !allowed {
		return 0, false, err
	}
	if !msg.Self.Can(discordgo.PermissionAddReactions) {
		return 0, true, nil
	}

	seen := make(map[string]struct{}, len(reactions))
	for _, reaction := range reactions {
		if _, dup := seen[reaction]; dup {
			continue
		}
		seen[reaction] = struct{}{}

		if _, id, _, ok := utils.ParseCustomEmoji(reaction); ok && !r.client.ResolveEmoji(msg.GuildID, id) {
			r.forget(ctx, msg.GuildID, reaction)
			continue
		}

		allowed, err := ratelimit.Allowed(ctx, r.limiter, ratelimit.Key{Scope: ratelimit.ScopeReactMessage, MessageID: msg.ID}, 3, 5*time.Second)
		if err != nil {
			return added, false, err
		}
		if !allowed {
			return added, true, nil
		}
		if err := pacer.Wait(ctx); err != nil {
			return added, true, err
		}

		err = r.client.AddReaction(ctx, msg.ChannelID, msg.ID, reaction)
		switch {
		case err == nil:
			added++
		case discord.IsUnknownEmoji(err):
			r.forget(ctx, msg.GuildID, reaction)
		case discord.IsNotFound(err), discord.IsMissingPermissions(err):
			r.logger.Debug("autoreact stopped", logger.GuildID(msg.GuildID), logger.MessageID(msg.ID), zap.Error(err))
			return added, true, nil
		default:
			r.logger.Warn("autoreact failed", logger.GuildID(msg.GuildID), zap.String("reaction", reaction), zap.Error(err))
		}
	}
	return added, false, nil
}

// forget deletes every binding of reaction in the guild. Running it again for
// the same reaction deletes nothing and is not an error.
func (r *Reactor) forget(ctx context.Context, guildID, reaction string) {
	n, err := r.store.DeleteReaction(ctx, guildID, reaction)
	if err != nil {
		r.logger.Warn("autoreact cleanup failed", logger.GuildID(guildID), zap.String("reaction", reaction), zap.Error(err))
		return
	}
	if n == 0 {
		return
	}
	r.source.Invalidate(guildID)
	r.audit.Log(ctx, audit.LevelInfo, guildID, "", audit.EventSelfHeal, fmt.Sprintf("reaction=%s rows=%d", reaction, n))
}
