package filter

import (
	"context"
	"fmt"
	"time"

	"sentinel-automod/internal/discord"
	"sentinel-automod/internal/logger"
	"sentinel-automod/internal/modules/punish"
	"sentinel-automod/internal/ratelimit"
	"sentinel-automod/internal/storage"

	"go.uber.org/zap"
)

type Slowmoder interface {
	Trigger(ctx context.Context, guildID, channelID string, seconds int, revertAfter time.Duration) bool
}

// spamRule has two independent parts. A guild-wide burst slows the channel
// down without blocking the message. A punishable member going over threshold-1 messages
// in the spam window is punished and their recent messages are purged; a
// repeat inside the hard window gets a direct timeout instead.
type spamRule struct {
	limiter  ratelimit.Limiter
	client   discord.Client
	punisher Punisher
	slowmode Slowmoder
	cfg      Config
	log      *zap.Logger
}

func (r *spamRule) Name() storage.FilterName { return storage.FilterSpam }

func (r *spamRule) Evaluate(ctx context.Context, env Env) (*Verdict, error) {
	msg := env.Msg

	burst, err := r.limiter.Ratelimited(ctx, ratelimit.Guild(ratelimit.ScopeSpamGuild, msg.GuildID), r.cfg.GuildBurstMessages, r.cfg.GuildBurstWindow)
	if err != nil {
		return nil, err
	}
	if burst > 0 && msg.Punishable() && !env.Snap.InAnyWhitelist(msg.SubjectIDs()...) {
		r.slowChannel(ctx, msg)
	}

	if env.Setting.Threshold <= 0 || !msg.Punishable() {
		return nil, nil
	}
	soft, err := r.limiter.Ratelimited(ctx, ratelimit.Member(ratelimit.ScopeSpamSoft, msg.GuildID, msg.Author.ID), env.Setting.Threshold-1, r.cfg.SpamWindow)
	if err != nil {
		return nil, err
	}
	if soft == 0 {
		return nil, nil
	}

	hard, err := r.limiter.Ratelimited(ctx, ratelimit.Member(ratelimit.ScopeSpamHard, msg.GuildID, msg.Author.ID), 1, r.cfg.SpamHardWindow)
	if err != nil {
		return nil, err
	}

	outcome := r.sanction(ctx, env, hard > 0)

	if r.client != nil {
		if _, err := r.client.PurgeMessages(ctx, msg.ChannelID, r.cfg.PurgeLimit, discord.ByAuthor(msg.Author.ID)); err != nil {
			r.log.Warn("spam purge failed", logger.GuildID(msg.GuildID), logger.ChannelID(msg.ChannelID), zap.Error(err))
		}
	}
	return &Verdict{Reason: ReasonSpam, Outcome: &outcome}, nil
}

func (r *spamRule) sanction(ctx context.Context, env Env, repeat bool) punish.Result {
	if !repeat {
		return r.punisher.Apply(ctx, env.Msg, env.Snap, storage.FilterSpam, ReasonSpam)
	}
	d := r.cfg.SpamTimeout
	if env.Snap.Setup.TimeoutSeconds > 0 {
		d = time.Duration(env.Snap.Setup.TimeoutSeconds) * time.Second
	}
	return r.punisher.Mute(ctx, env.Msg, storage.FilterSpam, d, ReasonSpam)
}

func (r *spamRule) slowChannel(ctx context.Context, msg *discord.Message) {
	if r.slowmode == nil {
		return
	}
	first, err := ratelimit.Allowed(ctx, r.limiter, ratelimit.Channel(ratelimit.ScopeSpamSlowmode, msg.ChannelID), 1, r.cfg.SlowmodeRevert)
	if err != nil {
		r.log.Warn("slowmode limit failed", logger.ChannelID(msg.ChannelID), zap.Error(err))
		return
	}
	if !first || !r.slowmode.Trigger(ctx, msg.GuildID, msg.ChannelID, r.cfg.SlowmodeSeconds, r.cfg.SlowmodeRevert) {
		return
	}
	if r.client == nil {
		return
	}
	notice := fmt.Sprintf("Set the channel to **slow mode due to excessive spam**, it will be disabled <t:%d:R>", time.Now().Add(r.cfg.SlowmodeRevert).Unix())
	if _, err := r.client.SendMessage(ctx, msg.ChannelID, notice); err != nil {
		r.log.Debug("slowmode notice failed", logger.ChannelID(msg.ChannelID), zap.Error(err))
	}
}
