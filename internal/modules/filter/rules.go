package filter

import (
	"context"
	"strings"
	"time"

	"sentinel-automod/internal/discord"
	"sentinel-automod/internal/ratelimit"
	"sentinel-automod/internal/storage"
	"sentinel-automod/internal/utils"

	"go.uber.org/zap"
)

const (
	ReasonKeywords    = "muted by the chat filter"
	ReasonSpoilers    = "muted by the spoiler filter"
	ReasonHeaders     = "muted by the header filter"
	ReasonImages      = "muted by the image filter"
	ReasonLinks       = "muted by the link filter"
	ReasonSpam        = "flooding chat"
	ReasonEmojis      = "muted by the emoji filter"
	ReasonInvites     = "muted by the invite filter"
	ReasonCaps        = "muted by the cap filter"
	ReasonMassMention = "muted by the mention filter"
)

type Config struct {
	ImageWindow        time.Duration
	SpamWindow         time.Duration
	SpamHardWindow     time.Duration
	SpamTimeout        time.Duration
	GuildBurstMessages int
	GuildBurstWindow   time.Duration
	SlowmodeSeconds    int
	SlowmodeRevert     time.Duration
	PurgeLimit         int
}

func (c Config) withDefaults() Config {
	if c.ImageWindow <= 0 {
		c.ImageWindow = 10 * time.Second
	}
	if c.SpamWindow <= 0 {
		c.SpamWindow = 5 * time.Second
	}
	if c.SpamHardWindow <= 0 {
		c.SpamHardWindow = 4 * time.Second
	}
	if c.SpamTimeout <= 0 {
		c.SpamTimeout = 5 * time.Second
	}
	if c.GuildBurstMessages <= 0 {
		c.GuildBurstMessages = 20
	}
	if c.GuildBurstWindow <= 0 {
		c.GuildBurstWindow = 10 * time.Second
	}
	if c.SlowmodeSeconds <= 0 {
		c.SlowmodeSeconds = 5
	}
	if c.SlowmodeRevert <= 0 {
		c.SlowmodeRevert = 5 * time.Minute
	}
	if c.PurgeLimit <= 0 {
		c.PurgeLimit = 10
	}
	return c
}

type Deps struct {
	Limiter  ratelimit.Limiter
	Client   discord.Client
	Punisher Punisher
	Slowmode Slowmoder
	Domains  *Domains
	Config   Config
	Logger   *zap.Logger
}

// DefaultRules returns the rules in the order they are evaluated.
func DefaultRules(deps Deps) []Rule {
	cfg := deps.Config.withDefaults()
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return []Rule{
		keywordsRule{},
		thresholdRule{name: storage.FilterSpoilers, reason: ReasonSpoilers, fires: spoilersFire},
		thresholdRule{name: storage.FilterHeaders, reason: ReasonHeaders, fires: headersFire},
		&imagesRule{limiter: deps.Limiter, window: cfg.ImageWindow},
		&linksRule{domains: deps.Domains},
		&spamRule{limiter: deps.Limiter, client: deps.Client, punisher: deps.Punisher, slowmode: deps.Slowmode, cfg: cfg, log: log},
		thresholdRule{name: storage.FilterEmojis, reason: ReasonEmojis, fires: func(m *discord.Message, t int) bool {
			return utils.CountEmojis(m.Content) >= t
		}},
		invitesRule{},
		thresholdRule{name: storage.FilterCaps, reason: ReasonCaps, fires: func(m *discord.Message, t int) bool {
			return utils.CountUpper(m.Content) >= t
		}},
		thresholdRule{name: storage.FilterMassMention, reason: ReasonMassMention, fires: func(m *discord.Message, t int) bool {
			return len(m.Mentions) >= t
		}},
	}
}

func punishWith(reason string) *Verdict {
	return &Verdict{Reason: reason, Punish: true}
}

type keywordsRule struct{}

func (keywordsRule) Name() storage.FilterName { return storage.FilterKeywords }

func (keywordsRule) Evaluate(_ context.Context, env Env) (*Verdict, error) {
	if MatchKeyword(env.Msg.Content, env.Snap.Keywords) != "" {
		return punishWith(ReasonKeywords), nil
	}
	return nil, nil
}

// MatchKeyword returns the first keyword found in content. A trailing "*"
// matches the stem anywhere; plain keywords match a whole word or any
// substring of the lower-cased content.
func MatchKeyword(content string, keywords []string) string {
	lower := strings.ToLower(content)
	words := make(map[string]struct{})
	for _, word := range strings.Fields(lower) {
		words[word] = struct{}{}
	}
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if stem, ok := strings.CutSuffix(keyword, "*"); ok {
			if stem != "" && strings.Contains(lower, stem) {
				return keyword
			}
			continue
		}
		if keyword == "" {
			continue
		}
		if _, ok := words[keyword]; ok || strings.Contains(lower, keyword) {
			return keyword
		}
	}
	return ""
}

// thresholdRule fires when fires reports the message reached the configured
// threshold. A threshold of zero or less disables the rule.
type thresholdRule struct {
	name   storage.FilterName
	reason string
	fires  func(msg *discord.Message, threshold int) bool
}

func (r thresholdRule) Name() storage.FilterName { return r.name }

func (r thresholdRule) Evaluate(_ context.Context, env Env) (*Verdict, error) {
	if env.Setting.Threshold <= 0 {
		return nil, nil
	}
	if r.fires(env.Msg, env.Setting.Threshold) {
		return punishWith(r.reason), nil
	}
	return nil, nil
}

func spoilersFire(msg *discord.Message, threshold int) bool {
	return utils.CountSpoilerMarkers(msg.Content) >= 2*threshold
}

func headersFire(msg *discord.Message, threshold int) bool {
	for _, words := range utils.HeaderWordCounts(msg.Content) {
		if words >= threshold {
			return true
		}
	}
	return false
}

// imagesRule treats attachments as a rate signal: more than threshold
// attachments from one member inside the window fires.
type imagesRule struct {
	limiter ratelimit.Limiter
	window  time.Duration
}

func (r *imagesRule) Name() storage.FilterName { return storage.FilterImages }

func (r *imagesRule) Evaluate(ctx context.Context, env Env) (*Verdict, error) {
	threshold := env.Setting.Threshold
	if threshold <= 0 {
		return nil, nil
	}
	key := ratelimit.Member(ratelimit.ScopeImages, env.Msg.GuildID, env.Msg.Author.ID)
	for range env.Msg.Attachments {
		remaining, err := r.limiter.Ratelimited(ctx, key, threshold, r.window)
		if err != nil {
			return nil, err
		}
		if remaining > 0 {
			return punishWith(ReasonImages), nil
		}
	}
	return nil, nil
}

type invitesRule struct{}

func (invitesRule) Name() storage.FilterName { return storage.FilterInvites }

func (invitesRule) Evaluate(_ context.Context, env Env) (*Verdict, error) {
	if utils.HasInvite(env.Msg.Content) {
		return punishWith(ReasonInvites), nil
	}
	return nil, nil
}
