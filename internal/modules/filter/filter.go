package filter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"sentinel-automod/internal/discord"
	"sentinel-automod/internal/guildcache"
	"sentinel-automod/internal/logger"
	"sentinel-automod/internal/modules/punish"
	"sentinel-automod/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// requiredPerms must all be granted to the bot in the channel, or in the
// parent channel for threads, before any rule runs.
const requiredPerms = discordgo.PermissionSendMessages | discordgo.PermissionModerateMembers | discordgo.PermissionManageMessages

// Verdict is a rule's decision on a message. Punish asks the pipeline to run
// the guild's punishment; otherwise the rule already acted and Outcome, when
// set, reports what it did.
type Verdict struct {
	Reason  string
	Punish  bool
	Outcome *punish.Result
}

type Env struct {
	Msg     *discord.Message
	Snap    *guildcache.Snapshot
	Setting storage.FilterSetting
}

type Rule interface {
	Name() storage.FilterName
	Evaluate(ctx context.Context, env Env) (*Verdict, error)
}

type SnapshotSource interface {
	Snapshot(ctx context.Context, guildID string) (*guildcache.Snapshot, error)
}

type Punisher interface {
	Apply(ctx context.Context, msg *discord.Message, snap *guildcache.Snapshot, rule storage.FilterName, reason string) punish.Result
	Mute(ctx context.Context, msg *discord.Message, rule storage.FilterName, d time.Duration, reason string) punish.Result
}

type Result struct {
	Rule       storage.FilterName
	Reason     string
	Blocked    bool
	Punishment punish.Result
}

// Domains holds the link domains allowed in every guild. It is swapped on
// config reload while rules read it.
type Domains struct {
	v atomic.Pointer[[]string]
}

func NewDomains(domains []string) *Domains {
	d := &Domains{}
	d.Set(domains)
	return d
}

func (d *Domains) Set(domains []string) {
	copied := append([]string(nil), domains...)
	d.v.Store(&copied)
}

func (d *Domains) Get() []string {
	if d == nil {
		return nil
	}
	if p := d.v.Load(); p != nil {
		return *p
	}
	return nil
}

type Pipeline struct {
	source   SnapshotSource
	punisher Punisher
	rules    []Rule
	logger   *zap.Logger
}

func NewPipeline(source SnapshotSource, punisher Punisher, rules []Rule, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{source: source, punisher: punisher, rules: rules, logger: log}
}

func (p *Pipeline) Rules() []Rule {
	return p.rules
}

// Process runs the rules in order and stops at the first verdict. Nothing is
// done when the bot lacks the permissions to moderate the channel, and any
// failure to read the guild configuration lets the message through.
func (p *Pipeline) Process(ctx context.Context, msg *discord.Message) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("filter pipeline panic", logger.GuildID(msg.GuildID), logger.MessageID(msg.ID), zap.Any("panic", r))
			result = Result{}
		}
	}()

	if msg.Author.Bot || msg.GuildID == "" {
		return Result{}
	}
	if !msg.Self.Can(requiredPerms) {
		return Result{}
	}

	snap, err := p.source.Snapshot(ctx, msg.GuildID)
	if err != nil {
		p.logger.Warn("filter config unavailable", logger.GuildID(msg.GuildID), zap.Error(err))
		return Result{}
	}

	ids := msg.SubjectIDs()
	if snap.Whitelisted(storage.FilterAll, ids...) {
		return Result{}
	}

	for _, rule := range p.rules {
		name := rule.Name()
		setting, ok := snap.Filter(name)
		if !ok || snap.Whitelisted(name, ids...) {
			continue
		}

		verdict, err := p.evaluate(ctx, rule, Env{Msg: msg, Snap: snap, Setting: setting})
		if err != nil {
			p.logger.Warn("filter rule failed", logger.GuildID(msg.GuildID), logger.Rule(string(name)), zap.Error(err))
			continue
		}
		if verdict == nil {
			continue
		}

		result = Result{Rule: name, Reason: verdict.Reason, Blocked: true}
		switch {
		case verdict.Punish:
			result.Punishment = p.punisher.Apply(ctx, msg, snap, name, verdict.Reason)
		case verdict.Outcome != nil:
			result.Punishment = *verdict.Outcome
		}
		p.logger.Info("filter triggered",
			logger.GuildID(msg.GuildID),
			logger.ChannelID(msg.ChannelID),
			logger.UserID(msg.Author.ID),
			logger.Rule(string(name)),
			zap.Bool("applied", result.Punishment.Applied),
		)
		return result
	}
	return Result{}
}

// ProcessEdit re-runs the pipeline on an edited message. Edits that carry no
// content, such as embed unfurls, are ignored.
func (p *Pipeline) ProcessEdit(ctx context.Context, msg *discord.Message) Result {
	if msg.Content == "" {
		return Result{}
	}
	return p.Process(ctx, msg)
}

// evaluate isolates a rule so a panic inside it only skips that rule.
func (p *Pipeline) evaluate(ctx context.Context, rule Rule, env Env) (verdict *Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			verdict, err = nil, fmt.Errorf("rule %s panicked: %v", rule.Name(), r)
		}
	}()
	return rule.Evaluate(ctx, env)
}
