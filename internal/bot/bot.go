package bot

import (
	"context"
	"errors"
	"time"

	"sentinel-automod/internal/analytics"
	"sentinel-automod/internal/config"
	"sentinel-automod/internal/discord"
	"sentinel-automod/internal/guildcache"
	"sentinel-automod/internal/logger"
	"sentinel-automod/internal/modules/audit"
	"sentinel-automod/internal/modules/autoreact"
	"sentinel-automod/internal/modules/autorespond"
	"sentinel-automod/internal/modules/filter"
	"sentinel-automod/internal/modules/jail"
	"sentinel-automod/internal/modules/punish"
	"sentinel-automod/internal/ratelimit"
	"sentinel-automod/internal/slowmode"
	"sentinel-automod/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// messageStateSize is how many messages per channel the state keeps, so edits
// can be compared with the previous content.
const messageStateSize = 50

type Bot struct {
	cfg          config.Config
	logger       *zap.Logger
	store        *storage.Store
	cache        *guildcache.Cache
	audit        *audit.Logger
	analytics    *analytics.Service
	session      *discordgo.Session
	domains      *filter.Domains
	slowmode     *slowmode.Engine
	jail         *jail.Service
	pipeline     *filter.Pipeline
	responder    *autorespond.Responder
	reactor      *autoreact.Reactor
	eventTimeout time.Duration
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, limiter ratelimit.Limiter, auditLogger *audit.Logger, analyticsEngine *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildEmojis |
		discordgo.IntentsMessageContent
	session.State.MaxMessageCount = messageStateSize

	client := discord.NewSession(session)
	cache := guildcache.New(store, cfg.Cache.Size, time.Duration(cfg.Cache.TTLSeconds)*time.Second, logger.Named("guildcache"))
	domains := filter.NewDomains(cfg.Automod.AllowedLinkDomains)
	slow := slowmode.New(client, auditLogger, logger.Named("slowmode"))
	jailer := jail.New(store, client, logger.Named("jail"))
	executor := punish.New(client, limiter, jailer, auditLogger, logger.Named("punish"), punish.Config{
		DefaultTimeout: time.Duration(cfg.Automod.DefaultTimeoutSeconds) * time.Second,
		NoticeTTL:      time.Duration(cfg.Automod.TimeoutNoticeSeconds) * time.Second,
	})

	rules := filter.DefaultRules(filter.Deps{
		Limiter:  limiter,
		Client:   client,
		Punisher: executor,
		Slowmode: slow,
		Domains:  domains,
		Config:   filterConfig(cfg.Automod),
		Logger:   logger.Named("filter"),
	})

	b := &Bot{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		cache:        cache,
		audit:        auditLogger,
		analytics:    analyticsEngine,
		session:      session,
		domains:      domains,
		slowmode:     slow,
		jail:         jailer,
		pipeline:     filter.NewPipeline(cache, executor, rules, logger.Named("filter")),
		responder:    autorespond.New(cache, limiter, client, logger.Named("autorespond")),
		reactor:      autoreact.New(cache, store, limiter, client, auditLogger, logger.Named("autoreact"), time.Duration(cfg.Autoreact.ReactionIntervalMS)*time.Millisecond),
		eventTimeout: time.Duration(cfg.Automod.EventTimeoutSeconds) * time.Second,
	}
	return b, nil
}

func filterConfig(cfg config.AutomodConfig) filter.Config {
	return filter.Config{
		ImageWindow:        time.Duration(cfg.ImageWindowSeconds) * time.Second,
		SpamWindow:         time.Duration(cfg.SpamWindowSeconds) * time.Second,
		SpamTimeout:        time.Duration(cfg.SpamTimeoutSeconds) * time.Second,
		GuildBurstMessages: cfg.GuildBurstMessages,
		GuildBurstWindow:   time.Duration(cfg.GuildBurstWindowSeconds) * time.Second,
		SlowmodeSeconds:    cfg.SlowmodeSeconds,
		SlowmodeRevert:     time.Duration(cfg.SlowmodeRevertMinutes) * time.Minute,
		PurgeLimit:         cfg.PurgeLimit,
	}
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	return b.registerCommands()
}

// ApplyConfig takes the settings that can change without a restart.
func (b *Bot) ApplyConfig(cfg config.Config) {
	b.domains.Set(cfg.Automod.AllowedLinkDomains)
}

// Close reverts pending slowmodes before the session goes away.
func (b *Bot) Close(ctx context.Context) error {
	var err error
	done := make(chan struct{})
	go func() {
		b.slowmode.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, errors.New("slowmode revert did not finish"))
	}
	if b.session != nil {
		err = multierr.Append(err, b.session.Close())
	}
	return err
}

// Ping reports whether the bot can serve traffic.
func (b *Bot) Ping(ctx context.Context) error {
	if b.session == nil || b.session.State == nil || b.session.State.User == nil {
		return errors.New("discord session not ready")
	}
	return b.store.Ping(ctx)
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) eventContext() (context.Context, context.CancelFunc) {
	timeout := b.eventTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (b *Bot) onMessageCreate(session *discordgo.Session, event *discordgo.MessageCreate) {
	if event.Author == nil || event.Author.Bot || event.GuildID == "" {
		return
	}

	msg, err := discord.FromMessage(session.State, event.Message)
	if err != nil {
		b.logger.Debug("message not resolvable", logger.GuildID(event.GuildID), logger.MessageID(event.ID), zap.Error(err))
		return
	}

	ctx, cancel := b.eventContext()
	defer cancel()
	b.handleMessage(ctx, msg)
}

func (b *Bot) onMessageUpdate(session *discordgo.Session, event *discordgo.MessageUpdate) {
	// embed unfurls arrive as updates without an author
	if event.Author == nil || event.Author.Bot || event.GuildID == "" {
		return
	}
	if event.BeforeUpdate != nil && event.BeforeUpdate.Content == event.Content {
		return
	}

	msg, err := discord.FromMessage(session.State, event.Message)
	if err != nil {
		b.logger.Debug("edited message not resolvable", logger.GuildID(event.GuildID), logger.MessageID(event.ID), zap.Error(err))
		return
	}
	msg.Edited = true

	ctx, cancel := b.eventContext()
	defer cancel()
	b.pipeline.ProcessEdit(ctx, msg)
}

// handleMessage runs the filter and, when nothing blocked the message, the
// autoresponder and autoreact side by side.
func (b *Bot) handleMessage(ctx context.Context, msg *discord.Message) {
	if result := b.pipeline.Process(ctx, msg); result.Blocked {
		return
	}

	var g errgroup.Group
	g.Go(func() error {
		_, err := b.responder.Handle(ctx, msg)
		return err
	})
	g.Go(func() error {
		_, err := b.reactor.Handle(ctx, msg)
		return err
	})
	if err := g.Wait(); err != nil {
		b.logger.Warn("side pipeline failed", logger.GuildID(msg.GuildID), logger.MessageID(msg.ID), zap.Error(err))
	}
}

func (b *Bot) memberHasManageGuild(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	return member.Permissions&(discordgo.PermissionManageServer|discordgo.PermissionAdministrator) != 0
}
