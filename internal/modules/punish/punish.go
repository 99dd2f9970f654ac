package punish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentinel-automod/internal/discord"
	"sentinel-automod/internal/guildcache"
	"sentinel-automod/internal/logger"
	"sentinel-automod/internal/modules/audit"
	"sentinel-automod/internal/ratelimit"
	"sentinel-automod/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const attemptWindow = 10 * time.Second

// MaxTimeout is the longest timeout the platform accepts.
const MaxTimeout = 28 * 24 * time.Hour

var (
	ErrHierarchy       = errors.New("author is not below the bot")
	ErrWhitelisted     = errors.New("author is whitelisted")
	ErrAlreadyTimedOut = errors.New("author is already timed out")
	ErrRateLimited     = errors.New("punishment rate limited")
	ErrNoPermission    = errors.New("bot lacks the permission for this punishment")
)

type Jailer interface {
	Jail(ctx context.Context, msg *discord.Message, reason string) error
}

type Config struct {
	DefaultTimeout time.Duration
	// NoticeTTL is how long the timeout notice stays in the channel.
	NoticeTTL time.Duration
}

// Result describes what Apply did. Err is set when the punishment was skipped
// or the platform rejected it; the message deletion is reported separately.
type Result struct {
	Kind      storage.Punishment
	Deleted   bool
	Applied   bool
	DeleteErr error
	Err       error
}

type Executor struct {
	client  discord.Client
	limiter ratelimit.Limiter
	jailer  Jailer
	audit   *audit.Logger
	logger  *zap.Logger
	cfg     Config
	now     func() time.Time
	after   func(d time.Duration, f func())
}

func New(client discord.Client, limiter ratelimit.Limiter, jailer Jailer, auditLogger *audit.Logger, log *zap.Logger, cfg Config) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 20 * time.Second
	}
	if cfg.NoticeTTL <= 0 {
		cfg.NoticeTTL = 5 * time.Second
	}
	return &Executor{
		client:  client,
		limiter: limiter,
		jailer:  jailer,
		audit:   auditLogger,
		logger:  log,
		cfg:     cfg,
		now:     time.Now,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// Apply deletes the message and then runs the guild's configured punishment.
// The deletion is best effort and never stops the punishment.
func (e *Executor) Apply(ctx context.Context, msg *discord.Message, snap *guildcache.Snapshot, rule storage.FilterName, reason string) Result {
	result := Result{Kind: snap.Setup.Punishment}

	if err := e.client.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil {
		result.DeleteErr = err
		if !discord.IsNotFound(err) {
			e.logger.Warn("delete offending message failed", logger.GuildID(msg.GuildID), logger.MessageID(msg.ID), zap.Error(err))
		}
	} else {
		result.Deleted = true
	}

	switch snap.Setup.Punishment {
	case storage.PunishmentNone:
		return result
	case storage.PunishmentTimeout:
		result.Err = e.timeout(ctx, msg, snap, reason)
	case storage.PunishmentKick:
		if !msg.Self.CanInGuild(discordgo.PermissionKickMembers) {
			result.Err = ErrNoPermission
			break
		}
		result.Err = e.client.KickMember(ctx, msg.GuildID, msg.Author.ID, reason)
	case storage.PunishmentBan:
		if !msg.Self.CanInGuild(discordgo.PermissionBanMembers) {
			result.Err = ErrNoPermission
			break
		}
		result.Err = e.client.BanMember(ctx, msg.GuildID, msg.Author.ID, reason)
	case storage.PunishmentJail:
		if e.jailer == nil {
			result.Err = errors.New("jail is not available")
			break
		}
		result.Err = e.jailer.Jail(ctx, msg, reason)
	default:
		result.Err = fmt.Errorf("unhandled punishment %d", snap.Setup.Punishment)
	}

	result.Applied = result.Err == nil
	e.record(ctx, msg, rule, reason, result.Kind, result.Err)
	return result
}

// Mute times the author out for d without the attempt limits Apply uses. It
// still refuses members the bot cannot act on.
func (e *Executor) Mute(ctx context.Context, msg *discord.Message, rule storage.FilterName, d time.Duration, reason string) Result {
	result := Result{Kind: storage.PunishmentTimeout}
	switch {
	case !msg.Self.CanInGuild(discordgo.PermissionModerateMembers):
		result.Err = ErrNoPermission
	case !msg.Punishable():
		result.Err = ErrHierarchy
	case msg.Author.TimedOut(e.now()):
		result.Err = ErrAlreadyTimedOut
	default:
		result.Err = e.client.TimeoutMember(ctx, msg.GuildID, msg.Author.ID, e.now().Add(d), reason)
	}
	result.Applied = result.Err == nil
	e.record(ctx, msg, rule, reason, result.Kind, result.Err)
	return result
}

func (e *Executor) timeout(ctx context.Context, msg *discord.Message, snap *guildcache.Snapshot, reason string) error {
	if !msg.Self.CanInGuild(discordgo.PermissionModerateMembers) {
		return ErrNoPermission
	}
	for _, key := range []ratelimit.Key{
		ratelimit.Guild(ratelimit.ScopeTimeoutGuild, msg.GuildID),
		ratelimit.Member(ratelimit.ScopeTimeoutMember, msg.GuildID, msg.Author.ID),
	} {
		allowed, err := ratelimit.Allowed(ctx, e.limiter, key, 1, attemptWindow)
		if err != nil {
			return fmt.Errorf("timeout attempt limit: %w", err)
		}
		if !allowed {
			return ErrRateLimited
		}
	}

	if !msg.Punishable() {
		return ErrHierarchy
	}
	if snap.InAnyWhitelist(msg.SubjectIDs()...) {
		return ErrWhitelisted
	}
	if msg.Author.TimedOut(e.now()) {
		return ErrAlreadyTimedOut
	}

	duration := e.cfg.DefaultTimeout
	if snap.Setup.TimeoutSeconds > 0 {
		duration = time.Duration(snap.Setup.TimeoutSeconds) * time.Second
	}
	allowed, err := ratelimit.Allowed(ctx, e.limiter, ratelimit.Member(ratelimit.ScopeTimeoutCooldown, msg.GuildID, msg.Author.ID), 1, duration)
	if err != nil {
		return fmt.Errorf("timeout cooldown: %w", err)
	}
	if !allowed {
		return ErrRateLimited
	}

	if err := e.client.TimeoutMember(ctx, msg.GuildID, msg.Author.ID, e.now().Add(duration), reason); err != nil {
		return err
	}
	e.notify(ctx, msg, duration, reason)
	return nil
}

// notify posts a short-lived notice in the channel. Failures only get logged.
func (e *Executor) notify(ctx context.Context, msg *discord.Message, d time.Duration, reason string) {
	content := fmt.Sprintf("<@%s> has been **timed out** for `%d seconds`. **Reason:** %s", msg.Author.ID, int(d.Seconds()), reason)
	noticeID, err := e.client.SendMessage(ctx, msg.ChannelID, content)
	if err != nil {
		e.logger.Debug("timeout notice failed", logger.ChannelID(msg.ChannelID), zap.Error(err))
		return
	}
	channelID := msg.ChannelID
	e.after(e.cfg.NoticeTTL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.client.DeleteMessage(ctx, channelID, noticeID); err != nil && !discord.IsNotFound(err) {
			e.logger.Debug("timeout notice cleanup failed", logger.ChannelID(channelID), zap.Error(err))
		}
	})
}

func (e *Executor) record(ctx context.Context, msg *discord.Message, rule storage.FilterName, reason string, kind storage.Punishment, err error) {
	outcome := audit.Outcome{
		GuildID:   msg.GuildID,
		UserID:    msg.Author.ID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		Rule:      string(rule),
		Reason:    reason,
		Kind:      kind.String(),
	}
	switch {
	case err == nil:
		e.audit.Punishment(ctx, outcome, nil)
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrAlreadyTimedOut), errors.Is(err, ErrWhitelisted), errors.Is(err, ErrHierarchy):
		e.logger.Debug("punishment skipped", logger.GuildID(msg.GuildID), logger.UserID(msg.Author.ID), logger.Rule(string(rule)), zap.Error(err))
	default:
		e.logger.Warn("punishment failed", logger.GuildID(msg.GuildID), logger.UserID(msg.Author.ID), logger.Rule(string(rule)), zap.String("kind", kind.String()), zap.Error(err))
		e.audit.Punishment(ctx, outcome, err)
	}
}
