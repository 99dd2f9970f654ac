package audit

import (
	"context"
	"fmt"
	"time"

	"sentinel-automod/internal/logger"
	"sentinel-automod/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

const (
	EventPunishment   = "filter_punishment"
	EventActionFailed = "action_failed"
	EventSlowmode     = "spam_slowmode"
	EventSelfHeal     = "autoreact_self_heal"
	EventConfig       = "automod_config"
)

type Recorder interface {
	AddAuditLog(ctx context.Context, log storage.AuditLog) error
}

// Outcome is one punishment applied (or attempted) on a message.
type Outcome struct {
	GuildID   string
	UserID    string
	ChannelID string
	MessageID string
	Rule      string
	Reason    string
	Kind      string
}

func (o Outcome) String() string {
	return fmt.Sprintf("rule=%s kind=%s channel=%s message=%s reason=%q", o.Rule, o.Kind, o.ChannelID, o.MessageID, o.Reason)
}

type Logger struct {
	store  Recorder
	logger *zap.Logger
	now    func() time.Time
}

func NewLogger(store Recorder, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{store: store, logger: log, now: time.Now}
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	if l == nil {
		return
	}
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit write failed", logger.GuildID(guildID), zap.Error(err))
		}
	}
	l.logger.Info("audit", zap.String("level", level), logger.GuildID(guildID), logger.UserID(userID), zap.String("event", event), zap.String("details", details))
}

// Punishment records a completed punishment, or a failed one when err is set.
func (l *Logger) Punishment(ctx context.Context, outcome Outcome, err error) {
	if err != nil {
		l.Log(ctx, LevelWarn, outcome.GuildID, outcome.UserID, EventActionFailed, fmt.Sprintf("%s error=%q", outcome, err.Error()))
		return
	}
	level := LevelWarn
	if outcome.Kind == storage.PunishmentBan.String() {
		level = LevelCrit
	}
	l.Log(ctx, level, outcome.GuildID, outcome.UserID, EventPunishment, outcome.String())
}
