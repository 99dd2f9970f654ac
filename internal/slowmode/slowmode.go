package slowmode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel-automod/internal/discord"
	"sentinel-automod/internal/logger"
	"sentinel-automod/internal/modules/audit"

	"go.uber.org/zap"
)

const revertTimeout = 10 * time.Second

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (t realTimer) Stop() bool { return t.t.Stop() }

type state struct {
	guildID string
	until   time.Time
	timer   Timer
}

// Engine puts channels in a temporary slowmode and reverts it later. A channel
// already under automod slowmode is left alone until the revert runs.
type Engine struct {
	mu     sync.Mutex
	client discord.Client
	clock  Clock
	audit  *audit.Logger
	logger *zap.Logger
	active map[string]*state
}

func New(client discord.Client, auditLogger *audit.Logger, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		client: client,
		clock:  realClock{},
		audit:  auditLogger,
		logger: log,
		active: make(map[string]*state),
	}
}

func (e *Engine) WithClock(clock Clock) {
	e.clock = clock
}

func (e *Engine) Trigger(ctx context.Context, guildID, channelID string, seconds int, revertAfter time.Duration) bool {
	e.mu.Lock()
	if _, ok := e.active[channelID]; ok {
		e.mu.Unlock()
		return false
	}
	st := &state{guildID: guildID, until: e.clock.Now().Add(revertAfter)}
	e.active[channelID] = st
	e.mu.Unlock()

	if err := e.client.SetSlowmode(ctx, channelID, seconds, "automod: chat flood"); err != nil {
		e.mu.Lock()
		delete(e.active, channelID)
		e.mu.Unlock()
		e.logger.Warn("slowmode failed", logger.GuildID(guildID), logger.ChannelID(channelID), zap.Error(err))
		return false
	}

	e.audit.Log(ctx, audit.LevelInfo, guildID, "", audit.EventSlowmode, fmt.Sprintf("channel=%s seconds=%d revert_after=%s", channelID, seconds, revertAfter))

	timer := e.clock.AfterFunc(revertAfter, func() {
		e.revert(channelID)
	})
	e.mu.Lock()
	st.timer = timer
	e.mu.Unlock()
	return true
}

func (e *Engine) Active(channelID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[channelID]
	return ok
}

// Close stops pending timers and reverts every channel immediately.
func (e *Engine) Close() {
	e.mu.Lock()
	channels := make([]string, 0, len(e.active))
	for channelID, st := range e.active {
		if st.timer != nil {
			st.timer.Stop()
		}
		channels = append(channels, channelID)
	}
	e.mu.Unlock()

	for _, channelID := range channels {
		e.revert(channelID)
	}
}

func (e *Engine) revert(channelID string) {
	e.mu.Lock()
	st, ok := e.active[channelID]
	delete(e.active, channelID)
	e.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), revertTimeout)
	defer cancel()
	if err := e.client.SetSlowmode(ctx, channelID, 0, "automod: slowmode expired"); err != nil {
		e.logger.Warn("slowmode revert failed", logger.GuildID(st.guildID), logger.ChannelID(channelID), zap.Error(err))
		return
	}
	e.logger.Info("slowmode reverted", logger.GuildID(st.guildID), logger.ChannelID(channelID))
}
