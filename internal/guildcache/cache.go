package guildcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel-automod/internal/logger"
	"sentinel-automod/internal/storage"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultSize = 4096
	defaultTTL  = 30 * time.Second
)

// Source is the storage the cache reads through to.
type Source interface {
	ListFilterSettings(ctx context.Context, guildID string) ([]storage.FilterSetting, error)
	GetFilterSetup(ctx context.Context, guildID string) (storage.FilterSetup, error)
	ListKeywords(ctx context.Context, guildID string) ([]string, error)
	ListWhitelist(ctx context.Context, guildID string) ([]storage.WhitelistEntry, error)
	ListDomainAllow(ctx context.Context, guildID string) ([]string, error)
	ListAutoresponders(ctx context.Context, guildID string) ([]storage.Autoresponder, error)
	ListAutoreacts(ctx context.Context, guildID string) ([]storage.Autoreact, error)
	ListAutoreactEvents(ctx context.Context, guildID string) ([]storage.AutoreactEvent, error)
}

type Cache struct {
	source Source
	logger *zap.Logger
	group  singleflight.Group
	items  *lru.LRU[string, *Snapshot]

	mu          sync.Mutex
	generations map[string]uint64
}

func New(source Source, size int, ttl time.Duration, log *zap.Logger) *Cache {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		source:      source,
		logger:      log,
		items:       lru.NewLRU[string, *Snapshot](size, nil, ttl),
		generations: make(map[string]uint64),
	}
}

// Snapshot returns the cached configuration of guildID, loading it once for
// all concurrent callers when missing or expired.
func (c *Cache) Snapshot(ctx context.Context, guildID string) (*Snapshot, error) {
	if snap, ok := c.items.Get(guildID); ok {
		return snap, nil
	}

	gen := c.generation(guildID)
	value, err, _ := c.group.Do(guildID, func() (any, error) {
		snap, err := c.load(ctx, guildID)
		if err != nil {
			return nil, err
		}
		// an Invalidate during the load makes this snapshot stale
		if c.generation(guildID) == gen {
			c.items.Add(guildID, snap)
		}
		return snap, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load guild %s: %w", guildID, err)
	}
	return value.(*Snapshot), nil
}

// Invalidate drops the cached snapshot so the next read hits storage.
func (c *Cache) Invalidate(guildID string) {
	c.mu.Lock()
	c.generations[guildID]++
	c.mu.Unlock()
	c.group.Forget(guildID)
	c.items.Remove(guildID)
	c.logger.Debug("guild cache invalidated", logger.GuildID(guildID))
}

func (c *Cache) Len() int {
	return c.items.Len()
}

func (c *Cache) generation(guildID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[guildID]
}

func (c *Cache) load(ctx context.Context, guildID string) (*Snapshot, error) {
	snap := &Snapshot{GuildID: guildID, LoadedAt: time.Now()}
	var settings []storage.FilterSetting

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		settings, err = c.source.ListFilterSettings(ctx, guildID)
		return err
	})
	g.Go(func() (err error) {
		snap.Setup, err = c.source.GetFilterSetup(ctx, guildID)
		return err
	})
	g.Go(func() (err error) {
		snap.Keywords, err = c.source.ListKeywords(ctx, guildID)
		return err
	})
	g.Go(func() (err error) {
		snap.Whitelist, err = c.source.ListWhitelist(ctx, guildID)
		return err
	})
	g.Go(func() (err error) {
		snap.Domains, err = c.source.ListDomainAllow(ctx, guildID)
		return err
	})
	g.Go(func() (err error) {
		snap.Responders, err = c.source.ListAutoresponders(ctx, guildID)
		return err
	})
	g.Go(func() (err error) {
		snap.Reacts, err = c.source.ListAutoreacts(ctx, guildID)
		return err
	})
	g.Go(func() (err error) {
		snap.ReactEvents, err = c.source.ListAutoreactEvents(ctx, guildID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.Filters = make(map[storage.FilterName]storage.FilterSetting, len(settings))
	for _, setting := range settings {
		snap.Filters[setting.Event] = setting
	}
	return snap, nil
}
