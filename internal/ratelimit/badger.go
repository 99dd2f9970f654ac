package ratelimit

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const badgerKeyPrefix = "rl:"

// Badger persists counters in an embedded badger database so limits survive
// restarts of a single instance.
type Badger struct {
	mu    sync.Mutex
	db    *badger.DB
	clock Clock
}

// badgerLogger routes badger's own logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(f string, v ...any) { l.Warnf(f, v...) }
func (l badgerLogger) Infof(string, ...any)        {}
func (l badgerLogger) Debugf(string, ...any)       {}

// OpenBadger opens the database at path; an empty path keeps it in memory.
func OpenBadger(path string, logger *zap.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = badgerLogger{logger.Sugar()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &Badger{db: db, clock: realClock{}}, nil
}

func (b *Badger) WithClock(clock Clock) {
	b.clock = clock
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) Ratelimited(ctx context.Context, key Key, limit int, period time.Duration) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id := []byte(badgerKeyPrefix + key.String())

	// badger holds a directory lock, so this process is the only writer and
	// serialising here rules out transaction conflicts
	b.mu.Lock()
	defer b.mu.Unlock()

	var remaining time.Duration
	err := b.db.Update(func(txn *badger.Txn) error {
		now := b.clock.Now()
		start, count := now, 0

		item, err := txn.Get(id)
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				s, c, ok := decodeWindow(val)
				if ok && s.Add(period).After(now) {
					start, count = s, c
				}
				return nil
			}); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		count++
		end := start.Add(period)
		if count > limit {
			remaining = end.Sub(now)
		}
		// expiry has second granularity, the stored start is authoritative
		entry := badger.NewEntry(id, encodeWindow(start, count)).WithTTL(end.Sub(now) + time.Second)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return 0, fmt.Errorf("badger ratelimit %s: %w", key, err)
	}
	return remaining, nil
}

func encodeWindow(start time.Time, count int) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(start.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], uint64(count))
	return buf
}

func decodeWindow(val []byte) (time.Time, int, bool) {
	if len(val) != 16 {
		return time.Time{}, 0, false
	}
	start := time.Unix(0, int64(binary.BigEndian.Uint64(val[:8])))
	count := int(binary.BigEndian.Uint64(val[8:]))
	return start, count, true
}
