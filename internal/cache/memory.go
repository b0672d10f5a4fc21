package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alex65536/bracketd/internal/util/timeutil"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory keeps entries in process. Entries are never mutated after insertion:
// a stale entry is skipped on read and replaced by the next Set.
type Memory struct {
	entries sync.Map
	clock   timeutil.Clock
}

var _ Store = (*Memory)(nil)

func NewMemory(clock timeutil.Clock) *Memory {
	return &Memory{clock: clock}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := m.entries.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if !m.clock.Now().Before(e.expiresAt) {
		m.entries.CompareAndDelete(key, e)
		return nil, false
	}
	return e.value, true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.entries.Store(key, &entry{
		value:     value,
		expiresAt: m.clock.Now().Add(ttl),
	})
}

// Prune drops expired entries and returns how many were removed.
func (m *Memory) Prune() int {
	now := m.clock.Now()
	removed := 0
	m.entries.Range(func(k, v any) bool {
		if !now.Before(v.(*entry).expiresAt) && m.entries.CompareAndDelete(k, v) {
			removed++
		}
		return true
	})
	return removed
}

func (m *Memory) Len() int {
	n := 0
	m.entries.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// RunJanitor prunes the store every interval until ctx is done.
func (m *Memory) RunJanitor(ctx context.Context, log *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Prune(); n != 0 {
				log.Debug("pruned cache entries", slog.Int("count", n))
			}
		}
	}
}
