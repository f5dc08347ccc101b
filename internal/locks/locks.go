// package locks serializes work per key, in process or across processes through Redis
package locks

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wissel/internal/shared"
)

// Locker acquires an exclusive lock on a key. The returned unlock function is safe to call more than once.
//
// Lock blocks until the lock is held or ctx is done, in which case the error wraps [shared.ErrLockTimeout].
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// PlaylistKey is the lock key used to serialize refreshes and commits of one playlist.
func PlaylistKey(playlistKey string) string {
	return "playlist:" + playlistKey
}

// Memory is an in-process keyed mutex.
type Memory struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemory creates an empty in-process [Locker].
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]chan struct{})}
}

func (m *Memory) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.slots[key] = ch
	}
	return ch
}

// Lock implements [Locker].
func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	ch := m.slot(key)

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}

// FromConfig builds the configured [Locker]. The returned close function releases backend resources.
func FromConfig(ctx context.Context, cfg shared.LockConfig, logger *log.Logger) (Locker, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), func() error { return nil }, nil
	case "redis":
		ttl, err := cfg.TTLDuration()
		if err != nil {
			return nil, nil, err
		}
		r, err := NewRedis(ctx, RedisConfig{
			Addr:          cfg.RedisAddr,
			Password:      cfg.RedisPassword,
			DB:            cfg.RedisDB,
			LeaseDuration: ttl,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown lock backend %q", shared.ErrInvalidConfig, cfg.Backend)
}
