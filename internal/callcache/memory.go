package callcache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/samcharles93/llmfunc/internal/chooser"
)

// Memory is an in-process TTL cache.
type Memory struct {
	cache *ttlcache.Cache[string, *chooser.Call]
}

// NewMemory starts the expiry loop; call Close to stop it.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := ttlcache.New[string, *chooser.Call](
		ttlcache.WithTTL[string, *chooser.Call](ttl),
		ttlcache.WithDisableTouchOnHit[string, *chooser.Call](),
	)
	go c.Start()
	return &Memory{cache: c}
}

func (m *Memory) Get(_ context.Context, key string) (*chooser.Call, bool, error) {
	item := m.cache.Get(key)
	if item == nil {
		return nil, false, nil
	}
	call := *item.Value()
	return &call, true, nil
}

func (m *Memory) Set(_ context.Context, key string, call *chooser.Call) error {
	c := *call
	m.cache.Set(key, &c, ttlcache.DefaultTTL)
	return nil
}

// Len is the number of live entries.
func (m *Memory) Len() int { return m.cache.Len() }

func (m *Memory) Close() error {
	m.cache.Stop()
	return nil
}
