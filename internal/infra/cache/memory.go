package cache

import (
	"context"
	"sync"
	"time"

	"github.com/gettixvp/newtg/internal/domain"
)

// MemoryCache заменяет Redis в пределах одного процесса.
type MemoryCache struct {
	mu    sync.Mutex
	now   func() time.Time
	until map[string]time.Time
}

var _ domain.Cache = (*MemoryCache)(nil)

// NewMemory создаёт кэш в памяти.
func NewMemory() *MemoryCache {
	return &MemoryCache{now: time.Now, until: make(map[string]time.Time)}
}

// Acquire занимает ключ на ttl.
func (c *MemoryCache) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.until[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.until[key] = now.Add(ttl)

	for k, exp := range c.until {
		if !now.Before(exp) {
			delete(c.until, k)
		}
	}
	return true, nil
}
