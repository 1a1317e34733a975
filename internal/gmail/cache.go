package gmail

import (
	"strings"
	"sync"
)

// AccountCache remembers the most recently resolved connected account.
// Stale values are tolerated; every call still verifies the connection.
type AccountCache struct {
	mu     sync.RWMutex
	active string
}

func NewAccountCache() *AccountCache {
	return &AccountCache{}
}

func (c *AccountCache) Active() string {
	if c == nil {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *AccountCache) Set(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = strings.TrimSpace(userID)
}

func (c *AccountCache) Clear() {
	c.Set("")
}
