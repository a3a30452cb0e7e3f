// Package clientcache holds the per-user authenticated serving clients.
//
// Entries live for the process lifetime only; nothing is rehydrated from the
// mapping store on restart. The cache is injected into both the provisioning
// orchestrator and the request router rather than living as a package
// singleton, so tests can isolate state.
package clientcache

import (
	"sync"

	"github.com/ferrolab/agentgate/internal/services/gateway/serving"
)

// Cache maps user ids to principal-bound serving clients.
type Cache struct {
	mu      sync.RWMutex
	clients map[string]*serving.Client
}

// New builds an empty cache.
func New() *Cache {
	return &Cache{clients: make(map[string]*serving.Client)}
}

// Get returns the cached client for userID, or nil when none exists.
func (c *Cache) Get(userID string) *serving.Client {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clients[userID]
}

// Put stores the client for userID, overwriting any prior entry.
func (c *Cache) Put(userID string, client *serving.Client) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[userID] = client
}

// Len reports the number of cached clients.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}
