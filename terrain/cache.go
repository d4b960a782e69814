package terrain

import (
	"sync"

	"github.com/signalsfoundry/terrainview/scene"
)

// providerCache holds loaded providers per scene instance and scenario key.
// Entries for destroyed scenes are pruned on every access so that nothing
// outlives its scene.
type providerCache struct {
	mu      sync.Mutex
	byScene map[scene.Scene]map[string]Provider
}

func newProviderCache() *providerCache {
	return &providerCache{byScene: make(map[scene.Scene]map[string]Provider)}
}

func (c *providerCache) get(s scene.Scene, key string) (Provider, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()

	p, ok := c.byScene[s][key]
	return p, ok
}

func (c *providerCache) put(s scene.Scene, key string, p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()

	if !scene.Alive(s) {
		return
	}
	entries, ok := c.byScene[s]
	if !ok {
		entries = make(map[string]Provider)
		c.byScene[s] = entries
	}
	entries[key] = p
}

func (c *providerCache) forget(s scene.Scene) {
	c.mu.Lock()
	delete(c.byScene, s)
	c.mu.Unlock()
}

func (c *providerCache) scenes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	return len(c.byScene)
}

func (c *providerCache) pruneLocked() {
	for s := range c.byScene {
		if s.IsDestroyed() {
			delete(c.byScene, s)
		}
	}
}
