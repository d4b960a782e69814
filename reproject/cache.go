package reproject

import "sync"

// Cache holds one Transform per normalised source CRS. Transforms are
// constructed on first use and reused afterwards.
type Cache struct {
	mu         sync.Mutex
	build      func(code string) (Transform, error)
	transforms map[string]Transform
}

// NewCache returns a cache backed by New.
func NewCache() *Cache {
	return NewCacheWith(New)
}

// NewCacheWith returns a cache that constructs transforms with build.
func NewCacheWith(build func(code string) (Transform, error)) *Cache {
	return &Cache{
		build:      build,
		transforms: make(map[string]Transform),
	}
}

// Get returns the cached transform for code, constructing it if needed.
// Failed constructions are not cached.
func (c *Cache) Get(code string) (Transform, error) {
	key := NormalizeCRS(code)

	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.transforms[key]; ok {
		return t, nil
	}
	t, err := c.build(key)
	if err != nil {
		return nil, err
	}
	c.transforms[key] = t
	return t, nil
}

// Len returns the number of cached transforms.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transforms)
}
