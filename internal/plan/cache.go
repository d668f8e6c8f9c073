package plan

import (
	"sync"

	"PL-64/internal/ir"
)

type cacheKey struct {
	sig ir.Signature
	cfg Config
}

// Cache holds schedules keyed by the structural signature of
// (iteration set, reduction maps). A schedule stays valid until the
// map contents change, which callers signal with Invalidate.
type Cache struct {
	mu sync.Mutex
	m  map[cacheKey]*Schedule
}

func NewCache() *Cache {
	return &Cache{
		m: make(map[cacheKey]*Schedule),
	}
}

func (c *Cache) Get(pl *ir.ParLoop, cfg Config) (*Schedule, error) {
	key := cacheKey{sig: pl.PlanSig(), cfg: cfg}
	c.mu.Lock()
	sch, ok := c.m[key]
	c.mu.Unlock()
	if ok {
		return sch, nil
	}
	sch, err := Build(pl, cfg)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if prev, ok := c.m[key]; ok {
		sch = prev
	} else {
		c.m[key] = sch
	}
	c.mu.Unlock()
	return sch, nil
}

func (c *Cache) Invalidate(sig ir.Signature) {
	c.mu.Lock()
	for key := range c.m {
		if key.sig == sig {
			delete(c.m, key)
		}
	}
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	n := len(c.m)
	c.mu.Unlock()
	return n
}
