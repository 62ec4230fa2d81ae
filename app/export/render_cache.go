package export

import (
	"sync"
	"time"
)

// RenderedFeed is one exporter's materialized output.
type RenderedFeed struct {
	XML        string
	ItemCount  int
	RenderedAt time.Time
}

// RenderCache holds the latest rendering per bucket, served by the HTTP
// surface. Replaced wholesale on each export pass.
type RenderCache struct {
	mu       sync.RWMutex
	byBucket map[string]RenderedFeed
}

func NewRenderCache() *RenderCache {
	return &RenderCache{
		byBucket: make(map[string]RenderedFeed),
	}
}

func (c *RenderCache) Put(bucketID string, rendered RenderedFeed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byBucket[bucketID] = rendered
}

func (c *RenderCache) Get(bucketID string) (RenderedFeed, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rendered, ok := c.byBucket[bucketID]
	return rendered, ok
}
