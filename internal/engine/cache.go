package engine

import (
	"slices"
	"sync"

	"github.com/wanyview/kaidison-system/internal/model"
)

// fifoCache holds recently written records and evicts the oldest insert
// once full. Reads never reorder it.
type fifoCache struct {
	mu    sync.Mutex
	size  int
	items map[string]model.Record
	order []string
}

func newFIFOCache(size int) *fifoCache {
	return &fifoCache{size: size, items: map[string]model.Record{}}
}

func (c *fifoCache) put(rec model.Record) {
	if c.size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[rec.ID]; !ok {
		c.order = append(c.order, rec.ID)
	}
	c.items[rec.ID] = rec
	for len(c.order) > c.size {
		delete(c.items, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *fifoCache) get(id string) (model.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.items[id]
	return rec, ok
}

func (c *fifoCache) drop(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := c.items[id]; ok {
			gone[id] = true
			delete(c.items, id)
		}
	}
	if len(gone) > 0 {
		c.order = slices.DeleteFunc(c.order, func(id string) bool { return gone[id] })
	}
}

func (c *fifoCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = map[string]model.Record{}
	c.order = nil
}

func (c *fifoCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
