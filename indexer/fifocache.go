package indexer

import "container/list"

// fifoCache is a bounded key/value cache that evicts the oldest entry
// once maxSize is reached, used to avoid re-querying the catalog for a
// directory's id while its children are being walked (spec.md §4.7).
type fifoCache struct {
	maxSize int
	order   *list.List
	index   map[string]*list.Element
}

type fifoEntry struct {
	key   string
	value int64
}

func newFIFOCache(maxSize int) *fifoCache {
	return &fifoCache{
		maxSize: maxSize,
		order:   list.New(),
		index:   make(map[string]*list.Element, maxSize),
	}
}

// Get returns the cached value for key and whether it was present.
func (c *fifoCache) Get(key string) (int64, bool) {
	el, ok := c.index[key]
	if !ok {
		return 0, false
	}
	return el.Value.(*fifoEntry).value, true
}

// Set stores value under key, evicting the oldest entry if the cache is
// already at capacity.
func (c *fifoCache) Set(key string, value int64) {
	if el, ok := c.index[key]; ok {
		el.Value.(*fifoEntry).value = value
		return
	}
	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(*fifoEntry).key)
		}
	}
	c.index[key] = c.order.PushBack(&fifoEntry{key: key, value: value})
}
