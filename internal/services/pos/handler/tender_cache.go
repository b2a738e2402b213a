package handler

import (
	"container/list"
	"sync"
)

const DEFAULT_TENDER_CACHE_SIZE = 512

// TenderCache remembers POS orders known to carry a cash tender. It holds at
// most size entries and evicts the least recently used one.
type TenderCache struct {
	mu    sync.Mutex
	size  int
	order *list.List
	items map[string]*list.Element
}

func NewTenderCache(size int) *TenderCache {
	if size <= 0 {
		size = DEFAULT_TENDER_CACHE_SIZE
	}
	return &TenderCache{
		size:  size,
		order: list.New(),
		items: make(map[string]*list.Element, size),
	}
}

func (c *TenderCache) Has(cloverOrderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[cloverOrderID]
	if ok {
		c.order.MoveToFront(el)
	}
	return ok
}

func (c *TenderCache) Add(cloverOrderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[cloverOrderID]; ok {
		c.order.MoveToFront(el)
		return
	}
	c.items[cloverOrderID] = c.order.PushFront(cloverOrderID)

	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(string))
	}
}

func (c *TenderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
