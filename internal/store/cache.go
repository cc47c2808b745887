package store

import (
	"container/list"

	"github.com/google/uuid"

	"github.com/ci-fuzz/vast/internal/segment"
)

// segmentCache is an LRU cache of decoded segments, bounded by segment
// count. The cache uniquely owns each decoded segment; callers receive a
// shared read-only view.
type segmentCache struct {
	capacity int

	// items maps segment UUID → list element (whose value is *cacheItem)
	items map[uuid.UUID]*list.Element
	order *list.List // front = most recently used
}

type cacheItem struct {
	id      uuid.UUID
	segment *segment.Segment
}

// newSegmentCache creates an LRU cache holding at most capacity segments.
func newSegmentCache(capacity int) *segmentCache {
	if capacity <= 0 {
		capacity = 10
	}
	return &segmentCache{
		capacity: capacity,
		items:    make(map[uuid.UUID]*list.Element),
		order:    list.New(),
	}
}

// get returns a cached segment, promoting it to most recently used.
func (c *segmentCache) get(id uuid.UUID) *segment.Segment {
	elem, ok := c.items[id]
	if !ok {
		return nil
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheItem).segment
}

// put inserts a decoded segment, evicting the least recently used entry
// when at capacity.
func (c *segmentCache) put(seg *segment.Segment) {
	if elem, ok := c.items[seg.ID()]; ok {
		c.order.MoveToFront(elem)
		return
	}
	for len(c.items) >= c.capacity {
		c.evictOldest()
	}
	elem := c.order.PushFront(&cacheItem{id: seg.ID(), segment: seg})
	c.items[seg.ID()] = elem
}

// drop removes a specific segment from the cache.
func (c *segmentCache) drop(id uuid.UUID) {
	if elem, ok := c.items[id]; ok {
		c.order.Remove(elem)
		delete(c.items, id)
	}
}

// contains reports whether a segment is resident.
func (c *segmentCache) contains(id uuid.UUID) bool {
	_, ok := c.items[id]
	return ok
}

// len returns the number of resident segments.
func (c *segmentCache) len() int {
	return len(c.items)
}

// resident returns the resident UUIDs in MRU order.
func (c *segmentCache) resident() []uuid.UUID {
	out := make([]uuid.UUID, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(*cacheItem).id)
	}
	return out
}

// clear evicts everything.
func (c *segmentCache) clear() {
	c.items = make(map[uuid.UUID]*list.Element)
	c.order.Init()
}

func (c *segmentCache) evictOldest() {
	back := c.order.Back()
	if back == nil {
		return
	}
	item := back.Value.(*cacheItem)
	c.order.Remove(back)
	delete(c.items, item.id)
}
